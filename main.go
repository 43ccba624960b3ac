package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"google.golang.org/genai"

	"github.com/groupgpt/server/internal/assistant/graph"
	"github.com/groupgpt/server/internal/assistant/model"
	"github.com/groupgpt/server/internal/assistant/repo"
	"github.com/groupgpt/server/internal/assistant/sandbox"
	"github.com/groupgpt/server/internal/assistant/search"
	"github.com/groupgpt/server/internal/core"
	logx "github.com/groupgpt/server/pkg/logger"
	pkgpostgres "github.com/groupgpt/server/pkg/postgres"
	pkgredis "github.com/groupgpt/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the assistant example,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	// Infrastructure
	Postgres pkgpostgres.Config
	Redis    pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Assistant configs
	Response     model.ResponseModelConfig
	Conversation model.ConversationConfig
	Retrieval    model.RetrievalConfig
	WebSearch    model.WebSearchConfig
	CodeRunner   model.CodeRunnerConfig
}

func main() {
	fmt.Println("Testing GroupGPT response graph...")
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	pool, err := envCfg.Postgres.New(ctx)
	if err != nil {
		log.Fatalf("Failed to initialise Postgres pool: %v", err)
	}
	defer pool.Close()

	rdb, err := envCfg.Redis.New(ctx)
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	fmt.Println("Connected to Postgres and Redis successfully")

	// ====================================================
	// Build the assistant entirely from env

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  envCfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}

	cacheTTL, err := time.ParseDuration(envCfg.Retrieval.EmbedCacheTTL)
	if err != nil {
		log.Fatalf("Invalid RETRIEVAL_EMBED_CACHE_TTL '%s': %v", envCfg.Retrieval.EmbedCacheTTL, err)
	}

	runTimeout, err := time.ParseDuration(envCfg.CodeRunner.Timeout)
	if err != nil {
		log.Fatalf("Invalid CODE_RUNNER_TIMEOUT '%s': %v", envCfg.CodeRunner.Timeout, err)
	}

	embedder := repo.NewCachedEmbedder(
		repo.NewGeminiEmbedder(client, envCfg.Retrieval.EmbeddingModel),
		rdb,
		envCfg.Retrieval.EmbeddingModel,
		cacheTTL,
	)

	web, err := search.NewWebSearchProvider(search.Provider(envCfg.WebSearch.Provider), envCfg.WebSearch.APIKey)
	if err != nil {
		log.Fatalf("Failed to create web search provider: %v", err)
	}

	cfg := graph.Config{
		APIKey:        envCfg.APIKey,
		BaseURL:       envCfg.BaseURL,
		ResponseModel: envCfg.Response,
		Conversation:  envCfg.Conversation,
		Retrieval:     envCfg.Retrieval,
		WebSearch:     envCfg.WebSearch,
		Messages:      repo.NewPostgresMessageStore(pool),
		Knowledge:     repo.NewPostgresKnowledgeStore(pool, envCfg.Retrieval.CandidatePool),
		Embedder:      embedder,
		Web:           web,
		Academic:      search.NewArxivSearch(3),
		Runner:        sandbox.NewInterpreterRunner(envCfg.CodeRunner.Interpreter, runTimeout),
	}

	assistant, err := graph.BuildAssistant(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build assistant: %v", err)
	}

	testQueries := []struct {
		description string
		query       string
		flags       model.FeatureFlags
	}{
		{
			description: "Plain question, history only",
			query:       "@groupgpt what did we decide about the study group schedule?",
		},
		{
			description: "Knowledge retrieval over ingested notes",
			query:       "@groupgpt summarize the key points from the lecture slides",
			flags:       model.FeatureFlags{UseKnowledgeRetrieval: true},
		},
		{
			description: "Web search for current information",
			query:       "@groupgpt what's new in the latest Go release?",
			flags:       model.FeatureFlags{UseWebSearch: true},
		},
	}

	chatroomID := "test-chatroom-123451"

	for i, test := range testQueries {
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Query: %q\n", test.query)
		fmt.Println("Processing...")

		response := assistant.ProcessQuery(ctx, model.QueryInput{
			Username:   "demo-user",
			ChatroomID: chatroomID,
			Query:      test.query,
			Flags:      test.flags,
		})

		fmt.Printf("Response %d: %s\n", i+1, response)
		fmt.Println("------------------------------------------------")

		// slight delay between tests for readability
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("All graph tests completed.")
}
