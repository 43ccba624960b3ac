package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/graph/conversations"
	"github.com/groupgpt/server/internal/assistant/graph/nodes"
	"github.com/groupgpt/server/internal/assistant/graph/observers"
	"github.com/groupgpt/server/internal/assistant/graph/tools"
	"github.com/groupgpt/server/internal/assistant/model"
	logx "github.com/groupgpt/server/pkg/logger"
)

// FallbackResponse is returned (and persisted) when response generation fails.
const FallbackResponse = "I apologize, but I encountered an error while generating a response. Please try again."

// Assistant answers chatroom queries through the compiled response graph.
type Assistant interface {
	// ProcessQuery runs a query end to end and always returns a response
	// string, falling back to an apology when generation fails.
	ProcessQuery(ctx context.Context, in model.QueryInput) string
}

// Config holds everything needed to compose the full response graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs ChatModels
// and the MessagesManager.
type Config struct {
	APIKey        string
	BaseURL       string
	ResponseModel model.ResponseModelConfig
	Conversation  model.ConversationConfig
	Retrieval     model.RetrievalConfig
	WebSearch     model.WebSearchConfig

	Messages  model.MessageStore
	Knowledge model.KnowledgeSearcher
	Embedder  model.Embedder
	Web       model.WebSearchProvider
	Academic  model.AcademicSearchProvider
	Runner    model.CodeRunner
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModels      *nodes.ChatModels
	MessagesManager *conversations.MessagesManager
	ToolDeps        tools.Deps
	Knowledge       struct {
		NumChunks int
	}
	WebSearch struct {
		NumResults int
	}
	ToolMaxCalls int
}

// GraphBuilder handles the construction of the assistant response graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.QueryInput, *schema.Message]
}

type assistant struct {
	runnable compose.Runnable[model.QueryInput, *schema.Message]
	mm       *conversations.MessagesManager
}

func (a *assistant) ProcessQuery(ctx context.Context, in model.QueryInput) string {
	in.Query = model.StripMention(in.Query)

	content := a.generate(ctx, in)
	content = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content), model.AssistantUsername+":"))
	if content == "" {
		content = FallbackResponse
	}

	// Never persist on a dead context: the caller has gone away and a partial
	// result must not land in the chatroom.
	if ctx.Err() != nil {
		return content
	}

	if err := a.mm.SaveResponse(ctx, in.ChatroomID, content); err != nil {
		logx.Error().
			Str("chatroom_id", in.ChatroomID).
			Err(err).
			Msg("Error saving assistant response")
	}

	return content
}

func (a *assistant) generate(ctx context.Context, in model.QueryInput) (content string) {
	// A panic in any collaborator must not escape: the caller is promised a
	// string, not a crash.
	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Str("chatroom_id", in.ChatroomID).
				Interface("panic", r).
				Msg("Error generating response")
			content = FallbackResponse
		}
	}()

	out, err := a.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().
			Str("chatroom_id", in.ChatroomID).
			Err(err).
			Msg("Error generating response")
		return FallbackResponse
	}
	if out == nil {
		return FallbackResponse
	}
	return out.Content
}

// BuildAssistant composes ChatModels and the MessagesManager, builds the
// graph, and returns a ready Assistant.
func BuildAssistant(ctx context.Context, cfg Config) (Assistant, error) {
	if cfg.Messages == nil {
		return nil, fmt.Errorf("message store is nil")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		RespConfig: &cfg.ResponseModel,
	})
	if err != nil {
		return nil, err
	}

	mm := conversations.NewMessagesManager(cfg.Messages, cfg.ResponseModel)

	gc := &GraphConfig{
		ChatModels:      cms,
		MessagesManager: mm,
		ToolDeps: tools.Deps{
			Embedder:          cfg.Embedder,
			Knowledge:         cfg.Knowledge,
			Web:               cfg.Web,
			Academic:          cfg.Academic,
			Runner:            cfg.Runner,
			DefaultNumChunks:  cfg.Retrieval.NumChunks,
			DefaultNumResults: cfg.WebSearch.NumResults,
		},
		ToolMaxCalls: cfg.Conversation.Tools.MaxCalls,
	}
	gc.Knowledge.NumChunks = cfg.Retrieval.NumChunks
	gc.WebSearch.NumResults = cfg.WebSearch.NumResults

	runnable, err := BuildGraph(ctx, gc)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Response graph built successfully")
	return &assistant{runnable: runnable, mm: mm}, nil
}

// BuildGraph constructs and returns the compiled response graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Response == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.MessagesManager == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.QueryInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.ChatState {
				return &model.ChatState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// setupTools configures the query tools and binds them to the response model
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	queryTools := tools.GetQueryTools(b.config.ToolDeps)
	toolInfos, err := tools.GetToolInfos(ctx, queryTools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return fmt.Errorf("failed to get tool infos: %w", err)
	}

	if err := b.config.ChatModels.BindToolsToResponseModel(ctx, toolInfos); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to response model")
		return fmt.Errorf("failed to bind tools to response model: %w", err)
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               queryTools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Gracefully handle hallucinated or malformed tool calls (e.g., empty name)
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
		},
		ToolArgumentsHandler: b.toolArgumentsHandler,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler()),
	)

	return nil
}

// toolArgumentsHandler sanitizes model-supplied arguments and injects the
// chatroom scoping key. The model never provides the chatroom id itself; it
// always comes from the request state so retrieval cannot cross rooms.
func (b *GraphBuilder) toolArgumentsHandler(ctx context.Context, name, arguments string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		// keep original if not JSON
		return arguments, nil
	}

	if v, ok := m["query"]; ok {
		switch vv := v.(type) {
		case string:
			m["query"] = strings.TrimSpace(vv)
		default:
			m["query"] = strings.TrimSpace(fmt.Sprint(v))
		}
	}

	switch name {
	case tools.ToolChunkRetriever:
		var chatroomID string
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.ChatState) error {
			chatroomID = state.ChatroomID
			return nil
		}); err != nil {
			return arguments, nil
		}
		m["chatroom_id"] = chatroomID
		sanitizeCount(m, "num_chunks")
	case tools.ToolWebSearch:
		sanitizeCount(m, "num_results")
	}

	out, err := json.Marshal(m)
	if err != nil {
		return arguments, nil
	}
	return string(out), nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	b.graph.AddLambdaNode(nodes.NodeHistoryFetcher,
		nodes.NewHistoryFetcherNode(b.config.MessagesManager),
		compose.WithStatePreHandler(nodes.NewHistoryFetcherPreHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeKnowledgeRetriever,
		nodes.NewKnowledgeRetrieverNode(b.config.ToolDeps.Embedder, b.config.ToolDeps.Knowledge, b.config.Knowledge.NumChunks),
	)

	b.graph.AddLambdaNode(nodes.NodeWebSearcher,
		nodes.NewWebSearcherNode(b.config.ToolDeps.Web, b.config.WebSearch.NumResults),
	)

	b.graph.AddLambdaNode(nodes.NodeResponseAssembler,
		nodes.NewResponseAssemblerNode(),
	)

	b.graph.AddChatModelNode(nodes.NodeResponseChatModel,
		b.config.ChatModels.Response,
		compose.WithStatePreHandler(nodes.NewResponseChatModelPreHandler(b.config.ToolMaxCalls)),
		compose.WithStatePostHandler(nodes.NewResponseChatModelPostHandler()),
	)
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{nodes.NodeHistoryFetcher, nodes.NodeResponseAssembler},
		{nodes.NodeKnowledgeRetriever, nodes.NodeResponseAssembler},
		{nodes.NodeWebSearcher, nodes.NodeResponseAssembler},
		{nodes.NodeResponseAssembler, nodes.NodeResponseChatModel},
		{nodes.NodeToolExecutor, nodes.NodeResponseChatModel},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	// Fan-out from the start: history always runs, retrieval and web search
	// only when the request asks for them. All selected nodes run in the same
	// super-step, so the assembler sees every contribution at once.
	fetchBranch := compose.NewGraphMultiBranch(
		func(ctx context.Context, in model.QueryInput) (map[string]bool, error) {
			targets := map[string]bool{nodes.NodeHistoryFetcher: true}
			if in.Flags.UseKnowledgeRetrieval {
				targets[nodes.NodeKnowledgeRetriever] = true
			}
			if in.Flags.UseWebSearch {
				targets[nodes.NodeWebSearcher] = true
			}
			logx.Debug().
				Bool("use_knowledge_retrieval", in.Flags.UseKnowledgeRetrieval).
				Bool("use_web_search", in.Flags.UseWebSearch).
				Msg("fetch fan-out selected")
			return targets, nil
		},
		map[string]bool{
			nodes.NodeHistoryFetcher:     true,
			nodes.NodeKnowledgeRetriever: true,
			nodes.NodeWebSearcher:        true,
		},
	)
	if err := b.graph.AddBranch(compose.START, fetchBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding fetch fan-out branch")
		return fmt.Errorf("error adding fetch fan-out branch: %w", err)
	}

	decisionBranch := compose.NewGraphBranch(
		nodes.NewToolExecutorCondition(),
		map[string]bool{
			nodes.NodeToolExecutor: true,
			compose.END:            true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeResponseChatModel, decisionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding decision branch")
		return fmt.Errorf("error adding decision branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	// Limit total run steps to avoid infinite loops in branching or tool retries
	maxSteps := 10 + b.config.ToolMaxCalls*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

// sanitizeCount coerces a numeric argument to a bounded positive int,
// removing it when unusable so the tool default applies.
func sanitizeCount(m map[string]any, key string) {
	v, ok := m[key]
	if !ok {
		return
	}
	switch vv := v.(type) {
	case float64:
		// JSON numbers decode as float64
		m[key] = clampInt(int(vv), 1, 20)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
			m[key] = clampInt(n, 1, 20)
		} else {
			delete(m, key)
		}
	default:
		delete(m, key)
	}
}

// clampInt returns v limited to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
