package model

// ================ Config ================

type ResponseModelConfig struct {
	Model          string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"RESPONSE_MAX_TOKENS" default:"4000"`
	Temperature    float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
	MaxInputTokens int     `envconfig:"RESPONSE_MAX_INPUT_TOKENS" default:"65536"`
}

type ConversationConfig struct {
	Tools struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"10"`
	}
}

type RetrievalConfig struct {
	EmbeddingModel string `envconfig:"RETRIEVAL_EMBEDDING_MODEL" default:"text-embedding-004"`
	NumChunks      int    `envconfig:"RETRIEVAL_NUM_CHUNKS" default:"5"`
	CandidatePool  int    `envconfig:"RETRIEVAL_CANDIDATE_POOL" default:"60"`
	EmbedCacheTTL  string `envconfig:"RETRIEVAL_EMBED_CACHE_TTL" default:"1h"`
}

type WebSearchConfig struct {
	Provider   string `envconfig:"WEB_SEARCH_PROVIDER" default:"serper"`
	APIKey     string `envconfig:"WEB_SEARCH_API_KEY"`
	NumResults int    `envconfig:"WEB_SEARCH_NUM_RESULTS" default:"5"`
}

type CodeRunnerConfig struct {
	Interpreter string `envconfig:"CODE_RUNNER_INTERPRETER" default:"python3"`
	Timeout     string `envconfig:"CODE_RUNNER_TIMEOUT" default:"30s"`
}
