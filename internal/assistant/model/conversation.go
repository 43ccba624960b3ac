package model

import (
	"context"
	"time"
)

// ChatMessage is one persisted chatroom message in chronological order.
type ChatMessage struct {
	Username  string
	Content   string
	CreatedAt time.Time
}

// DocumentChunk is a retrieved span of ingested document text with provenance.
type DocumentChunk struct {
	SourceName     string  `json:"source_name"`
	RelevanceScore float64 `json:"relevance_score"`
	Content        string  `json:"content"`
}

// WebResult is one ranked result from an external search provider.
type WebResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// MessageStore persists and retrieves chatroom messages.
type MessageStore interface {
	// FetchMessages returns the full message history of a chatroom in
	// chronological order; an empty slice when there are none.
	FetchMessages(ctx context.Context, chatroomID string) ([]ChatMessage, error)

	// InsertMessage appends one message authored by the given username.
	InsertMessage(ctx context.Context, chatroomID, username, content string) error
}

// KnowledgeSearcher performs hybrid (lexical + vector) retrieval scoped to a
// chatroom's knowledge base. Results are ranked by fused score with a stable
// secondary ordering so identical inputs yield identical output.
type KnowledgeSearcher interface {
	HybridSearch(ctx context.Context, chatroomID string, queryEmbedding []float32, queryText string, k int) ([]DocumentChunk, error)
}

// Embedder computes a fixed-length dense vector for a text. Implementations
// must be deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WebSearchProvider performs an external web search.
type WebSearchProvider interface {
	Search(ctx context.Context, query string, k int) ([]WebResult, error)
}

// AcademicSearchProvider searches a scholarly index and returns a formatted
// text blob, or ErrNoPapers-style sentinel text when nothing matches.
type AcademicSearchProvider interface {
	Search(ctx context.Context, query string) (string, error)
}

// CodeRunner executes a snippet in an isolated interpreter and returns the
// captured standard output.
type CodeRunner interface {
	Run(ctx context.Context, code string) (string, error)
}
