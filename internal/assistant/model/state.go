package model

import (
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// AssistantUsername is the well-known identity the assistant posts under, and
// the author name that marks a history row as an assistant turn.
const AssistantUsername = "GroupGPT"

// MentionToken is the marker users include to address the assistant.
const MentionToken = "@groupgpt"

// FeatureFlags select which optional fetch nodes run for a request.
type FeatureFlags struct {
	UseKnowledgeRetrieval bool `json:"use_knowledge_retrieval"`
	UseWebSearch          bool `json:"use_web_search"`
}

// Attachment is a file the user attached to the triggering message,
// already encoded for direct inclusion in a model request.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// QueryInput is the single entry point payload for processing a user query.
type QueryInput struct {
	Username   string       `json:"username"`
	ChatroomID string       `json:"chatroom_id"`
	Query      string       `json:"query"`
	Flags      FeatureFlags `json:"flags"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChatState stores per-invocation state for the assistant graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as it is never touched outside handlers.
type ChatState struct {
	Username       string
	ChatroomID     string
	Query          string
	RewrittenQuery string
	Flags          FeatureFlags
	Attachments    []Attachment

	// Contributions gathered by the fetch nodes, copied from their deltas
	// at the join so the synthesizer and persistence hooks can read them.
	ChatHistory    []*schema.Message
	DocumentChunks []DocumentChunk
	WebResults     []WebResult

	// Tool loop bookkeeping.
	History       []*schema.Message // model-call transcript, handlers only
	ModelCalls    int               // response model invocations this request
	LimitReached  bool              // set when the model-call budget is spent
	ToolCallIDSeq int               // synthesizes tool_call_id when the provider omits it
}

// EffectiveQuery returns the latest available query variant: the rewritten
// form when present, otherwise the raw query.
func (s *ChatState) EffectiveQuery() string {
	if q := strings.TrimSpace(s.RewrittenQuery); q != "" {
		return q
	}
	return s.Query
}

// StateDelta is the partial update a fetch node emits. Nodes never mutate
// shared state directly; their deltas are merged at the join barrier by
// concatenating the list-valued fields.
type StateDelta struct {
	ChatHistory    []*schema.Message
	DocumentChunks []DocumentChunk
	WebResults     []WebResult
}

func init() {
	// Fan-in merge for the join barrier: deltas from parallel fetch nodes are
	// combined by concatenation, preserving each node's internal ordering.
	compose.RegisterValuesMergeFunc(MergeDeltas)
}

// MergeDeltas combines partial updates from parallel fetch nodes into one.
func MergeDeltas(deltas []*StateDelta) (*StateDelta, error) {
	merged := &StateDelta{}
	for _, d := range deltas {
		if d == nil {
			continue
		}
		merged.ChatHistory = append(merged.ChatHistory, d.ChatHistory...)
		merged.DocumentChunks = append(merged.DocumentChunks, d.DocumentChunks...)
		merged.WebResults = append(merged.WebResults, d.WebResults...)
	}
	return merged, nil
}

// StripMention removes the first assistant mention from the query text.
func StripMention(query string) string {
	lower := strings.ToLower(query)
	if i := strings.Index(lower, MentionToken); i >= 0 {
		query = query[:i] + query[i+len(MentionToken):]
	}
	return strings.TrimSpace(query)
}

// StripAllMentions removes every assistant mention from the query text,
// case-insensitively. External search providers should never see the
// mention token.
func StripAllMentions(query string) string {
	lower := strings.ToLower(query)
	var b strings.Builder
	last := 0
	for {
		i := strings.Index(lower[last:], MentionToken)
		if i < 0 {
			b.WriteString(query[last:])
			break
		}
		b.WriteString(query[last : last+i])
		last += i + len(MentionToken)
	}
	return strings.TrimSpace(b.String())
}
