package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupgpt/server/internal/assistant/graph/conversations"
	"github.com/groupgpt/server/internal/assistant/graph/nodes"
	"github.com/groupgpt/server/internal/assistant/graph/tools"
	"github.com/groupgpt/server/internal/assistant/model"
)

// scriptedModel returns canned responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	calls     [][]*schema.Message
	generrs   []error
	bound     []*schema.ToolInfo
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]*schema.Message, len(in))
	copy(copied, in)
	m.calls = append(m.calls, copied)

	idx := len(m.calls) - 1
	if idx < len(m.generrs) && m.generrs[idx] != nil {
		return nil, m.generrs[idx]
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

func (m *scriptedModel) BindTools(infos []*schema.ToolInfo) error {
	m.bound = infos
	return nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) call(i int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

type recordingStore struct {
	mu       sync.Mutex
	messages []model.ChatMessage
	inserted []model.ChatMessage
}

func (s *recordingStore) FetchMessages(ctx context.Context, chatroomID string) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages, nil
}

func (s *recordingStore) InsertMessage(ctx context.Context, chatroomID, username, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, model.ChatMessage{Username: username, Content: content})
	return nil
}

func (s *recordingStore) insertedMessages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}

type recordingEmbedder struct{ calls int }

func (e *recordingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

type recordingKnowledge struct {
	chunks   []model.DocumentChunk
	err      error
	panicMsg string
	calls    int
}

func (k *recordingKnowledge) HybridSearch(ctx context.Context, chatroomID string, queryEmbedding []float32, queryText string, n int) ([]model.DocumentChunk, error) {
	k.calls++
	if k.panicMsg != "" {
		panic(k.panicMsg)
	}
	return k.chunks, k.err
}

type recordingWeb struct {
	results []model.WebResult
	queries []string
	calls   int
}

func (w *recordingWeb) Search(ctx context.Context, query string, k int) ([]model.WebResult, error) {
	w.calls++
	w.queries = append(w.queries, query)
	return w.results, nil
}

type staticAcademic struct{}

func (staticAcademic) Search(ctx context.Context, query string) (string, error) {
	return "No arXiv results found.", nil
}

type staticRunner struct{}

func (staticRunner) Run(ctx context.Context, code string) (string, error) {
	return "ok\n", nil
}

type fixture struct {
	assistant *assistant
	chat      *scriptedModel
	store     *recordingStore
	knowledge *recordingKnowledge
	web       *recordingWeb
	embedder  *recordingEmbedder
}

func newFixture(t *testing.T, chat *scriptedModel, maxToolCalls int) *fixture {
	t.Helper()

	store := &recordingStore{}
	knowledge := &recordingKnowledge{}
	web := &recordingWeb{}
	embedder := &recordingEmbedder{}

	mm := conversations.NewMessagesManager(store, model.ResponseModelConfig{MaxInputTokens: 65536})

	gc := &GraphConfig{
		ChatModels:      &nodes.ChatModels{Response: chat, ResponseModelName: "stub"},
		MessagesManager: mm,
		ToolDeps: tools.Deps{
			Embedder:          embedder,
			Knowledge:         knowledge,
			Web:               web,
			Academic:          staticAcademic{},
			Runner:            staticRunner{},
			DefaultNumChunks:  5,
			DefaultNumResults: 5,
		},
		ToolMaxCalls: maxToolCalls,
	}
	gc.Knowledge.NumChunks = 5
	gc.WebSearch.NumResults = 5

	runnable, err := BuildGraph(context.Background(), gc)
	require.NoError(t, err)

	return &fixture{
		assistant: &assistant{runnable: runnable, mm: mm},
		chat:      chat,
		store:     store,
		knowledge: knowledge,
		web:       web,
		embedder:  embedder,
	}
}

func finalAnswer(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

func toolCallAnswer(content, tool, args string) *schema.Message {
	return &schema.Message{
		Role:    schema.Assistant,
		Content: content,
		ToolCalls: []schema.ToolCall{{
			Function: schema.FunctionCall{Name: tool, Arguments: args},
		}},
	}
}

func TestProcessQueryEndToEnd(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("The capital of France is Paris.")}}
	f := newFixture(t, chat, 10)

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt what is the capital of France?",
	})

	assert.Equal(t, "The capital of France is Paris.", out)

	inserted := f.store.insertedMessages()
	require.Len(t, inserted, 1)
	assert.Equal(t, model.AssistantUsername, inserted[0].Username)
	assert.Equal(t, "The capital of France is Paris.", inserted[0].Content)

	// The triggering question reaches the model with the mention stripped.
	require.Equal(t, 1, chat.callCount())
	msgs := chat.call(0)
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.User, last.Role)
	assert.Equal(t, "alice: what is the capital of France?", last.Content)
}

func TestJoinBarrierFlagCombinations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		flags         model.FeatureFlags
		wantKnowledge int
		wantWeb       int
	}{
		{"both disabled", model.FeatureFlags{}, 0, 0},
		{"knowledge only", model.FeatureFlags{UseKnowledgeRetrieval: true}, 1, 0},
		{"web only", model.FeatureFlags{UseWebSearch: true}, 0, 1},
		{"both enabled", model.FeatureFlags{UseKnowledgeRetrieval: true, UseWebSearch: true}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chat := &scriptedModel{responses: []*schema.Message{finalAnswer("done")}}
			f := newFixture(t, chat, 10)
			f.knowledge.chunks = []model.DocumentChunk{
				{SourceName: "notes.pdf", RelevanceScore: 0.91, Content: "Paris is the capital."},
			}
			f.web.results = []model.WebResult{
				{Title: "Paris", Link: "https://example.com", Snippet: "capital"},
			}

			out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
				Username:   "alice",
				ChatroomID: "room1",
				Query:      "@groupgpt tell me about Paris",
				Flags:      tt.flags,
			})
			assert.Equal(t, "done", out)

			assert.Equal(t, tt.wantKnowledge, f.knowledge.calls)
			assert.Equal(t, tt.wantWeb, f.web.calls)

			system := f.chat.call(0)[0]
			require.Equal(t, schema.System, system.Role)
			if tt.flags.UseKnowledgeRetrieval {
				assert.Contains(t, system.Content, "notes.pdf")
				assert.Contains(t, system.Content, "0.91")
			} else {
				assert.Contains(t, system.Content, "knowledge retrieval not enabled")
				assert.NotContains(t, system.Content, "notes.pdf")
			}
			if tt.flags.UseWebSearch {
				assert.Contains(t, system.Content, "https://example.com")
			} else {
				assert.Contains(t, system.Content, "web search not enabled")
			}
		})
	}
}

func TestToolLoopBound(t *testing.T) {
	t.Parallel()

	const maxCalls = 3

	// The model keeps asking for web searches no matter what it gets back.
	greedy := toolCallAnswer("Partial findings so far.", tools.ToolWebSearch, `{"query":"more"}`)
	chat := &scriptedModel{responses: []*schema.Message{greedy}}
	f := newFixture(t, chat, maxCalls)
	f.web.results = []model.WebResult{{Title: "t", Link: "l", Snippet: "s"}}

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt research everything",
	})

	assert.Equal(t, maxCalls, chat.callCount())
	assert.Equal(t, "Partial findings so far.", out)

	// The final budgeted invocation carries the wrap-up notice.
	lastCall := f.chat.call(maxCalls - 1)
	var noticed bool
	for _, m := range lastCall {
		if m.Role == schema.System && m != lastCall[0] {
			assert.Contains(t, m.Content, "maximum tool call limit")
			noticed = true
		}
	}
	assert.True(t, noticed, "wrap-up notice missing from final model call")
}

func TestWebSearchQueryStripsAllMentions(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("done")}}
	f := newFixture(t, chat, 10)

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt please ask @GroupGPT about Paris",
		Flags:      model.FeatureFlags{UseWebSearch: true},
	})

	assert.Equal(t, "done", out)
	require.Len(t, f.web.queries, 1)
	assert.Equal(t, "please ask  about Paris", f.web.queries[0])
	assert.NotContains(t, strings.ToLower(f.web.queries[0]), model.MentionToken)
}

func TestGracefulDegradationOnRetrievalFailure(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("best effort answer")}}
	f := newFixture(t, chat, 10)
	f.knowledge.err = errors.New("index corrupted")

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt summarize the notes",
		Flags:      model.FeatureFlags{UseKnowledgeRetrieval: true},
	})

	assert.Equal(t, "best effort answer", out)
	system := f.chat.call(0)[0]
	assert.Contains(t, system.Content, "No document chunks available.")
}

func TestGracefulDegradationOnRetrievalPanic(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("best effort answer")}}
	f := newFixture(t, chat, 10)
	f.knowledge.panicMsg = "index corrupted"

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt summarize the notes",
		Flags:      model.FeatureFlags{UseKnowledgeRetrieval: true},
	})

	assert.Equal(t, "best effort answer", out)
	system := f.chat.call(0)[0]
	assert.Contains(t, system.Content, "No document chunks available.")
}

func TestResponsePostProcessing(t *testing.T) {
	t.Parallel()

	t.Run("assistant label prefix is stripped", func(t *testing.T) {
		t.Parallel()

		chat := &scriptedModel{responses: []*schema.Message{finalAnswer("GroupGPT: Hello team")}}
		f := newFixture(t, chat, 10)

		out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
			Username: "alice", ChatroomID: "room1", Query: "@groupgpt hi",
		})
		assert.Equal(t, "Hello team", out)
	})

	t.Run("blank response becomes the apology sentinel", func(t *testing.T) {
		t.Parallel()

		chat := &scriptedModel{responses: []*schema.Message{finalAnswer("   ")}}
		f := newFixture(t, chat, 10)

		out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
			Username: "alice", ChatroomID: "room1", Query: "@groupgpt hi",
		})
		assert.Equal(t, FallbackResponse, out)

		inserted := f.store.insertedMessages()
		require.Len(t, inserted, 1)
		assert.Equal(t, FallbackResponse, inserted[0].Content)
	})

	t.Run("model failure becomes the apology sentinel", func(t *testing.T) {
		t.Parallel()

		chat := &scriptedModel{
			responses: []*schema.Message{finalAnswer("unused")},
			generrs:   []error{errors.New("provider unavailable")},
		}
		f := newFixture(t, chat, 10)

		out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
			Username: "alice", ChatroomID: "room1", Query: "@groupgpt hi",
		})
		assert.Equal(t, FallbackResponse, out)
	})
}

func TestAttachmentsBecomeMultiPartContent(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("A chart and a report.")}}
	f := newFixture(t, chat, 10)

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt what is in these files?",
		Attachments: []model.Attachment{
			{MIMEType: "image/png", Data: "aW1hZ2U="},
			{MIMEType: "application/pdf", Data: "cmVwb3J0"},
		},
	})
	assert.Equal(t, "A chart and a report.", out)

	msgs := f.chat.call(0)
	last := msgs[len(msgs)-1]
	require.Equal(t, schema.User, last.Role)
	assert.Empty(t, last.Content)
	require.Len(t, last.MultiContent, 3)

	text := last.MultiContent[0]
	assert.Equal(t, schema.ChatMessagePartTypeText, text.Type)
	assert.Equal(t, "alice: what is in these files?", text.Text)

	image := last.MultiContent[1]
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, image.Type)
	require.NotNil(t, image.ImageURL)
	assert.Equal(t, "data:image/png;base64,aW1hZ2U=", image.ImageURL.URL)
	assert.Equal(t, "image/png", image.ImageURL.MIMEType)

	file := last.MultiContent[2]
	assert.Equal(t, schema.ChatMessagePartTypeFileURL, file.Type)
	require.NotNil(t, file.FileURL)
	assert.Equal(t, "data:application/pdf;base64,cmVwb3J0", file.FileURL.URL)
	assert.Equal(t, "application/pdf", file.FileURL.MIMEType)
}

func TestNoPersistenceOnCancelledContext(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("too late")}}
	f := newFixture(t, chat, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.assistant.ProcessQuery(ctx, model.QueryInput{
		Username: "alice", ChatroomID: "room1", Query: "@groupgpt hi",
	})

	assert.NotEmpty(t, out)
	assert.Empty(t, f.store.insertedMessages())
}

func TestChatroomScopingKeyInjection(t *testing.T) {
	t.Parallel()

	// First call asks for chunks without a chatroom id, second call finishes.
	chat := &scriptedModel{responses: []*schema.Message{
		toolCallAnswer("", tools.ToolChunkRetriever, `{"query":"capital"}`),
		finalAnswer("Paris [notes.pdf]"),
	}}
	f := newFixture(t, chat, 10)
	f.knowledge.chunks = []model.DocumentChunk{
		{SourceName: "notes.pdf", RelevanceScore: 0.91, Content: "Paris is the capital."},
	}

	out := f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt what do the notes say?",
	})

	assert.Equal(t, "Paris [notes.pdf]", out)
	assert.Equal(t, 1, f.knowledge.calls)
	assert.Equal(t, 2, chat.callCount())

	// The tool result fed back to the model carries the retrieved chunk,
	// proving the chatroom id reached the store from request state.
	secondCall := f.chat.call(1)
	toolMsg := secondCall[len(secondCall)-1]
	assert.Equal(t, schema.Tool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "notes.pdf")
}

func TestHistoryFlowsIntoModelContext(t *testing.T) {
	t.Parallel()

	chat := &scriptedModel{responses: []*schema.Message{finalAnswer("done")}}
	f := newFixture(t, chat, 10)
	f.store.messages = []model.ChatMessage{
		{Username: "alice", Content: "hello"},
		{Username: "bob", Content: "hi all"},
		{Username: model.AssistantUsername, Content: "Hello both!"},
		{Username: "alice", Content: "@groupgpt what did bob say?"},
	}

	f.assistant.ProcessQuery(context.Background(), model.QueryInput{
		Username:   "alice",
		ChatroomID: "room1",
		Query:      "@groupgpt what did bob say?",
	})

	msgs := f.chat.call(0)
	// system + merged user turn + assistant turn + trailing user turn
	require.Len(t, msgs, 4)
	assert.Equal(t, "alice: hello\nbob: hi all", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, schema.User, msgs[3].Role)
}
