package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupgpt/server/internal/assistant/model"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type stubKnowledge struct {
	chunks     []model.DocumentChunk
	err        error
	chatroomID string
	k          int
}

func (s *stubKnowledge) HybridSearch(ctx context.Context, chatroomID string, queryEmbedding []float32, queryText string, k int) ([]model.DocumentChunk, error) {
	s.chatroomID = chatroomID
	s.k = k
	return s.chunks, s.err
}

type stubWeb struct {
	results []model.WebResult
	err     error
}

func (s *stubWeb) Search(ctx context.Context, query string, k int) ([]model.WebResult, error) {
	return s.results, s.err
}

type stubAcademic struct {
	out string
	err error
}

func (s *stubAcademic) Search(ctx context.Context, query string) (string, error) {
	return s.out, s.err
}

type stubRunner struct {
	out string
	err error
}

func (s *stubRunner) Run(ctx context.Context, code string) (string, error) {
	return s.out, s.err
}

func invoke(t *testing.T, bt tool.BaseTool, args string) string {
	t.Helper()
	inv, ok := bt.(tool.InvokableTool)
	require.True(t, ok)
	out, err := inv.InvokableRun(context.Background(), args)
	require.NoError(t, err)
	return out
}

func TestGetQueryTools(t *testing.T) {
	t.Parallel()

	ts := GetQueryTools(Deps{})
	require.Len(t, ts, 4)

	names := map[string]bool{}
	for _, bt := range ts {
		info, err := bt.Info(context.Background())
		require.NoError(t, err)
		names[info.Name] = true
	}
	assert.True(t, names[ToolArxivSearch])
	assert.True(t, names[ToolChunkRetriever])
	assert.True(t, names[ToolPythonREPL])
	assert.True(t, names[ToolWebSearch])
}

func TestChunkRetrieverTool(t *testing.T) {
	t.Parallel()

	t.Run("formats retrieved chunks", func(t *testing.T) {
		t.Parallel()

		knowledge := &stubKnowledge{chunks: []model.DocumentChunk{
			{SourceName: "notes.pdf", RelevanceScore: 0.91, Content: "Paris is the capital."},
		}}
		bt := createChunkRetrieverTool(&stubEmbedder{vec: []float32{0.1, 0.2}}, knowledge, 5)

		out := invoke(t, bt, `{"chatroom_id":"room1","query":"capital of France"}`)
		assert.Contains(t, out, "Filename: notes.pdf")
		assert.Contains(t, out, "RRF score: 0.91")
		assert.Contains(t, out, "Paris is the capital.")
		assert.Equal(t, "room1", knowledge.chatroomID)
		assert.Equal(t, 5, knowledge.k)
	})

	t.Run("no matches", func(t *testing.T) {
		t.Parallel()

		bt := createChunkRetrieverTool(&stubEmbedder{vec: []float32{0.1}}, &stubKnowledge{}, 5)
		out := invoke(t, bt, `{"chatroom_id":"room1","query":"nothing"}`)
		assert.Equal(t, "No relevant document chunks found.", out)
	})

	t.Run("search failure is reported as text", func(t *testing.T) {
		t.Parallel()

		knowledge := &stubKnowledge{err: errors.New("db down")}
		bt := createChunkRetrieverTool(&stubEmbedder{vec: []float32{0.1}}, knowledge, 5)
		out := invoke(t, bt, `{"chatroom_id":"room1","query":"q"}`)
		assert.Contains(t, out, "Error executing chunk_retriever")
		assert.Contains(t, out, "db down")
	})
}

func TestWebSearchTool(t *testing.T) {
	t.Parallel()

	t.Run("formats results", func(t *testing.T) {
		t.Parallel()

		web := &stubWeb{results: []model.WebResult{
			{Title: "Paris", Link: "https://example.com/paris", Snippet: "capital of France"},
		}}
		out := invoke(t, createWebSearchTool(web, 5), `{"query":"capital of France"}`)
		assert.Contains(t, out, "Title: Paris")
		assert.Contains(t, out, "Link: https://example.com/paris")
		assert.Contains(t, out, "Snippet: capital of France")
	})

	t.Run("no results", func(t *testing.T) {
		t.Parallel()

		out := invoke(t, createWebSearchTool(&stubWeb{}, 5), `{"query":"nothing"}`)
		assert.Equal(t, "No results found.", out)
	})

	t.Run("provider failure is reported as text", func(t *testing.T) {
		t.Parallel()

		out := invoke(t, createWebSearchTool(&stubWeb{err: errors.New("quota exceeded")}, 5), `{"query":"q"}`)
		assert.Contains(t, out, "Error executing web_search")
	})
}

func TestArxivSearchTool(t *testing.T) {
	t.Parallel()

	out := invoke(t, createArxivSearchTool(&stubAcademic{out: "Title: Attention Is All You Need"}), `{"query":"transformers"}`)
	assert.Contains(t, out, "Attention Is All You Need")

	out = invoke(t, createArxivSearchTool(&stubAcademic{err: errors.New("timeout")}), `{"query":"transformers"}`)
	assert.Contains(t, out, "Error executing arxiv_search")
}

func TestPythonREPLTool(t *testing.T) {
	t.Parallel()

	out := invoke(t, createPythonREPLTool(&stubRunner{out: "42\n"}), `{"code":"print(6*7)"}`)
	assert.Equal(t, "42\n", out)

	out = invoke(t, createPythonREPLTool(&stubRunner{err: errors.New("interpreter missing")}), `{"code":"print(1)"}`)
	assert.Contains(t, out, "Error executing python_repl")
}

func TestFormatChunks(t *testing.T) {
	t.Parallel()

	chunks := []model.DocumentChunk{
		{SourceName: "a.pdf", RelevanceScore: 0.5, Content: "first"},
		{SourceName: "b.pdf", RelevanceScore: 0.25, Content: "second"},
	}
	out := FormatChunks(chunks)
	assert.Contains(t, out, "Filename: a.pdf\nRRF score: 0.50\nContent: first")
	assert.Contains(t, out, "Filename: b.pdf")
	assert.Equal(t, "No relevant document chunks found.", FormatChunks(nil))
}

func TestFormatWebResults(t *testing.T) {
	t.Parallel()

	out := FormatWebResults([]model.WebResult{{Title: "t", Link: "l", Snippet: "s"}})
	assert.Equal(t, "Title: t\nLink: l\nSnippet: s", out)
	assert.Equal(t, "No results found.", FormatWebResults(nil))
}
