package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/graph/tools"
	"github.com/groupgpt/server/internal/assistant/model"
)

//go:embed template/response_prompt.txt
var responseSystemPrompt string

// RenderResponseSystem renders the response system prompt, including the
// retrieved context sections, and triggers prompt callbacks.
func RenderResponseSystem(ctx context.Context, flags model.FeatureFlags, chunks []model.DocumentChunk, webResults []model.WebResult, now time.Time) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(responseSystemPrompt),
	)
	vars := map[string]any{
		"CurrentDatetime":   now.Format("Monday, January 2, 2006 at 3:04:05 PM"),
		"ArxivTool":         tools.ToolArxivSearch,
		"ChunkTool":         tools.ToolChunkRetriever,
		"PythonTool":        tools.ToolPythonREPL,
		"WebTool":           tools.ToolWebSearch,
		"ChunksSection":     buildChunksSection(flags.UseKnowledgeRetrieval, chunks),
		"WebResultsSection": buildWebResultsSection(flags.UseWebSearch, webResults),
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("response prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("response prompt render: empty result")
	}
	return msgs[0].Content, nil
}

func buildChunksSection(enabled bool, chunks []model.DocumentChunk) string {
	if !enabled {
		return "<document_chunks>\n<!-- knowledge retrieval not enabled -->\n</document_chunks>"
	}
	if len(chunks) == 0 {
		return "<document_chunks>No document chunks available.</document_chunks>"
	}

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf(
			"Filename: %s\nRRF score: %.3f\nContent: %s",
			c.SourceName, c.RelevanceScore, c.Content,
		))
	}
	return "<document_chunks>\n" + strings.Join(parts, "\n\n") + "\n</document_chunks>"
}

func buildWebResultsSection(enabled bool, results []model.WebResult) string {
	if !enabled {
		return "<web_search_results>\n<!-- web search not enabled -->\n</web_search_results>"
	}
	if len(results) == 0 {
		return "<web_search_results>No web search results available.</web_search_results>"
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf(
			"Title: %s\nLink: %s\nSnippet: %s",
			r.Title, r.Link, r.Snippet,
		))
	}
	return "<web_search_results>\n" + strings.Join(parts, "\n\n") + "\n</web_search_results>"
}
