package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/model"
	logx "github.com/groupgpt/server/pkg/logger"
)

type WebSearchInput struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results,omitempty"`
}

func createWebSearchTool(web model.WebSearchProvider, defaultNumResults int) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWebSearch,
			Desc: "Search the web for current information on any topic. Use this when you need up-to-date information that might not be in the provided context or when the user asks about recent events, news, or current information.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "The search query to perform on the web.",
					Required: true,
				},
				"num_results": {
					Type: "number",
					Desc: "Number of search results to return. Default is 5. Adjust based on the query complexity and expected results.",
				},
			}),
		},
		func(ctx context.Context, in *WebSearchInput) (string, error) {
			if in.NumResults <= 0 {
				in.NumResults = defaultNumResults
			}

			results, err := web.Search(ctx, in.Query, in.NumResults)
			if err != nil {
				logx.Error().Err(err).Str("query", in.Query).Msg("web search failed")
				return toolError(ToolWebSearch, err), nil
			}

			logx.Debug().
				Str("query", in.Query).
				Int("num_results", in.NumResults).
				Msg("web search executed")

			return FormatWebResults(results), nil
		},
	)
}

// FormatWebResults renders search results as the text block the model consumes.
func FormatWebResults(results []model.WebResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	sections := make([]string, 0, len(results))
	for _, r := range results {
		sections = append(sections, fmt.Sprintf(
			"Title: %s\nLink: %s\nSnippet: %s",
			r.Title, r.Link, r.Snippet,
		))
	}
	return strings.Join(sections, "\n\n")
}
