package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/model"
	logx "github.com/groupgpt/server/pkg/logger"
)

type ArxivSearchInput struct {
	Query string `json:"query"`
}

func createArxivSearchTool(academic model.AcademicSearchProvider) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolArxivSearch,
			Desc: "Search arXiv for academic papers related to the query. Use this when you need to find relevant research papers or articles on a specific topic.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "The search query to perform on arXiv. Can include keywords, authors, titles, or arXiv IDs.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ArxivSearchInput) (string, error) {
			results, err := academic.Search(ctx, in.Query)
			if err != nil {
				logx.Error().Err(err).Str("query", in.Query).Msg("arxiv search failed")
				return toolError(ToolArxivSearch, err), nil
			}

			logx.Debug().Str("query", in.Query).Msg("arxiv search executed")
			return results, nil
		},
	)
}
