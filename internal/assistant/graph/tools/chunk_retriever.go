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

type ChunkRetrieverInput struct {
	ChatroomID string `json:"chatroom_id"`
	Query      string `json:"query"`
	NumChunks  int    `json:"num_chunks,omitempty"`
}

func createChunkRetrieverTool(embedder model.Embedder, knowledge model.KnowledgeSearcher, defaultNumChunks int) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolChunkRetriever,
			Desc: "Retrieve relevant document chunks from the knowledge base using hybrid search. Use this when you need to find specific information or context from the knowledge base related to a query.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"chatroom_id": {
					Type: "string",
					Desc: "This is a system variable. **Leave this field empty** when calling the tool as it will be set automatically.",
				},
				"query": {
					Type:     "string",
					Desc:     "Query to search for relevant document chunks in the knowledge base. Should contain precise keywords and phrases related to the user's original query.",
					Required: true,
				},
				"num_chunks": {
					Type: "number",
					Desc: "Number of relevant document chunks to retrieve. Default is 5. Adjust based on the query complexity and expected results.",
				},
			}),
		},
		func(ctx context.Context, in *ChunkRetrieverInput) (string, error) {
			if in.NumChunks <= 0 {
				in.NumChunks = defaultNumChunks
			}

			embedding, err := embedder.Embed(ctx, in.Query)
			if err != nil {
				logx.Error().Err(err).Str("query", in.Query).Msg("chunk retrieval embedding failed")
				return toolError(ToolChunkRetriever, err), nil
			}

			chunks, err := knowledge.HybridSearch(ctx, in.ChatroomID, embedding, in.Query, in.NumChunks)
			if err != nil {
				logx.Error().Err(err).Str("query", in.Query).Msg("chunk retrieval search failed")
				return toolError(ToolChunkRetriever, err), nil
			}

			logx.Debug().
				Str("chatroom_id", in.ChatroomID).
				Str("query", in.Query).
				Int("num_chunks", in.NumChunks).
				Msg("chunk retrieval executed")

			return FormatChunks(chunks), nil
		},
	)
}

// FormatChunks renders retrieved chunks as the text block the model consumes.
func FormatChunks(chunks []model.DocumentChunk) string {
	if len(chunks) == 0 {
		return "No relevant document chunks found."
	}

	sections := make([]string, 0, len(chunks))
	for _, c := range chunks {
		sections = append(sections, fmt.Sprintf(
			"Filename: %s\nRRF score: %.2f\nContent: %s",
			c.SourceName, c.RelevanceScore, c.Content,
		))
	}
	return strings.Join(sections, "\n\n")
}
