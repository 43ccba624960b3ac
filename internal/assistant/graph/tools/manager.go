package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/model"
)

// Stable tool identifiers, used by the model and the dispatcher.
const (
	ToolArxivSearch    = "arxiv_search"
	ToolChunkRetriever = "chunk_retriever"
	ToolPythonREPL     = "python_repl"
	ToolWebSearch      = "web_search"
)

// Deps carries the collaborators the query tools need. The chatroom scoping
// key is deliberately absent: it is injected per-request by the dispatcher,
// never supplied by the model.
type Deps struct {
	Embedder  model.Embedder
	Knowledge model.KnowledgeSearcher
	Web       model.WebSearchProvider
	Academic  model.AcademicSearchProvider
	Runner    model.CodeRunner

	DefaultNumChunks  int
	DefaultNumResults int
}

// GetQueryTools returns every tool available to the response model.
func GetQueryTools(deps Deps) []tool.BaseTool {
	return []tool.BaseTool{
		createArxivSearchTool(deps.Academic),
		createChunkRetrieverTool(deps.Embedder, deps.Knowledge, deps.DefaultNumChunks),
		createPythonREPLTool(deps.Runner),
		createWebSearchTool(deps.Web, deps.DefaultNumResults),
	}
}

// GetToolInfos resolves the schema of each tool for model binding.
func GetToolInfos(ctx context.Context, ts []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(ts))
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// toolError encodes a failure as text for the model; tools never surface
// errors to the graph runtime.
func toolError(name string, err error) string {
	return fmt.Sprintf("Error executing %s: %v", name, err)
}
