package nodes

// Node names used across the graph wiring.
const (
	NodeHistoryFetcher     = "HistoryFetcher"
	NodeKnowledgeRetriever = "KnowledgeRetriever"
	NodeWebSearcher        = "WebSearcher"
	NodeResponseAssembler  = "ResponseAssembler"
	NodeResponseChatModel  = "ResponseChatModel"
	NodeToolExecutor       = "ToolExecutor"
)

const DefaultMaxModelCalls = 10

// normalizeMaxModelCalls returns a sane default when the provided value is invalid.
func normalizeMaxModelCalls(n int) int {
	if n <= 0 {
		return DefaultMaxModelCalls
	}
	return n
}
