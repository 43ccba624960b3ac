package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/graph/conversations"
	"github.com/groupgpt/server/internal/assistant/graph/prompts"
	"github.com/groupgpt/server/internal/assistant/model"
	logx "github.com/groupgpt/server/pkg/logger"
)

// NewHistoryFetcherPreHandler seeds the graph state from the incoming query.
// The history fetcher always runs, so this is the single place the request
// payload enters the state.
func NewHistoryFetcherPreHandler() func(context.Context, model.QueryInput, *model.ChatState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.ChatState) (model.QueryInput, error) {
		s.Username = in.Username
		s.ChatroomID = in.ChatroomID
		s.Query = in.Query
		s.Flags = in.Flags
		s.Attachments = in.Attachments
		// Reset loop bookkeeping for each new query
		s.ModelCalls = 0
		s.LimitReached = false
		s.ToolCallIDSeq = 0
		return in, nil
	}
}

// fetchLambda wraps a fetch node body so that a panicking collaborator also
// degrades to an empty contribution instead of taking down the whole run.
func fetchLambda(name string, fn func(ctx context.Context, in model.QueryInput) (*model.StateDelta, error)) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.QueryInput) (out *model.StateDelta, err error) {
		defer func() {
			if r := recover(); r != nil {
				logx.Error().
					Str("node", name).
					Str("chatroom_id", in.ChatroomID).
					Interface("panic", r).
					Msg("fetch node panicked, continuing with empty contribution")
				out, err = &model.StateDelta{}, nil
			}
		}()
		return fn(ctx, in)
	})
}

// NewHistoryFetcherNode loads and normalizes the chatroom history. A storage
// failure degrades to an empty contribution, never an error.
func NewHistoryFetcherNode(mm *conversations.MessagesManager) *compose.Lambda {
	return fetchLambda(NodeHistoryFetcher, func(ctx context.Context, in model.QueryInput) (*model.StateDelta, error) {
		history, err := mm.BuildChatHistory(ctx, in.ChatroomID)
		if err != nil {
			logx.Error().Err(err).Str("chatroom_id", in.ChatroomID).Msg("history fetch failed, continuing without history")
			return &model.StateDelta{}, nil
		}

		logx.Debug().
			Str("chatroom_id", in.ChatroomID).
			Int("turns", len(history)).
			Msg("history fetched")

		return &model.StateDelta{ChatHistory: history}, nil
	})
}

// NewKnowledgeRetrieverNode runs hybrid retrieval against the chatroom's
// knowledge base. Failures degrade to an empty contribution.
func NewKnowledgeRetrieverNode(embedder model.Embedder, knowledge model.KnowledgeSearcher, numChunks int) *compose.Lambda {
	return fetchLambda(NodeKnowledgeRetriever, func(ctx context.Context, in model.QueryInput) (*model.StateDelta, error) {
		embedding, err := embedder.Embed(ctx, in.Query)
		if err != nil {
			logx.Error().Err(err).Str("chatroom_id", in.ChatroomID).Msg("query embedding failed, continuing without chunks")
			return &model.StateDelta{}, nil
		}

		chunks, err := knowledge.HybridSearch(ctx, in.ChatroomID, embedding, in.Query, numChunks)
		if err != nil {
			logx.Error().Err(err).Str("chatroom_id", in.ChatroomID).Msg("knowledge retrieval failed, continuing without chunks")
			return &model.StateDelta{}, nil
		}

		logx.Debug().
			Str("chatroom_id", in.ChatroomID).
			Int("chunks", len(chunks)).
			Msg("knowledge retrieved")

		return &model.StateDelta{DocumentChunks: chunks}, nil
	})
}

// NewWebSearcherNode performs an external web search for the query. Failures
// degrade to an empty contribution.
func NewWebSearcherNode(web model.WebSearchProvider, numResults int) *compose.Lambda {
	return fetchLambda(NodeWebSearcher, func(ctx context.Context, in model.QueryInput) (*model.StateDelta, error) {
		results, err := web.Search(ctx, model.StripAllMentions(in.Query), numResults)
		if err != nil {
			logx.Error().Err(err).Str("chatroom_id", in.ChatroomID).Msg("web search failed, continuing without results")
			return &model.StateDelta{}, nil
		}

		logx.Debug().
			Str("chatroom_id", in.ChatroomID).
			Int("results", len(results)).
			Msg("web search done")

		return &model.StateDelta{WebResults: results}, nil
	})
}

// NewResponseAssemblerNode builds the model message sequence once every fetch
// contribution has arrived: system prompt with retrieved context, the history
// turns, and any attachments on the most recent user turn.
func NewResponseAssemblerNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, delta *model.StateDelta) ([]*schema.Message, error) {
		if delta == nil {
			delta = &model.StateDelta{}
		}

		var (
			flags       model.FeatureFlags
			attachments []model.Attachment
			username    string
			query       string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.ChatState) error {
			state.ChatHistory = delta.ChatHistory
			state.DocumentChunks = delta.DocumentChunks
			state.WebResults = delta.WebResults
			flags = state.Flags
			attachments = state.Attachments
			username = state.Username
			query = state.EffectiveQuery()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		systemPrompt, err := prompts.RenderResponseSystem(ctx, flags, delta.DocumentChunks, delta.WebResults, time.Now())
		if err != nil {
			return nil, fmt.Errorf("render response prompt: %w", err)
		}

		messages := make([]*schema.Message, 0, len(delta.ChatHistory)+2)
		messages = append(messages, schema.SystemMessage(systemPrompt))
		messages = append(messages, delta.ChatHistory...)

		// The triggering message normally arrives through history. When it is
		// absent (empty room, or the store lagged behind), add it so the model
		// always sees the question being asked.
		if last := lastMessage(messages); last == nil || last.Role != schema.User {
			messages = append(messages, schema.UserMessage(username+": "+query))
		}

		if len(attachments) > 0 {
			attachToLastUserTurn(messages, attachments)
		}

		return messages, nil
	})
}

// NewResponseChatModelPreHandler accumulates the transcript and enforces the
// model invocation budget. When the final budgeted call is about to run, a
// wrap-up notice is added so the model synthesizes from what it has gathered.
func NewResponseChatModelPreHandler(maxModelCalls int) func(context.Context, []*schema.Message, *model.ChatState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.ChatState) ([]*schema.Message, error) {
		// Gemini OpenAI-compat can omit tool_call_id on tool results; backfill
		// from the most recent assistant tool call.
		if len(in) > 0 {
			last := in[len(in)-1]
			if last != nil && last.Role == schema.Tool && strings.TrimSpace(last.ToolCallID) == "" {
				for i := len(state.History) - 1; i >= 0; i-- {
					msg := state.History[i]
					if msg == nil || msg.Role != schema.Assistant || len(msg.ToolCalls) == 0 {
						continue
					}
					if id := strings.TrimSpace(msg.ToolCalls[0].ID); id != "" {
						last.ToolCallID = id
					}
					break
				}
			}
		}

		state.History = append(state.History, in...)

		budget := normalizeMaxModelCalls(maxModelCalls)
		state.ModelCalls++
		if state.ModelCalls >= budget && !state.LimitReached {
			state.LimitReached = true
			wrapUp := schema.SystemMessage(fmt.Sprintf(
				"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
					"Please synthesize a helpful response using the information you've already gathered. "+
					"Acknowledge any limitations in your response if you couldn't complete all necessary tool calls.",
				budget,
			))
			state.History = append(state.History, wrapUp)
			logx.Warn().
				Int("model_calls", state.ModelCalls).
				Int("max_model_calls", budget).
				Str("chatroom_id", state.ChatroomID).
				Msg("model call budget spent, requesting wrap-up")
		}

		logx.Debug().Int("model_calls", state.ModelCalls).Msg("AI thinking...")

		return state.History, nil
	}
}

// NewResponseChatModelPostHandler normalizes tool call IDs and records the
// model output in the transcript.
func NewResponseChatModelPostHandler() func(context.Context, *schema.Message, *model.ChatState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.ChatState) (*schema.Message, error) {
		if out != nil && len(out.ToolCalls) > 0 {
			for i := range out.ToolCalls {
				if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
					state.ToolCallIDSeq++
					out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
				}
			}
		}

		state.History = append(state.History, out)

		if out != nil && len(out.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		} else {
			logx.Debug().Msg("AI response ready")
		}

		return out, nil
	}
}

// NewToolExecutorCondition routes to the tool executor while the model keeps
// requesting tools and the budget allows, otherwise to the end.
func NewToolExecutorCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		var limitReached bool
		compose.ProcessState(ctx, func(_ context.Context, state *model.ChatState) error {
			limitReached = state.LimitReached
			return nil
		})

		if limitReached {
			logx.Debug().Msg("model call budget spent, routing to end")
			return compose.END, nil
		}

		if input != nil && len(input.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("routing to tool executor")
			return NodeToolExecutor, nil
		}

		logx.Debug().Msg("no tool calls, routing to end")
		return compose.END, nil
	}
}

// NewToolExecutorPreHandler logs tool dispatch attempts.
func NewToolExecutorPreHandler() func(context.Context, *schema.Message, *model.ChatState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.ChatState) (*schema.Message, error) {
		logx.Debug().
			Int("model_calls", state.ModelCalls).
			Str("chatroom_id", state.ChatroomID).
			Msg("tool execution attempt")
		return in, nil
	}
}

func lastMessage(msgs []*schema.Message) *schema.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil {
			return msgs[i]
		}
	}
	return nil
}

// attachToLastUserTurn converts the most recent user turn to multi-part
// content carrying the attached media alongside its text.
func attachToLastUserTurn(msgs []*schema.Message, attachments []model.Attachment) {
	var target *schema.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			target = msgs[i]
			break
		}
	}
	if target == nil {
		return
	}

	parts := make([]schema.ChatMessagePart, 0, len(attachments)+1)
	if target.Content != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: target.Content,
		})
	}
	for _, att := range attachments {
		dataURL := fmt.Sprintf("data:%s;base64,%s", att.MIMEType, att.Data)
		if strings.HasPrefix(att.MIMEType, "image/") {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      dataURL,
					MIMEType: att.MIMEType,
				},
			})
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URL:      dataURL,
				MIMEType: att.MIMEType,
			},
		})
	}

	target.Content = ""
	target.MultiContent = parts
}
