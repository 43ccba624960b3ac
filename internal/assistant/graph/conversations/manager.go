package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/model"
)

// charsPerToken is a rough heuristic for budgeting history without a
// tokenizer round trip.
const charsPerToken = 4

type MessagesManager struct {
	store       model.MessageStore
	tokenBudget int
}

func NewMessagesManager(store model.MessageStore, config model.ResponseModelConfig) *MessagesManager {
	return &MessagesManager{
		store:       store,
		tokenBudget: config.MaxInputTokens * 8 / 10,
	}
}

// BuildChatHistory loads a chatroom's full message history and normalizes it
// into role-tagged turns ready for the response model.
func (cm *MessagesManager) BuildChatHistory(ctx context.Context, chatroomID string) ([]*schema.Message, error) {
	records, err := cm.store.FetchMessages(ctx, chatroomID)
	if err != nil {
		return nil, err
	}
	return trimToBudget(MergeTurns(records), cm.tokenBudget), nil
}

func (cm *MessagesManager) SaveResponse(ctx context.Context, chatroomID string, content string) error {
	return cm.store.InsertMessage(ctx, chatroomID, model.AssistantUsername, content)
}

// MergeTurns collapses the flat message log into alternating turns. Runs of
// consecutive user messages become a single user turn with one
// "{username}: {content}" line per record, so the model can tell speakers
// apart inside a shared turn. Assistant records stay as individual turns.
func MergeTurns(records []model.ChatMessage) []*schema.Message {
	turns := make([]*schema.Message, 0, len(records))
	var pending []string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		turns = append(turns, schema.UserMessage(strings.Join(pending, "\n")))
		pending = nil
	}

	for _, rec := range records {
		if rec.Username == model.AssistantUsername {
			flush()
			turns = append(turns, schema.AssistantMessage(rec.Content, nil))
			continue
		}
		pending = append(pending, rec.Username+": "+rec.Content)
	}
	flush()

	return turns
}

// trimToBudget drops whole turns from the front until the remainder fits the
// token budget. The kept turns are always a contiguous suffix, and the most
// recent turn is kept even when it alone exceeds the budget.
func trimToBudget(turns []*schema.Message, tokenBudget int) []*schema.Message {
	if len(turns) == 0 {
		return turns
	}

	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := len(turns[i].Content) / charsPerToken
		if total+cost > tokenBudget && start < len(turns) {
			break
		}
		total += cost
		start = i
	}

	return turns[start:]
}
