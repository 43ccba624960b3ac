package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupgpt/server/internal/assistant/model"
	errx "github.com/groupgpt/server/internal/core/error"
	logx "github.com/groupgpt/server/pkg/logger"
)

// PostgresMessageStore persists chatroom messages in Postgres.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

func (s *PostgresMessageStore) FetchMessages(ctx context.Context, chatroomID string) ([]model.ChatMessage, error) {
	const query = `
		SELECT username, content, created_at
		FROM messages
		WHERE chatroom_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, chatroomID)
	if err != nil {
		logx.Error().Err(err).Str("chatroom_id", chatroomID).Msg("failed to fetch messages")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	messages := make([]model.ChatMessage, 0)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.Username, &m.Content, &m.CreatedAt); err != nil {
			logx.Error().Err(err).Str("chatroom_id", chatroomID).Msg("failed to scan message row")
			return nil, errx.WrapPostgres(err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return messages, nil
}

func (s *PostgresMessageStore) InsertMessage(ctx context.Context, chatroomID, username, content string) error {
	const query = `
		INSERT INTO messages (chatroom_id, username, content)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, query, chatroomID, username, content); err != nil {
		logx.Error().Err(err).Str("chatroom_id", chatroomID).Str("username", username).Msg("failed to insert message")
		return errx.WrapPostgres(err)
	}
	return nil
}

var _ model.MessageStore = (*PostgresMessageStore)(nil)
