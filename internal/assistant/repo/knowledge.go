package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/groupgpt/server/internal/assistant/model"
	errx "github.com/groupgpt/server/internal/core/error"
	logx "github.com/groupgpt/server/pkg/logger"
)

// rrfK is the reciprocal-rank-fusion constant; candidates score
// 1/(rrfK + rank) per ranking they appear in.
const rrfK = 60

// PostgresKnowledgeStore runs hybrid search over ingested document chunks:
// full-text rank and pgvector cosine distance fused with reciprocal-rank
// fusion, scoped to one chatroom's knowledge base. Ties break on filename
// then id so identical inputs always produce identical ordering.
type PostgresKnowledgeStore struct {
	pool          *pgxpool.Pool
	candidatePool int
}

func NewPostgresKnowledgeStore(pool *pgxpool.Pool, candidatePool int) *PostgresKnowledgeStore {
	if candidatePool <= 0 {
		candidatePool = rrfK
	}
	return &PostgresKnowledgeStore{pool: pool, candidatePool: candidatePool}
}

const hybridSearchQuery = `
	WITH lexical AS (
		SELECT id, row_number() OVER (
			ORDER BY ts_rank_cd(content_tsv, plainto_tsquery('english', $2)) DESC, filename ASC, id ASC
		) AS rank
		FROM document_chunks
		WHERE chatroom_id = $1
		  AND content_tsv @@ plainto_tsquery('english', $2)
		ORDER BY rank ASC
		LIMIT $4
	),
	semantic AS (
		SELECT id, row_number() OVER (ORDER BY embedding <=> $3 ASC, filename ASC, id ASC) AS rank
		FROM document_chunks
		WHERE chatroom_id = $1
		ORDER BY embedding <=> $3 ASC
		LIMIT $4
	)
	SELECT c.filename,
	       COALESCE(1.0 / ($5 + l.rank), 0) + COALESCE(1.0 / ($5 + s.rank), 0) AS rrf_score,
	       c.content
	FROM document_chunks c
	LEFT JOIN lexical l ON l.id = c.id
	LEFT JOIN semantic s ON s.id = c.id
	WHERE l.id IS NOT NULL OR s.id IS NOT NULL
	ORDER BY rrf_score DESC, c.filename ASC, c.id ASC
	LIMIT $6`

func (s *PostgresKnowledgeStore) HybridSearch(
	ctx context.Context,
	chatroomID string,
	queryEmbedding []float32,
	queryText string,
	k int,
) ([]model.DocumentChunk, error) {
	vec := pgvector.NewVector(queryEmbedding)

	rows, err := s.pool.Query(ctx, hybridSearchQuery, chatroomID, queryText, vec, s.candidatePool, rrfK, k)
	if err != nil {
		logx.Error().Err(err).Str("chatroom_id", chatroomID).Msg("hybrid search query failed")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	chunks := make([]model.DocumentChunk, 0, k)
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.SourceName, &c.RelevanceScore, &c.Content); err != nil {
			logx.Error().Err(err).Str("chatroom_id", chatroomID).Msg("failed to scan chunk row")
			return nil, errx.WrapPostgres(err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}

	logx.Debug().Str("chatroom_id", chatroomID).Int("chunks", len(chunks)).Msg("hybrid search completed")
	return chunks, nil
}

var _ model.KnowledgeSearcher = (*PostgresKnowledgeStore)(nil)
