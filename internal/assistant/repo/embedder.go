package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/groupgpt/server/internal/assistant/model"
	errx "github.com/groupgpt/server/internal/core/error"
	logx "github.com/groupgpt/server/pkg/logger"
)

// GeminiEmbedder computes dense query embeddings with the Gemini embedding API.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(client *genai.Client, modelName string) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, modelName: modelName}
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.modelName, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding returned for query")
	}
	return resp.Embeddings[0].Values, nil
}

var _ model.Embedder = (*GeminiEmbedder)(nil)

// CachedEmbedder wraps an Embedder with a Redis cache. Embeddings are
// deterministic for identical input, so cache hits are always valid; cache
// failures fall through to the inner embedder.
type CachedEmbedder struct {
	inner     model.Embedder
	rdb       redis.Cmdable
	modelName string
	ttl       time.Duration
}

func NewCachedEmbedder(inner model.Embedder, rdb redis.Cmdable, modelName string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, rdb: rdb, modelName: modelName, ttl: ttl}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%s:%s", c.modelName, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		logx.Warn().Str("key", key).Msg("discarding malformed cached embedding")
	} else if !errors.Is(err, redis.Nil) {
		logx.Warn().Err(errx.WrapRedis(err)).Str("key", key).Msg("embedding cache read failed")
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			logx.Warn().Err(errx.WrapRedis(err)).Str("key", key).Msg("embedding cache write failed")
		}
	}

	return vec, nil
}

var _ model.Embedder = (*CachedEmbedder)(nil)
