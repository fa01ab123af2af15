package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder memoizes vectors per text in an expiring LRU. It is meant
// for query embeddings, where users repeat or rephrase questions often.
type CachedEmbedder struct {
	next  BatchEmbedder
	model string
	cache *expirable.LRU[string, []float32]
}

// NewCachedEmbedder wraps next. The model name is part of the cache key so
// switching models never serves stale vectors. With size or ttl <= 0 the
// cache is disabled and next is returned unchanged.
func NewCachedEmbedder(next BatchEmbedder, model string, size int, ttl time.Duration) BatchEmbedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &CachedEmbedder{
		next:  next,
		model: model,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// EmbedBatch serves cached texts from memory and embeds the rest in one
// downstream call, preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missPos []int

	for i, t := range texts {
		if v, ok := c.cache.Get(c.key(t)); ok {
			out[i] = cloneVector(v)
			continue
		}
		missTexts = append(missTexts, t)
		missPos = append(missPos, i)
	}
	if len(missTexts) == 0 {
		slog.Debug("embedding cache hit", "texts", len(texts))
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: submitted %d texts, got %d vectors", ErrProviderContract, len(missTexts), len(vecs))
	}
	for j, v := range vecs {
		out[missPos[j]] = v
		c.cache.Add(c.key(missTexts[j]), cloneVector(v))
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.model + ":" + hex.EncodeToString(sum[:])
}
