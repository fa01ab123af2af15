package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/askdoc/internal/engine"
	"golang.org/x/sync/errgroup"
)

// BatchEmbedder turns texts into vectors, one per text, in input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder adapts an engine.Engine and a model name to BatchEmbedder.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// EmbedBatch embeds texts. Engines with native batching get one call;
// others get one call per text with at most four in flight.
// Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if be, ok := e.engine.(engine.BatchEngine); ok {
		vecs, err := be.EmbedBatch(ctx, e.model, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
		}
		return vecs, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
