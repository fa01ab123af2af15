package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/engine"
)

// DefaultBatchSize is the number of chunk texts sent per embed call.
const DefaultBatchSize = 16

// Index pairs the chunks of one document version with their vectors.
// It is never modified after Build returns; replacing an index means
// building a new one.
type Index struct {
	chunks  []chunker.Chunk
	vectors [][]float32
	norms   []float64
	dim     int
}

// Build embeds chunk texts in order, batchSize at a time, and returns the
// resulting index. Batches run sequentially. A batchSize of zero or less
// uses DefaultBatchSize. An empty chunk list yields an empty index without
// calling emb.
func Build(ctx context.Context, chunks []chunker.Chunk, emb BatchEmbedder, batchSize int) (*Index, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	idx := &Index{
		chunks:  make([]chunker.Chunk, len(chunks)),
		vectors: make([][]float32, 0, len(chunks)),
		norms:   make([]float64, 0, len(chunks)),
	}
	copy(idx.chunks, chunks)

	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
		}

		end := min(start+batchSize, len(chunks))
		texts := chunker.Texts(chunks[start:end])

		vecs, err := emb.EmbedBatch(ctx, texts)
		if errors.Is(err, engine.ErrMalformedResponse) {
			return nil, fmt.Errorf("%w: embedding chunks %d-%d: %w", ErrProviderContract, start, end-1, err)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: embedding chunks %d-%d: %w", ErrEmbeddingProvider, start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: submitted %d texts, got %d vectors", ErrProviderContract, len(texts), len(vecs))
		}

		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector for chunk %d", ErrProviderContract, start+i)
			}
			if idx.dim == 0 {
				idx.dim = len(v)
			} else if len(v) != idx.dim {
				return nil, fmt.Errorf("%w: chunk %d has dimension %d, index has %d", ErrProviderContract, start+i, len(v), idx.dim)
			}
			idx.vectors = append(idx.vectors, cloneVector(v))
			idx.norms = append(idx.norms, norm(v))
		}
	}

	return idx, nil
}

// Len returns the number of indexed chunks. A nil index is empty.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.chunks)
}

// Dim returns the vector dimension, or 0 for an empty index.
func (x *Index) Dim() int {
	if x == nil {
		return 0
	}
	return x.dim
}

// Chunks returns a copy of the indexed chunks in document order.
func (x *Index) Chunks() []chunker.Chunk {
	if x == nil {
		return nil
	}
	out := make([]chunker.Chunk, len(x.chunks))
	copy(out, x.chunks)
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
