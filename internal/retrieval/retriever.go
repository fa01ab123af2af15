package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/kalambet/askdoc/internal/chunker"
)

const (
	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 5

	zeroNormEpsilon = 1e-8

	// MinScore is the score given to a chunk when either its vector or the
	// query vector has zero norm.
	MinScore = -1.0
)

// ScoredChunk is a chunk ranked against one query.
type ScoredChunk struct {
	Chunk chunker.Chunk `json:"chunk"`
	Score float64       `json:"score"`
}

// Cosine returns the cosine similarity of a and b. A zero norm is replaced
// by a small epsilon, so degenerate vectors score 0 instead of NaN.
// Vectors must have equal length.
func Cosine(a, b []float32) float64 {
	return cosine(a, b, norm(a), norm(b))
}

func cosine(a, b []float32, na, nb float64) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if na == 0 {
		na = zeroNormEpsilon
	}
	if nb == 0 {
		nb = zeroNormEpsilon
	}
	return dot / (na * nb)
}

// Retrieve ranks every chunk of idx against query by cosine similarity and
// returns the best topK, highest score first. Equal scores keep document
// order. Chunks whose vector or the query vector has zero norm score
// MinScore. A nil or empty index yields an empty result.
func Retrieve(idx *Index, query []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k %d must be positive: %w", topK, ErrInvalidArgument)
	}
	if idx.Len() == 0 {
		return []ScoredChunk{}, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", ErrProviderContract, len(query), idx.dim)
	}

	qn := norm(query)
	scored := make([]ScoredChunk, len(idx.chunks))
	for i, c := range idx.chunks {
		s := MinScore
		if qn != 0 && idx.norms[i] != 0 {
			s = cosine(query, idx.vectors[i], qn, idx.norms[i])
		}
		scored[i] = ScoredChunk{Chunk: c, Score: s}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// Retriever embeds a query string and ranks it against an index.
type Retriever struct {
	embedder BatchEmbedder
	topK     int
}

// NewRetriever creates a Retriever. topK <= 0 uses DefaultTopK.
func NewRetriever(embedder BatchEmbedder, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, topK: topK}
}

// TopK returns the number of chunks returned per query.
func (r *Retriever) TopK() int { return r.topK }

// Retrieve embeds query as a single-item batch and returns the top-ranked
// chunks of idx. The embedder is not called for an empty index.
func (r *Retriever) Retrieve(ctx context.Context, idx *Index, query string) ([]ScoredChunk, error) {
	if idx.Len() == 0 {
		return []ScoredChunk{}, nil
	}
	vecs, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrEmbeddingProvider, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: submitted 1 query, got %d vectors", ErrProviderContract, len(vecs))
	}
	return Retrieve(idx, vecs[0], r.topK)
}
