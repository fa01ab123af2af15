package retrieval

import (
	"errors"

	"github.com/kalambet/askdoc/internal/chunker"
)

var (
	// ErrInvalidArgument is shared with the chunker so callers test one value.
	ErrInvalidArgument = chunker.ErrInvalidArgument

	// ErrProviderContract means the embedder returned the wrong number of
	// vectors or vectors of inconsistent dimension.
	ErrProviderContract = errors.New("embedding provider contract violation")

	// ErrEmbeddingProvider wraps any failure reported by the embedder.
	ErrEmbeddingProvider = errors.New("embedding provider error")
)
