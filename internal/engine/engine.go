package engine

import (
	"context"
	"errors"
)

var (
	// ErrPullUnsupported is returned by engines that cannot download models.
	ErrPullUnsupported = errors.New("model pull not supported by this backend")

	// ErrMalformedResponse is returned when a backend answered but the reply
	// does not line up with the request, such as missing or extra items.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// Engine abstracts an inference backend that can both chat and embed.
// The orchestrator reaches it through retrieval.Embedder and Completer.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's reply.
	// opts may be nil for backend defaults.
	Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error)

	// Embed returns the embedding vector for text using model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the named model is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEngine is implemented by engines that embed many texts in one call.
type BatchEngine interface {
	Engine
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}
