package engine

// Message is a chat message in the common OpenAI-style shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries sampling parameters. Zero values leave the backend
// default in place.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
