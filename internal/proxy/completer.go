package proxy

import (
	"context"

	"github.com/kalambet/askdoc/internal/chat"
)

// Completer answers conversation turns through OpenRouter.
type Completer struct {
	Client  *Client
	Model   string
	Options *ChatOptions
}

func (c *Completer) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	wire := make([]Message, len(messages))
	for i, m := range messages {
		wire[i] = Message{Role: m.Role.String(), Content: m.Content}
	}
	return c.Client.Complete(ctx, c.Model, wire, c.Options)
}
