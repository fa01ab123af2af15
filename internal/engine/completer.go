package engine

import (
	"context"

	"github.com/kalambet/askdoc/internal/chat"
)

// Completer sends assembled conversation messages to one chat model.
type Completer struct {
	Engine  Engine
	Model   string
	Options *ChatOptions
}

// Complete implements conversation.Completer.
func (c *Completer) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	return c.Engine.Chat(ctx, c.Model, ToMessages(messages), c.Options)
}

// ToMessages converts conversation messages to wire messages.
func ToMessages(messages []chat.Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{Role: m.Role.String(), Content: m.Content}
	}
	return out
}
