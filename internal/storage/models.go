package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is the stored metadata of one loaded document version. The
// text itself is not kept.
type Document struct {
	ID       string    `json:"id"`
	Title    string    `json:"title,omitempty"`
	Source   string    `json:"source,omitempty"`
	Chars    int       `json:"chars"`
	Chunks   int       `json:"chunks"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Message is one transcript entry of a document's conversation.
type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Seq        int       `json:"seq"`
	Role       string    `json:"role"` // "user", "assistant", "system"
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
