package storage

import (
	"context"
	"fmt"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/conversation"
)

// Recorder persists conversation events into a Store.
type Recorder struct {
	store *Store
}

var _ conversation.Recorder = (*Recorder)(nil)

func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

func (r *Recorder) RecordDocument(_ context.Context, doc conversation.DocumentInfo, chunks int) error {
	err := r.store.SaveDocument(Document{
		ID:       doc.Version,
		Title:    doc.Title,
		Source:   doc.Source,
		Chars:    doc.Chars,
		Chunks:   chunks,
		LoadedAt: doc.LoadedAt,
	})
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.Version, err)
	}
	return nil
}

func (r *Recorder) RecordMessage(_ context.Context, version string, msg chat.Message) error {
	if _, err := r.store.SaveMessage(Message{
		DocumentID: version,
		Role:       msg.Role.String(),
		Content:    msg.Content,
		CreatedAt:  msg.Timestamp,
	}); err != nil {
		return fmt.Errorf("saving message for %s: %w", version, err)
	}
	return nil
}

func (r *Recorder) ClearMessages(_ context.Context, version string) error {
	if _, err := r.store.DeleteMessages(version); err != nil {
		return fmt.Errorf("deleting messages for %s: %w", version, err)
	}
	return nil
}

// Transcript returns the stored messages of a document as chat messages.
func (r *Recorder) Transcript(version string) ([]chat.Message, error) {
	stored, err := r.store.ListMessages(version)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(stored))
	for _, m := range stored {
		role, err := chat.ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		out = append(out, chat.Message{Role: role, Content: m.Content, Timestamp: m.CreatedAt})
	}
	return out, nil
}
