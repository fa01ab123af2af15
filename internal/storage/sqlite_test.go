package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/conversation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and checks
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migrations = %v then %v, want the same non-empty set", v1, v2)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_documents_loaded", "idx_messages_document_seq"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("012_add_things.sql"); err != nil || v != 12 {
		t.Errorf("parseMigrationVersion = %d, %v; want 12", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for a name without version")
	}
}

func TestSaveAndGetDocument(t *testing.T) {
	s := openTestStore(t)

	loaded := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	want := Document{ID: "doc-1", Title: "Contratto", Source: "contratto.pdf", Chars: 5000, Chunks: 3, LoadedAt: loaded}
	if err := s.SaveDocument(want); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != want.Title || got.Source != want.Source || got.Chars != want.Chars || got.Chunks != want.Chunks {
		t.Errorf("GetDocument = %+v, want %+v", got, want)
	}
	if !got.LoadedAt.Equal(loaded) {
		t.Errorf("LoadedAt = %v, want %v", got.LoadedAt, loaded)
	}

	// Saving again with the same ID updates in place.
	want.Chunks = 4
	if err := s.SaveDocument(want); err != nil {
		t.Fatalf("SaveDocument (update): %v", err)
	}
	got, _ = s.GetDocument("doc-1")
	if got.Chunks != 4 {
		t.Errorf("Chunks after update = %d, want 4", got.Chunks)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDocument("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSaveDocumentRequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveDocument(Document{Title: "x", LoadedAt: time.Now()}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestListDocuments(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		doc := Document{ID: fmt.Sprintf("doc-%d", i), LoadedAt: base.Add(time.Duration(i) * time.Millisecond)}
		if err := s.SaveDocument(doc); err != nil {
			t.Fatalf("SaveDocument: %v", err)
		}
	}

	docs, err := s.ListDocuments(3)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	for i, want := range []string{"doc-4", "doc-3", "doc-2"} {
		if docs[i].ID != want {
			t.Errorf("docs[%d] = %s, want %s", i, docs[i].ID, want)
		}
	}
}

func TestListDocumentsEmpty(t *testing.T) {
	s := openTestStore(t)
	docs, err := s.ListDocuments(10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("ListDocuments = %v, want empty non-nil slice", docs)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveDocument(Document{ID: "doc-1", LoadedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	for _, content := range []string{"domanda", "risposta", "altra domanda"} {
		if _, err := s.SaveMessage(Message{DocumentID: "doc-1", Role: "user", Content: content}); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages("doc-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Errorf("msgs[%d].Seq = %d, want %d", i, m.Seq, i+1)
		}
		if m.ID == "" {
			t.Errorf("msgs[%d] has no id", i)
		}
	}
	if msgs[2].Content != "altra domanda" {
		t.Errorf("last content = %q", msgs[2].Content)
	}

	n, err := s.DeleteMessages("doc-1")
	if err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}
	if msgs, _ := s.ListMessages("doc-1"); len(msgs) != 0 {
		t.Errorf("messages after delete = %d, want 0", len(msgs))
	}
}

func TestSaveMessageUnknownDocument(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SaveMessage(Message{DocumentID: "nope", Role: "user", Content: "x"}); err == nil {
		t.Error("expected foreign key error for unknown document")
	}
}

func TestSaveMessageRejectsBadRole(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveDocument(Document{ID: "doc-1", LoadedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMessage(Message{DocumentID: "doc-1", Role: "tool", Content: "x"}); err == nil {
		t.Error("expected check constraint error for role")
	}
}

func TestRecorder(t *testing.T) {
	s := openTestStore(t)
	r := NewRecorder(s)
	ctx := context.Background()

	info := conversation.DocumentInfo{Version: "v1", Title: "Note", Chars: 42, LoadedAt: time.Now()}
	if err := r.RecordDocument(ctx, info, 2); err != nil {
		t.Fatalf("RecordDocument: %v", err)
	}
	doc, err := s.GetDocument("v1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Chunks != 2 || doc.Chars != 42 {
		t.Errorf("stored document = %+v", doc)
	}

	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	turn := []chat.Message{
		{Role: chat.RoleUser, Content: "cosa dice?", Timestamp: at},
		{Role: chat.RoleAssistant, Content: "dice questo", Timestamp: at.Add(time.Second)},
	}
	for _, m := range turn {
		if err := r.RecordMessage(ctx, "v1", m); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}

	got, err := r.Transcript("v1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("transcript = %d messages, want 2", len(got))
	}
	for i := range turn {
		if got[i].Role != turn[i].Role || got[i].Content != turn[i].Content || !got[i].Timestamp.Equal(turn[i].Timestamp) {
			t.Errorf("transcript[%d] = %+v, want %+v", i, got[i], turn[i])
		}
	}

	if err := r.ClearMessages(ctx, "v1"); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	if got, _ := r.Transcript("v1"); len(got) != 0 {
		t.Errorf("transcript after clear = %d messages, want 0", len(got))
	}
}

func TestTimestampsWholeSeconds(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveDocument(Document{ID: "doc-1", LoadedAt: at}); err != nil {
		t.Fatal(err)
	}
	docs, err := s.ListDocuments(10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || !docs[0].LoadedAt.Equal(at) {
		t.Fatalf("docs = %+v, want one loaded at %v", docs, at)
	}
	if _, err := s.SaveMessage(Message{DocumentID: "doc-1", Role: "user", Content: "ciao", CreatedAt: at}); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.ListMessages("doc-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].CreatedAt.Equal(at) {
		t.Errorf("msgs = %+v, want one created at %v", msgs, at)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 1, 1, 10, 30, 0, 120000000, time.UTC)
	for _, s := range []string{
		"2026-01-01T10:30:00.120000000Z",
		"2026-01-01T10:30:00.12Z",
		"2026-01-01T11:30:00.12+01:00",
	} {
		got, err := parseTime(s)
		if err != nil || !got.Equal(want) {
			t.Errorf("parseTime(%q) = %v, %v; want %v", s, got, err, want)
		}
	}
}
