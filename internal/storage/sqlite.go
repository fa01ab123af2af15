// Package storage keeps document metadata and chat transcripts in SQLite.
package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort as text. The driver
// hands DATETIME columns back in its own RFC 3339 rendering, so reads go
// through parseTime.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Store wraps a SQLite database holding documents and messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) askdoc.db in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	path := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(dataDir, "askdoc.db")
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: one database and serialises
	// writers without "database is locked".
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// dsn applies the connection pragmas through modernc's _pragma
// parameters so every new connection gets them.
func dsn(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	name    string
}

// pendingMigrations lists embedded migrations not yet in schema_version,
// oldest first.
func (s *Store) pendingMigrations() ([]migration, error) {
	applied, err := s.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	var pending []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, err := parseMigrationVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if !slices.Contains(applied, v) {
			pending = append(pending, migration{v, e.Name()})
		}
	}
	slices.SortFunc(pending, func(a, b migration) int { return a.version - b.version })
	return pending, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	pending, err := s.pendingMigrations()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (s *Store) apply(m migration) error {
	script, err := migrationsFS.ReadFile("migrations/" + m.name)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(script)); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

// SaveDocument inserts doc or replaces the row with the same ID.
func (s *Store) SaveDocument(doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, source, chars, chunks, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, source = excluded.source, chars = excluded.chars,
			chunks = excluded.chunks, loaded_at = excluded.loaded_at`,
		doc.ID, doc.Title, doc.Source, doc.Chars, doc.Chunks, doc.LoadedAt.UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	d, err := scanDocument(s.db.QueryRow(`
		SELECT id, title, source, chars, chunks, loaded_at
		FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns up to limit documents, most recently loaded first.
func (s *Store) ListDocuments(limit int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, title, source, chars, chunks, loaded_at
		FROM documents ORDER BY loaded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var d Document
	var loadedAt string
	if err := row.Scan(&d.ID, &d.Title, &d.Source, &d.Chars, &d.Chunks, &loadedAt); err != nil {
		return Document{}, err
	}
	t, err := parseTime(loadedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing loaded_at: %w", err)
	}
	d.LoadedAt = t
	return d, nil
}

// --- Messages ---

// SaveMessage appends msg to its document's transcript. ID and Seq are
// assigned when zero. The document must exist.
func (s *Store) SaveMessage(msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("beginning message transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.Seq == 0 {
		if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE document_id = ?`, msg.DocumentID).Scan(&msg.Seq); err != nil {
			return Message{}, fmt.Errorf("computing message sequence: %w", err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, document_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.DocumentID, msg.Seq, msg.Role, msg.Content, msg.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("committing message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the transcript of documentID in order.
func (s *Store) ListMessages(documentID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, seq, role, content, created_at
		FROM messages WHERE document_id = ? ORDER BY seq ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Message{}
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Seq, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteMessages removes the transcript of documentID and reports how many
// messages were deleted.
func (s *Store) DeleteMessages(documentID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
