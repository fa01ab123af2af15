// Package conversation runs question answering over one loaded document:
// it owns the document, its embedding index and the chat history, and
// drives chunking, retrieval, context assembly and completion per turn.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/composer"
	"github.com/kalambet/askdoc/internal/retrieval"
)

// DefaultSystemInstruction restricts answers to the loaded document.
const DefaultSystemInstruction = "Sei un assistente che risponde SOLO sulla base del documento fornito."

// DefaultExcerptHeader labels the retrieved excerpt for the model.
const DefaultExcerptHeader = "Contenuto documento:\n"

var (
	ErrInvalidArgument = chunker.ErrInvalidArgument

	// ErrNotReady is returned by Ask while no index is available.
	ErrNotReady = errors.New("no document index is ready")

	// ErrCompletionProvider wraps failures of the completion call.
	ErrCompletionProvider = errors.New("completion provider error")

	// ErrSuperseded is returned when a newer document replaced the one a
	// load or a turn was working on.
	ErrSuperseded = errors.New("superseded by a newer document")
)

// Completer produces the assistant reply for an assembled message list.
type Completer interface {
	Complete(ctx context.Context, messages []chat.Message) (string, error)
}

// Recorder persists conversation events. Failures are logged and do not
// affect the conversation.
type Recorder interface {
	RecordDocument(ctx context.Context, doc DocumentInfo, chunks int) error
	RecordMessage(ctx context.Context, version string, msg chat.Message) error
	ClearMessages(ctx context.Context, version string) error
}

// Options configures a Conversation. Zero fields take their defaults.
type Options struct {
	ChunkSize         int
	Overlap           int
	TopK              int
	Budget            int
	EmbedBatchSize    int
	SystemInstruction string

	// ExcerptHeader labels the excerpt block. Nil takes the default; a
	// pointer to "" sends the excerpt unlabelled.
	ExcerptHeader *string

	// QueryEmbedder embeds questions. Defaults to the index embedder; set it
	// to a retrieval.CachedEmbedder to memoize repeated questions.
	QueryEmbedder retrieval.BatchEmbedder
	Recorder      Recorder
	Clock         func() time.Time
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:         chunker.DefaultSize,
		Overlap:           chunker.DefaultOverlap,
		TopK:              retrieval.DefaultTopK,
		Budget:            composer.DefaultBudget,
		EmbedBatchSize:    retrieval.DefaultBatchSize,
		SystemInstruction: DefaultSystemInstruction,
		ExcerptHeader:     ptr(DefaultExcerptHeader),
		Clock:             time.Now,
	}
}

func ptr[T any](v T) *T { return &v }

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize == 0 {
		o.ChunkSize = d.ChunkSize
		if o.Overlap == 0 {
			o.Overlap = d.Overlap
		}
	}
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.Budget <= 0 {
		o.Budget = d.Budget
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = d.EmbedBatchSize
	}
	if o.SystemInstruction == "" {
		o.SystemInstruction = d.SystemInstruction
	}
	if o.ExcerptHeader == nil {
		o.ExcerptHeader = d.ExcerptHeader
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// Document is the raw text of one document version.
type Document struct {
	Version  string
	Title    string
	Source   string
	Text     string
	LoadedAt time.Time
}

// Info returns the document metadata without its text.
func (d Document) Info() DocumentInfo {
	return DocumentInfo{
		Version:  d.Version,
		Title:    d.Title,
		Source:   d.Source,
		Chars:    utf8.RuneCountInString(d.Text),
		LoadedAt: d.LoadedAt,
	}
}

// DocumentInfo describes a document without carrying its text.
type DocumentInfo struct {
	Version  string    `json:"version"`
	Title    string    `json:"title,omitempty"`
	Source   string    `json:"source,omitempty"`
	Chars    int       `json:"chars"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Status is a point-in-time view of a Conversation.
type Status struct {
	State     State         `json:"state"`
	Document  *DocumentInfo `json:"document,omitempty"`
	Chunks    int           `json:"chunks"`
	Messages  int           `json:"messages"`
	LastError string        `json:"last_error,omitempty"`
}

// snapshot binds an index to the document it was built from. It is
// swapped in whole and never modified.
type snapshot struct {
	doc   Document
	index *retrieval.Index
}

// Conversation is safe for concurrent use.
type Conversation struct {
	embedder  retrieval.BatchEmbedder
	retriever *retrieval.Retriever
	completer Completer
	composer  composer.Composer
	opts      Options

	current atomic.Pointer[snapshot]

	mu       sync.Mutex
	state    State
	loadGen  uint64
	building *DocumentInfo
	epoch    uint64
	history  []chat.Message
	lastErr  error
}

// New creates a Conversation in StateNoDocument.
func New(emb retrieval.BatchEmbedder, comp Completer, opts Options) (*Conversation, error) {
	if emb == nil || comp == nil {
		return nil, fmt.Errorf("embedder and completer are required: %w", ErrInvalidArgument)
	}
	opts = opts.withDefaults()
	if err := chunker.Validate(opts.ChunkSize, opts.Overlap); err != nil {
		return nil, err
	}

	queryEmb := opts.QueryEmbedder
	if queryEmb == nil {
		queryEmb = emb
	}

	return &Conversation{
		embedder:  emb,
		retriever: retrieval.NewRetriever(queryEmb, opts.TopK),
		completer: comp,
		composer: composer.Composer{
			Budget:        opts.Budget,
			Delimiter:     composer.DefaultDelimiter,
			ExcerptHeader: *opts.ExcerptHeader,
		},
		opts:  opts,
		state: StateNoDocument,
	}, nil
}

// LoadDocument replaces the current document. History is cleared and the
// conversation is not ready until the new index is built. On failure the
// conversation stays without a document. If another load starts before
// this one finishes, this one returns ErrSuperseded and installs nothing.
func (c *Conversation) LoadDocument(ctx context.Context, doc Document) (Status, error) {
	if doc.Version == "" {
		doc.Version = uuid.NewString()
	}
	if doc.LoadedAt.IsZero() {
		doc.LoadedAt = c.opts.Clock()
	}
	info := doc.Info()

	c.mu.Lock()
	c.current.Store(nil)
	c.state = StateNoDocument
	c.history = nil
	c.epoch++
	c.lastErr = nil
	c.loadGen++
	gen := c.loadGen
	c.state = StateIndexBuilding
	c.building = &info
	c.mu.Unlock()

	slog.Debug("loading document", "version", doc.Version, "chars", info.Chars)

	idx, err := c.buildIndex(ctx, doc.Text)

	// The document row must exist before a turn can record against it, so
	// it is written before the snapshot is published.
	if r := c.opts.Recorder; r != nil && err == nil && c.isLatestLoad(gen) {
		if rerr := r.RecordDocument(ctx, info, idx.Len()); rerr != nil {
			slog.Warn("recording document failed", "version", doc.Version, "error", rerr)
		}
	}

	c.mu.Lock()
	if gen != c.loadGen {
		c.mu.Unlock()
		return c.Status(), fmt.Errorf("loading document %s: %w", doc.Version, ErrSuperseded)
	}
	c.building = nil
	if err != nil {
		c.state = StateNoDocument
		c.lastErr = err
		c.mu.Unlock()
		return c.Status(), fmt.Errorf("loading document %s: %w", doc.Version, err)
	}
	c.current.Store(&snapshot{doc: doc, index: idx})
	c.state = StateReady
	c.mu.Unlock()

	slog.Debug("document ready", "version", doc.Version, "chunks", idx.Len())
	return c.Status(), nil
}

func (c *Conversation) isLatestLoad(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.loadGen
}

func (c *Conversation) buildIndex(ctx context.Context, text string) (*retrieval.Index, error) {
	chunks, err := chunker.Split(text, c.opts.ChunkSize, c.opts.Overlap)
	if err != nil {
		return nil, fmt.Errorf("chunking: %w", err)
	}
	idx, err := retrieval.Build(ctx, chunks, c.embedder, c.opts.EmbedBatchSize)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	return idx, nil
}

// Ask answers query from the current document. The question and the reply
// are appended to history only after the completion succeeded and only if
// the turn was not cancelled, reset or superseded meanwhile.
func (c *Conversation) Ask(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("empty question: %w", ErrInvalidArgument)
	}

	c.mu.Lock()
	snap := c.current.Load()
	ready := c.state == StateReady && snap != nil
	epoch := c.epoch
	hist := make([]chat.Message, len(c.history))
	copy(hist, c.history)
	c.mu.Unlock()

	if !ready {
		return "", ErrNotReady
	}

	room := c.opts.Budget - utf8.RuneCountInString(query)
	if room < 1 {
		return "", fmt.Errorf("question exceeds the %d character context budget: %w", c.opts.Budget, ErrInvalidArgument)
	}
	question := chat.Message{Role: chat.RoleUser, Content: query, Timestamp: c.opts.Clock()}

	scored, err := c.retriever.Retrieve(ctx, snap.index, query)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}

	comp := c.composer
	comp.Budget = room
	blocks, err := comp.Assemble(c.opts.SystemInstruction, scored, hist)
	if err != nil {
		return "", fmt.Errorf("assembling context: %w", err)
	}
	messages := append(composer.Messages(blocks), question)

	reply, err := c.completer.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletionProvider, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer := chat.Message{Role: chat.RoleAssistant, Content: reply, Timestamp: c.opts.Clock()}

	c.mu.Lock()
	if c.current.Load() != snap {
		c.mu.Unlock()
		return "", fmt.Errorf("answering: %w", ErrSuperseded)
	}
	appended := c.epoch == epoch
	if appended {
		c.history = append(c.history, question, answer)
	}
	c.mu.Unlock()

	slog.Debug("turn answered",
		"version", snap.doc.Version,
		"chunks_used", len(scored),
		"context_chars", composer.Length(blocks),
		"recorded", appended,
	)

	if r := c.opts.Recorder; r != nil && appended {
		for _, m := range []chat.Message{question, answer} {
			if err := r.RecordMessage(ctx, snap.doc.Version, m); err != nil {
				slog.Warn("recording message failed", "version", snap.doc.Version, "error", err)
			}
		}
	}
	return reply, nil
}

// Reset clears the chat history and keeps the document and its index.
func (c *Conversation) Reset(ctx context.Context) {
	c.mu.Lock()
	c.history = nil
	c.epoch++
	snap := c.current.Load()
	c.mu.Unlock()

	if r := c.opts.Recorder; r != nil && snap != nil {
		if err := r.ClearMessages(ctx, snap.doc.Version); err != nil {
			slog.Warn("clearing recorded messages failed", "version", snap.doc.Version, "error", err)
		}
	}
}

// History returns a copy of the conversation so far.
func (c *Conversation) History() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Message, len(c.history))
	copy(out, c.history)
	return out
}

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports the state, the current or pending document and sizes.
func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state, Messages: len(c.history)}
	if snap := c.current.Load(); snap != nil {
		info := snap.doc.Info()
		st.Document = &info
		st.Chunks = snap.index.Len()
	} else if c.building != nil {
		info := *c.building
		st.Document = &info
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Chunks returns the chunks of the current index, or nil when none is ready.
func (c *Conversation) Chunks() []chunker.Chunk {
	if snap := c.current.Load(); snap != nil {
		return snap.index.Chunks()
	}
	return nil
}
