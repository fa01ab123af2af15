// Package composer assembles the context handed to the completion model
// from a system instruction, retrieved document chunks and conversation
// history under one shared size budget.
package composer

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/retrieval"
)

const (
	// DefaultBudget is the shared context size in characters.
	DefaultBudget = 12000

	// DefaultDelimiter separates retrieved chunks inside the excerpt block.
	DefaultDelimiter = "\n\n"
)

// ErrInvalidBudget is returned when the budget is not positive.
var ErrInvalidBudget = errors.New("context budget must be positive")

// BlockKind tells where a block came from.
type BlockKind int

const (
	KindSystem BlockKind = iota + 1
	KindExcerpt
	KindHistory
)

func (k BlockKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindExcerpt:
		return "excerpt"
	case KindHistory:
		return "history"
	}
	return fmt.Sprintf("BlockKind(%d)", int(k))
}

// Block is one element of the assembled context.
type Block struct {
	Kind    BlockKind
	Role    chat.Role
	Content string
	// Timestamp is carried through from history messages.
	Timestamp time.Time
}

// Composer holds the budget policy. Budget must be set; the zero value
// emits nothing.
type Composer struct {
	Budget    int
	Delimiter string
	// ExcerptHeader prefixes the excerpt block and counts toward the budget.
	// When it does not fit, no excerpt is emitted.
	ExcerptHeader string
}

// Assemble is Composer.Assemble with the default delimiter and no header.
func Assemble(system string, retrieved []retrieval.ScoredChunk, history []chat.Message, budget int) ([]Block, error) {
	c := Composer{Budget: budget, Delimiter: DefaultDelimiter}
	return c.Assemble(system, retrieved, history)
}

// Assemble builds the context in priority order:
//
//  1. the system instruction, always and in full;
//  2. retrieved chunks in rank order, joined by the delimiter, with the
//     first chunk that does not fit cut to the remaining budget and
//     nothing after it;
//  3. the longest suffix of history whose messages fit whole, in
//     chronological order.
//
// Sizes are counted in runes. The output length never exceeds
// max(budget, len(system)).
func (c *Composer) Assemble(system string, retrieved []retrieval.ScoredChunk, history []chat.Message) ([]Block, error) {
	if c.Budget <= 0 {
		return nil, fmt.Errorf("budget %d: %w", c.Budget, ErrInvalidBudget)
	}

	blocks := make([]Block, 0, 2+len(history))
	blocks = append(blocks, Block{Kind: KindSystem, Role: chat.RoleSystem, Content: system})
	remaining := max(0, c.Budget-utf8.RuneCountInString(system))

	if excerpt, used := c.excerpt(retrieved, remaining); excerpt != "" {
		blocks = append(blocks, Block{Kind: KindExcerpt, Role: chat.RoleSystem, Content: excerpt})
		remaining -= used
	}

	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(history[i].Content)
		if n > remaining {
			break
		}
		remaining -= n
		kept++
	}
	for _, m := range history[len(history)-kept:] {
		blocks = append(blocks, Block{Kind: KindHistory, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}

	return blocks, nil
}

// excerpt joins chunks into at most remaining runes and reports how many
// runes it used.
func (c *Composer) excerpt(retrieved []retrieval.ScoredChunk, remaining int) (string, int) {
	if len(retrieved) == 0 {
		return "", 0
	}
	header := utf8.RuneCountInString(c.ExcerptHeader)
	if header >= remaining {
		return "", 0
	}

	var sb strings.Builder
	sb.WriteString(c.ExcerptHeader)
	used := header
	delim := utf8.RuneCountInString(c.Delimiter)
	written := 0

	for _, sc := range retrieved {
		sep := 0
		if written > 0 {
			sep = delim
		}
		text := sc.Chunk.Text
		n := utf8.RuneCountInString(text)

		if used+sep+n <= remaining {
			if sep > 0 {
				sb.WriteString(c.Delimiter)
			}
			sb.WriteString(text)
			used += sep + n
			written++
			continue
		}

		if room := remaining - used - sep; room > 0 {
			if sep > 0 {
				sb.WriteString(c.Delimiter)
			}
			sb.WriteString(truncateRunes(text, room))
			used += sep + room
			written++
		}
		break
	}

	if written == 0 {
		return "", 0
	}
	return sb.String(), used
}

// Messages converts blocks to the message list sent to the completion model.
func Messages(blocks []Block) []chat.Message {
	out := make([]chat.Message, len(blocks))
	for i, b := range blocks {
		out[i] = chat.Message{Role: b.Role, Content: b.Content, Timestamp: b.Timestamp}
	}
	return out
}

// Length returns the total size of blocks in runes.
func Length(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		n += utf8.RuneCountInString(b.Content)
	}
	return n
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
