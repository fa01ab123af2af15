// Package chunker splits raw document text into overlapping windows.
package chunker

import (
	"errors"
	"fmt"
	"unicode"
)

const (
	DefaultSize    = 2000
	DefaultOverlap = 200
)

// ErrInvalidArgument is returned for chunk parameters that cannot produce
// a forward-moving window.
var ErrInvalidArgument = errors.New("invalid argument")

// Chunk is one window of the source text. Start and End are rune offsets
// into the source and bound Text exactly.
type Chunk struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int { return c.End - c.Start }

// Validate reports whether size and overlap describe a usable window.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("chunk size %d must be positive: %w", size, ErrInvalidArgument)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("overlap %d must be in [0, %d): %w", overlap, size, ErrInvalidArgument)
	}
	return nil
}

// Split cuts text into windows of size runes, each starting size-overlap
// runes after the previous one. Windows are trimmed of surrounding
// whitespace and dropped when blank. Once a window reaches the end of the
// text no further windows are produced.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	step := size - overlap
	chunks := make([]Chunk, 0, n/step+1)

	for start := 0; start < n; start += step {
		end := min(start+size, n)

		lo, hi := start, end
		for lo < hi && unicode.IsSpace(runes[lo]) {
			lo++
		}
		for hi > lo && unicode.IsSpace(runes[hi-1]) {
			hi--
		}
		if lo < hi {
			chunks = append(chunks, Chunk{
				ID:    len(chunks),
				Text:  string(runes[lo:hi]),
				Start: lo,
				End:   hi,
			})
		}

		if end == n {
			break
		}
	}
	return chunks, nil
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
