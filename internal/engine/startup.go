package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and that every named
// model is available, pulling missing ones where the backend allows it.
// Progress is written to w. Empty and repeated names are skipped.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return errors.New("inference engine is not reachable; start it (for Ollama: ollama serve) or check engine.backend")
	}
	for _, model := range distinct(models) {
		if !e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: pulling...\n", model)
			if err := pull(ctx, e, w, model); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

func pull(ctx context.Context, e Engine, w io.Writer, model string) error {
	last := ""
	err := e.PullModel(ctx, model, func(p PullProgress) {
		line := p.Status
		if p.Total > 0 {
			line = fmt.Sprintf("%s %d%%", p.Status, p.Completed*100/p.Total)
		}
		if line != last {
			fmt.Fprintf(w, "  %s\n", line)
			last = line
		}
	})
	switch {
	case errors.Is(err, ErrPullUnsupported):
		return fmt.Errorf("model %s is not available on this backend", model)
	case err != nil:
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	return nil
}

// distinct drops empty names and repeats, keeping first-seen order.
func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, dup := seen[n]; n == "" || dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
