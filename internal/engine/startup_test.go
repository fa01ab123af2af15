package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kalambet/askdoc/internal/chat"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
	pullErr   error

	chatModel string
	chatMsgs  []Message
	chatOpts  *ChatOptions
}

func (m *mockEngine) Chat(_ context.Context, model string, msgs []Message, opts *ChatOptions) (string, error) {
	m.chatModel, m.chatMsgs, m.chatOpts = model, msgs, opts
	return "ok", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	if m.pullErr != nil {
		return m.pullErr
	}
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"llama3.2": true, "nomic-embed-text": true}}
	if err := EnsureReady(context.Background(), m, io.Discard, "llama3.2", "nomic-embed-text"); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissingOnce(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"llama3.2": true}}
	var out strings.Builder
	err := EnsureReady(context.Background(), m, &out, "llama3.2", "nomic-embed-text", "nomic-embed-text", "")
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "nomic-embed-text" {
		t.Errorf("pulled = %v, want [nomic-embed-text]", m.pulled)
	}
	if !strings.Contains(out.String(), "model nomic-embed-text: pulling") {
		t.Errorf("output = %q, want pulling line", out.String())
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false}
	if err := EnsureReady(context.Background(), m, io.Discard, "llama3.2"); err == nil {
		t.Fatal("expected error when engine is down")
	}
}

func TestEnsureReady_PullUnsupported(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}, pullErr: ErrPullUnsupported}
	err := EnsureReady(context.Background(), m, io.Discard, "gpt-4o-mini")
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("error = %v, want not available", err)
	}

	m.pullErr = errors.New("disk full")
	if err := EnsureReady(context.Background(), m, io.Discard, "gpt-4o-mini"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v, want wrapped disk full", err)
	}
}

func TestCompleter_ConvertsRoles(t *testing.T) {
	m := &mockEngine{}
	temp := 0.3
	c := &Completer{Engine: m, Model: "llama3.2", Options: &ChatOptions{Temperature: &temp}}

	reply, err := c.Complete(context.Background(), []chat.Message{
		{Role: chat.RoleSystem, Content: "sys"},
		{Role: chat.RoleUser, Content: "q"},
		{Role: chat.RoleAssistant, Content: "a"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q", reply)
	}
	if m.chatModel != "llama3.2" || m.chatOpts != c.Options {
		t.Errorf("model = %q opts = %v", m.chatModel, m.chatOpts)
	}
	roles := []string{m.chatMsgs[0].Role, m.chatMsgs[1].Role, m.chatMsgs[2].Role}
	if strings.Join(roles, ",") != "system,user,assistant" {
		t.Errorf("roles = %v", roles)
	}
}
