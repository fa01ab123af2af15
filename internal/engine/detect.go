package engine

import "fmt"

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config selects and configures an inference backend.
type Config struct {
	Backend       string
	OllamaBaseURL string
	OpenAI        OpenAIConfig
}

// New returns the engine named by cfg.Backend. An empty name selects Ollama.
func New(cfg Config) (Engine, error) {
	switch cfg.Backend {
	case "", BackendOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case BackendOpenAI:
		return NewOpenAIEngine(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q (want %s or %s)", cfg.Backend, BackendOllama, BackendOpenAI)
	}
}
