// Package config loads askdoc settings from the platform backend,
// ASKDOC_* environment variables and the platform secret store.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/source"
)

// ErrNoContainer is returned by BlobURL when no container SAS is set.
var ErrNoContainer = errors.New("no blob container configured; store one with: askdoc config set-secret source.container_sas")

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Engine     EngineConfig
	Ollama     OllamaConfig
	OpenAI     OpenAIConfig
	Completion CompletionConfig
	Proxy      ProxyConfig
	Chunker    ChunkerConfig
	Retrieval  RetrievalConfig
	Budget     BudgetConfig
	Chat       ChatConfig
	Storage    StorageConfig
	Source     SourceConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

type EngineConfig struct {
	Backend string // "ollama" or "openai"
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	APIVersion string // non-empty selects Azure OpenAI routing
	ChatModel  string
	EmbedModel string
}

type CompletionConfig struct {
	Provider string // "engine" or "openrouter"
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type ChunkerConfig struct {
	Size    int
	Overlap int
}

type RetrievalConfig struct {
	TopK           int
	EmbedBatchSize int
	CacheSize      int
	CacheTTL       string
}

type BudgetConfig struct {
	ContextChars int
}

type ChatConfig struct {
	SystemInstruction string
	Temperature       float64
	MaxTokens         int
}

type StorageConfig struct {
	DataDir string
}

type SourceConfig struct {
	ContainerSAS string // container URL with its SAS query string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4000},
		Log:    LogConfig{Level: "info"},
		Engine: EngineConfig{Backend: "ollama"},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		OpenAI: OpenAIConfig{
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Completion: CompletionConfig{Provider: "engine"},
		Proxy:      ProxyConfig{DefaultModel: "openai/gpt-4o-mini"},
		Chunker:    ChunkerConfig{Size: chunker.DefaultSize, Overlap: chunker.DefaultOverlap},
		Retrieval: RetrievalConfig{
			TopK:           5,
			EmbedBatchSize: 16,
			CacheSize:      256,
			CacheTTL:       "30m",
		},
		Budget: BudgetConfig{ContextChars: 12000},
		Chat: ChatConfig{
			SystemInstruction: "Sei un assistente che risponde SOLO sulla base del documento fornito.",
			Temperature:       0.3,
			MaxTokens:         600,
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.askdoc.app) and secrets
// fall back to the macOS Keychain (service: askdoc).
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/askdoc/config.yaml
// and secrets fall back to $XDG_DATA_HOME/askdoc/secrets.yaml.
//
// Environment variables (ASKDOC_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), platformKeychain{})
}

// Backend persists non-secret keys. Values are addressed by their dotted
// key, e.g. "retrieval.top_k".
type Backend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const keychainService = "askdoc"

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)
	return cfg, nil
}

// applySecrets fills secrets still empty after env overrides from the
// secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, strings.TrimSpace(v))
		}
	}
}

// ChatModel is the completion model for the selected provider.
func (c Config) ChatModel() string {
	if c.Completion.Provider == "openrouter" {
		return c.Proxy.DefaultModel
	}
	if c.Engine.Backend == "openai" {
		return c.OpenAI.ChatModel
	}
	return c.Ollama.ChatModel
}

// EmbedModel is the embedding model of the selected engine.
func (c Config) EmbedModel() string {
	if c.Engine.Backend == "openai" {
		return c.OpenAI.EmbedModel
	}
	return c.Ollama.EmbedModel
}

// BlobURL resolves a blob name inside the configured container.
func (c Config) BlobURL(name string) (string, error) {
	if c.Source.ContainerSAS == "" {
		return "", ErrNoContainer
	}
	return source.BlobURL(c.Source.ContainerSAS, name)
}

// CacheTTL parses retrieval.cache_ttl. Zero means entries do not expire.
func (c Config) CacheTTL() (time.Duration, error) {
	if c.Retrieval.CacheTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Retrieval.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("retrieval.cache_ttl: %w", err)
	}
	return d, nil
}

// SlogLevel maps log.level to a slog level; unknown names mean info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Validate reports every setting that would make the pipeline fail.
func (c Config) Validate() error {
	var errs []error
	if err := chunker.Validate(c.Chunker.Size, c.Chunker.Overlap); err != nil {
		errs = append(errs, fmt.Errorf("chunker.size/chunker.overlap: %w", err))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.embed_batch_size must be positive, got %d", c.Retrieval.EmbedBatchSize))
	}
	if c.Retrieval.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("retrieval.cache_size must not be negative, got %d", c.Retrieval.CacheSize))
	}
	if _, err := c.CacheTTL(); err != nil {
		errs = append(errs, err)
	}
	if c.Budget.ContextChars <= 0 {
		errs = append(errs, fmt.Errorf("budget.context_chars must be positive, got %d", c.Budget.ContextChars))
	}
	switch c.Engine.Backend {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("engine.backend must be ollama or openai, got %q", c.Engine.Backend))
	}
	switch c.Completion.Provider {
	case "engine":
	case "openrouter":
		if c.Proxy.OpenRouterAPIKey == "" {
			errs = append(errs, errors.New("missing required config: OpenRouter API key. "+
				"Set it via environment variable ASKDOC_OPENROUTER_API_KEY"+apiKeyHint("openrouter_api_key")))
		}
	default:
		errs = append(errs, fmt.Errorf("completion.provider must be engine or openrouter, got %q", c.Completion.Provider))
	}
	return errors.Join(errs...)
}
