package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kalambet/askdoc/internal/config"
	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/engine"
	"github.com/kalambet/askdoc/internal/proxy"
	"github.com/kalambet/askdoc/internal/retrieval"
	"github.com/kalambet/askdoc/internal/source"
	"github.com/kalambet/askdoc/internal/storage"
)

// runtime is the wired pipeline shared by serve, chat and ask.
type runtime struct {
	cfg        config.Config
	engine     engine.Engine
	store      *storage.Store // nil unless requested
	conv       *conversation.Conversation
	httpClient *http.Client
}

// newRuntime checks the engine, then builds the conversation. With
// persist set, documents and messages are logged to SQLite.
func newRuntime(ctx context.Context, cfg config.Config, persist bool) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	models := []string{cfg.EmbedModel()}
	if cfg.Completion.Provider != "openrouter" {
		models = append(models, cfg.ChatModel())
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, models...); err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:        cfg,
		engine:     eng,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	embedder := retrieval.NewEmbedder(eng, cfg.EmbedModel())
	opts := conversation.Options{
		ChunkSize:         cfg.Chunker.Size,
		Overlap:           cfg.Chunker.Overlap,
		TopK:              cfg.Retrieval.TopK,
		Budget:            cfg.Budget.ContextChars,
		EmbedBatchSize:    cfg.Retrieval.EmbedBatchSize,
		SystemInstruction: cfg.Chat.SystemInstruction,
		QueryEmbedder:     retrieval.NewCachedEmbedder(embedder, cfg.EmbedModel(), cfg.Retrieval.CacheSize, ttl),
	}

	if persist {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		rt.store = store
		opts.Recorder = storage.NewRecorder(store)
	}

	conv, err := conversation.New(embedder, newCompleter(cfg, eng), opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.conv = conv

	slog.Debug("pipeline ready",
		"backend", cfg.Engine.Backend,
		"provider", cfg.Completion.Provider,
		"chat_model", cfg.ChatModel(),
		"embed_model", cfg.EmbedModel(),
	)
	return rt, nil
}

func newEngine(cfg config.Config) (engine.Engine, error) {
	return engine.New(engine.Config{
		Backend:       cfg.Engine.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAI: engine.OpenAIConfig{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKey:     cfg.OpenAI.APIKey,
			APIVersion: cfg.OpenAI.APIVersion,
		},
	})
}

// newCompleter picks the chat backend named by completion.provider.
func newCompleter(cfg config.Config, eng engine.Engine) conversation.Completer {
	temp := cfg.Chat.Temperature
	if cfg.Completion.Provider == "openrouter" {
		return &proxy.Completer{
			Client:  proxy.NewClient(cfg.Proxy.OpenRouterAPIKey),
			Model:   cfg.Proxy.DefaultModel,
			Options: &proxy.ChatOptions{Temperature: &temp, MaxTokens: cfg.Chat.MaxTokens},
		}
	}
	return &engine.Completer{
		Engine:  eng,
		Model:   cfg.ChatModel(),
		Options: &engine.ChatOptions{Temperature: &temp, MaxTokens: cfg.Chat.MaxTokens},
	}
}

func (rt *runtime) fetch(ctx context.Context, ref string) (source.Text, error) {
	return source.Load(ctx, ref, rt.httpClient)
}

// load reads ref and makes it the current document.
func (rt *runtime) load(ctx context.Context, ref string) (conversation.Status, error) {
	text, err := rt.fetch(ctx, ref)
	if err != nil {
		return conversation.Status{}, err
	}
	printStep("Indexing %s (%d chars)", text.Title, len([]rune(text.Content)))
	return rt.conv.LoadDocument(ctx, conversation.Document{
		Title:  text.Title,
		Source: text.Source,
		Text:   text.Content,
	})
}

func (rt *runtime) Close() {
	if rt.store == nil {
		return
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}
