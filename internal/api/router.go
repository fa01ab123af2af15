// Package api exposes a Conversation over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/ingest"
	"github.com/kalambet/askdoc/internal/retrieval"
	"github.com/kalambet/askdoc/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Larger bodies are accepted for document uploads.
const maxDocumentBodySize = 10 << 20

// Conversation is the part of conversation.Conversation the API drives.
type Conversation interface {
	LoadDocument(ctx context.Context, doc conversation.Document) (conversation.Status, error)
	Ask(ctx context.Context, query string) (string, error)
	Reset(ctx context.Context)
	History() []chat.Message
	Status() conversation.Status
	Chunks() []chunker.Chunk
}

// Loader queues document loads in the background.
type Loader interface {
	Submit(req ingest.Request) (ingest.Job, error)
	Job(id string) (ingest.Job, bool)
}

// DocumentLister reads the log of previously loaded documents.
type DocumentLister interface {
	ListDocuments(limit int) ([]storage.Document, error)
}

type Deps struct {
	Conversation Conversation
	Loader       Loader
	Documents    DocumentLister // optional; if nil, GET /v1/documents returns 404
	Token        string

	// ResolveBlob maps a blob name to a readable URL. If nil, requests
	// naming a blob are rejected.
	ResolveBlob func(name string) (string, error)
}

// NewHandler returns the REST API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/documents", handleSubmitDocument(deps))
		r.Get("/v1/documents/current", handleCurrentDocument(deps))
		r.Get("/v1/documents/current/chunks", handleCurrentChunks(deps))
		r.Get("/v1/documents/jobs/{id}", handleGetJob(deps))
		if deps.Documents != nil {
			r.Get("/v1/documents", handleListDocuments(deps))
		}
		r.Post("/v1/ask", handleAsk(deps))
		r.Get("/v1/history", handleHistory(deps))
		r.Delete("/v1/history", handleResetHistory(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// askError maps a conversation error to a status code and error type.
func askError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, conversation.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, conversation.ErrSuperseded):
		return http.StatusConflict, "superseded"
	// Provider errors wrap the context error, so the deadline goes first.
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, conversation.ErrCompletionProvider),
		errors.Is(err, retrieval.ErrEmbeddingProvider),
		errors.Is(err, retrieval.ErrProviderContract):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
