package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/ingest"
)

// DocumentRequest loads inline content, a file path / URL, or a blob of
// the configured container.
type DocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Blob    string `json:"blob"`
}

type AskRequest struct {
	Query string `json:"query"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

type HistoryResponse struct {
	Messages []chat.Message `json:"messages"`
}

func handleSubmitDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if blob := strings.TrimSpace(req.Blob); blob != "" {
			if strings.TrimSpace(req.Source) != "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "source and blob cannot be combined")
				return
			}
			if deps.ResolveBlob == nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "blob sources are not enabled")
				return
			}
			ref, err := deps.ResolveBlob(blob)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "resolving blob: %v", err)
				return
			}
			req.Source = ref
		}
		if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.Source) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content, source or blob is required")
			return
		}

		job, err := deps.Loader.Submit(ingest.Request{Title: req.Title, Content: req.Content, Source: req.Source})
		switch {
		case errors.Is(err, ingest.ErrQueueFull):
			httpError(w, http.StatusServiceUnavailable, "queue_full", "%v", err)
			return
		case errors.Is(err, conversation.ErrInvalidArgument):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "submitting document: %v", err)
			return
		}

		slog.Debug("document submitted", "job", job.ID, "version", job.Version)
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, ok := deps.Loader.Job(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "job %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCurrentDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Conversation.Status())
	}
}

// ChunksResponse lists the chunks of the indexed document in order.
type ChunksResponse struct {
	Chunks []chunker.Chunk `json:"chunks"`
}

func handleCurrentChunks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunks := deps.Conversation.Chunks()
		if chunks == nil {
			httpError(w, http.StatusConflict, "not_ready", "no document is indexed")
			return
		}
		writeJSON(w, http.StatusOK, ChunksResponse{Chunks: chunks})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		docs, err := deps.Documents.ListDocuments(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		answer, err := deps.Conversation.Ask(r.Context(), req.Query)
		if err != nil {
			code, errType := askError(err)
			if code >= http.StatusInternalServerError {
				slog.Warn("ask failed", "error", err)
			}
			httpError(w, code, errType, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, AskResponse{Answer: answer})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, historyOf(deps.Conversation))
	}
}

func handleResetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Conversation.Reset(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyOf(c Conversation) HistoryResponse {
	msgs := c.History()
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return HistoryResponse{Messages: msgs}
}
