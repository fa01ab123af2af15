package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/ingest"
	"github.com/kalambet/askdoc/internal/retrieval"
	"github.com/kalambet/askdoc/internal/storage"
)

const testToken = "secret-token"

// --- mocks ---

type mockConversation struct {
	mu      sync.Mutex
	status  conversation.Status
	answer  string
	askErr  error
	loadErr error
	history []chat.Message
	loaded  []conversation.Document
	queries []string
	resets  int
	chunks  []chunker.Chunk
}

func (m *mockConversation) LoadDocument(_ context.Context, doc conversation.Document) (conversation.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, doc)
	if m.loadErr != nil {
		return conversation.Status{State: conversation.StateNoDocument}, m.loadErr
	}
	info := doc.Info()
	m.status = conversation.Status{State: conversation.StateReady, Document: &info, Chunks: 3}
	return m.status, nil
}

func (m *mockConversation) Ask(_ context.Context, query string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.askErr != nil {
		return "", m.askErr
	}
	return m.answer, nil
}

func (m *mockConversation) Reset(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.history = nil
}

func (m *mockConversation) History() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

func (m *mockConversation) Chunks() []chunker.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

func (m *mockConversation) Status() conversation.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

type mockLoader struct {
	jobs      map[string]ingest.Job
	submitted []ingest.Request
	err       error
}

func (m *mockLoader) Submit(req ingest.Request) (ingest.Job, error) {
	if m.err != nil {
		return ingest.Job{}, m.err
	}
	m.submitted = append(m.submitted, req)
	job := ingest.Job{ID: fmt.Sprintf("job-%d", len(m.submitted)), Version: "v1", State: ingest.JobPending}
	if m.jobs == nil {
		m.jobs = map[string]ingest.Job{}
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *mockLoader) Job(id string) (ingest.Job, bool) {
	j, ok := m.jobs[id]
	return j, ok
}

type mockLister struct {
	docs  []storage.Document
	limit int
}

func (m *mockLister) ListDocuments(limit int) ([]storage.Document, error) {
	m.limit = limit
	return m.docs, nil
}

// --- helpers ---

func newTestHandler(conv *mockConversation, loader *mockLoader) http.Handler {
	return NewHandler(Deps{Conversation: conv, Loader: loader, Token: testToken})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := newTestHandler(&mockConversation{}, &mockLoader{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(&mockConversation{}, &mockLoader{})

	for _, auth := range []string{"", "Bearer wrong", "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rr.Code)
		}
	}
}

func TestBearerAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		token, header string
		want          int
	}{
		{"secret", "Bearer secret", http.StatusOK},
		{"secret", "bearer secret", http.StatusOK},
		{"secret", "Bearer  secret ", http.StatusOK},
		{"secret", "Bearer", http.StatusUnauthorized},
		{"secret", "Bearer secret2", http.StatusUnauthorized},
		{"", "Bearer ", http.StatusUnauthorized},
		{"", "Bearer anything", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tt.header)
		rr := httptest.NewRecorder()
		BearerAuth(tt.token)(ok).ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("token %q header %q: status = %d, want %d", tt.token, tt.header, rr.Code, tt.want)
		}
		if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("header %q: missing WWW-Authenticate", tt.header)
		}
	}
}

func TestSubmitDocument(t *testing.T) {
	loader := &mockLoader{}
	h := newTestHandler(&mockConversation{}, loader)

	rr := do(t, h, http.MethodPost, "/v1/documents", `{"title":"Contratto","content":"Il canone è mensile."}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var job ingest.Job
	json.NewDecoder(rr.Body).Decode(&job)
	if job.ID != "job-1" || job.State != ingest.JobPending {
		t.Errorf("job = %+v", job)
	}
	if len(loader.submitted) != 1 || loader.submitted[0].Title != "Contratto" {
		t.Errorf("submitted = %+v", loader.submitted)
	}

	rr = do(t, h, http.MethodGet, "/v1/documents/jobs/job-1", "")
	if rr.Code != http.StatusOK {
		t.Errorf("get job status = %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/documents/jobs/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rr.Code)
	}
}

func TestSubmitDocument_Blob(t *testing.T) {
	loader := &mockLoader{}
	var resolved []string
	h := NewHandler(Deps{
		Conversation: &mockConversation{},
		Loader:       loader,
		Token:        testToken,
		ResolveBlob: func(name string) (string, error) {
			resolved = append(resolved, name)
			if name == "manca.pdf" {
				return "", errors.New("no container")
			}
			return "https://acct.blob.core.windows.net/docs/" + name + "?sig=s", nil
		},
	})

	rr := do(t, h, http.MethodPost, "/v1/documents", `{"blob":" contratti/2026.pdf "}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(loader.submitted) != 1 || loader.submitted[0].Source != "https://acct.blob.core.windows.net/docs/contratti/2026.pdf?sig=s" {
		t.Errorf("submitted = %+v, want the resolved blob URL as source", loader.submitted)
	}
	if len(resolved) != 1 || resolved[0] != "contratti/2026.pdf" {
		t.Errorf("resolved = %v, want the trimmed blob name", resolved)
	}

	for _, body := range []string{`{"blob":"manca.pdf"}`, `{"blob":"a.pdf","source":"./a.pdf"}`} {
		rr = do(t, h, http.MethodPost, "/v1/documents", body)
		if rr.Code != http.StatusBadRequest || errorType(t, rr) != "invalid_request_error" {
			t.Errorf("%s: status = %d, want 400 invalid_request_error", body, rr.Code)
		}
	}
	if len(loader.submitted) != 1 {
		t.Errorf("rejected requests reached the loader: %+v", loader.submitted)
	}

	rr = do(t, newTestHandler(&mockConversation{}, &mockLoader{}), http.MethodPost, "/v1/documents", `{"blob":"a.pdf"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blob without resolver status = %d, want 400", rr.Code)
	}
}

func TestSubmitDocument_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		loadErr  error
		wantCode int
		wantType string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"nothing to load", `{"title":"solo"}`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"queue full", `{"content":"x"}`, ingest.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockConversation{}, &mockLoader{err: tt.loadErr})
			rr := do(t, h, http.MethodPost, "/v1/documents", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestCurrentDocument(t *testing.T) {
	conv := &mockConversation{status: conversation.Status{
		State:    conversation.StateReady,
		Document: &conversation.DocumentInfo{Version: "v7", Title: "Nota", Chars: 120},
		Chunks:   2,
	}}
	h := newTestHandler(conv, &mockLoader{})

	rr := do(t, h, http.MethodGet, "/v1/documents/current", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		State    string `json:"state"`
		Chunks   int    `json:"chunks"`
		Document struct {
			Version string `json:"version"`
		} `json:"document"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.State != "ready" || body.Chunks != 2 || body.Document.Version != "v7" {
		t.Errorf("body = %+v", body)
	}
}

func TestListDocuments(t *testing.T) {
	lister := &mockLister{docs: []storage.Document{{ID: "v2", Title: "B"}, {ID: "v1", Title: "A"}}}
	h := NewHandler(Deps{Conversation: &mockConversation{}, Loader: &mockLoader{}, Documents: lister, Token: testToken})

	rr := do(t, h, http.MethodGet, "/v1/documents?limit=500", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var docs []storage.Document
	json.NewDecoder(rr.Body).Decode(&docs)
	if len(docs) != 2 || docs[0].ID != "v2" {
		t.Errorf("docs = %+v", docs)
	}
	if lister.limit != 100 {
		t.Errorf("limit = %d, want capped at 100", lister.limit)
	}
}

func TestListDocuments_NotMountedWithoutStore(t *testing.T) {
	h := newTestHandler(&mockConversation{}, &mockLoader{})
	if rr := do(t, h, http.MethodGet, "/v1/documents", ""); rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", rr.Code)
	}
}

func TestAsk(t *testing.T) {
	conv := &mockConversation{answer: "Il canone è mensile."}
	h := newTestHandler(conv, &mockLoader{})

	rr := do(t, h, http.MethodPost, "/v1/ask", `{"query":"Ogni quanto si paga?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp AskResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Answer != "Il canone è mensile." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(conv.queries) != 1 || conv.queries[0] != "Ogni quanto si paga?" {
		t.Errorf("queries = %v", conv.queries)
	}
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"empty query", fmt.Errorf("%w: empty query", conversation.ErrInvalidArgument), http.StatusBadRequest, "invalid_request_error"},
		{"not ready", conversation.ErrNotReady, http.StatusConflict, "not_ready"},
		{"superseded", fmt.Errorf("turn: %w", conversation.ErrSuperseded), http.StatusConflict, "superseded"},
		{"completion", fmt.Errorf("%w: %w", conversation.ErrCompletionProvider, context.Canceled), http.StatusBadGateway, "provider_error"},
		{"embedding", fmt.Errorf("%w: down", retrieval.ErrEmbeddingProvider), http.StatusBadGateway, "provider_error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"completion timeout", fmt.Errorf("%w: %w", conversation.ErrCompletionProvider, context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"embedding timeout", fmt.Errorf("%w: %w", retrieval.ErrEmbeddingProvider, context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockConversation{askErr: tt.err}, &mockLoader{})
			rr := do(t, h, http.MethodPost, "/v1/ask", `{"query":"q"}`)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

type constEmbedder struct{}

func (constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, 0}
	}
	return vecs, nil
}

// blockingCompleter waits for the caller's context to end.
type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _ []chat.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCurrentChunks(t *testing.T) {
	conv := &mockConversation{}
	h := newTestHandler(conv, &mockLoader{})

	rr := do(t, h, http.MethodGet, "/v1/documents/current/chunks", "")
	if rr.Code != http.StatusConflict || errorType(t, rr) != "not_ready" {
		t.Fatalf("status = %d, body = %s; want 409 not_ready", rr.Code, rr.Body.String())
	}

	conv.chunks = []chunker.Chunk{{ID: 0, Start: 0, End: 5, Text: "primo"}, {ID: 1, Start: 4, End: 12, Text: "o secondo"}}
	rr = do(t, h, http.MethodGet, "/v1/documents/current/chunks", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ChunksResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Chunks) != 2 || resp.Chunks[1].Text != "o secondo" || resp.Chunks[1].Start != 4 {
		t.Errorf("chunks = %+v", resp.Chunks)
	}
}

func TestAsk_CompletionDeadline(t *testing.T) {
	conv, err := conversation.New(constEmbedder{}, blockingCompleter{}, conversation.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conv.LoadDocument(context.Background(), conversation.Document{Title: "Guida", Text: "Il canone è mensile."}); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	h := NewHandler(Deps{Conversation: conv, Loader: &mockLoader{}, Token: testToken})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"query":"Ogni quanto?"}`)).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504, body = %s", rr.Code, rr.Body.String())
	}
	if got := errorType(t, rr); got != "timeout" {
		t.Errorf("error type = %q, want timeout", got)
	}
}

func TestAsk_BodyTooLarge(t *testing.T) {
	h := newTestHandler(&mockConversation{}, &mockLoader{})
	big := `{"query":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	if rr := do(t, h, http.MethodPost, "/v1/ask", big); rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHistory(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := &mockConversation{history: []chat.Message{
		{Role: chat.RoleUser, Content: "domanda", Timestamp: at},
		{Role: chat.RoleAssistant, Content: "risposta", Timestamp: at},
	}}
	h := newTestHandler(conv, &mockLoader{})

	rr := do(t, h, http.MethodGet, "/v1/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Messages) != 2 || body.Messages[0].Role != "user" || body.Messages[1].Role != "assistant" {
		t.Errorf("messages = %+v", body.Messages)
	}

	rr = do(t, h, http.MethodDelete, "/v1/history", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rr.Code)
	}
	if conv.resets != 1 {
		t.Errorf("resets = %d, want 1", conv.resets)
	}

	rr = do(t, h, http.MethodGet, "/v1/history", "")
	if !strings.Contains(rr.Body.String(), `"messages":[]`) {
		t.Errorf("empty history body = %s, want an empty array", rr.Body.String())
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=-1", 20},
		{"limit=abc", 20},
		{"limit=1000", 100},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
