package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestOpenAIEngine_Chat(t *testing.T) {
	var gotAuth string
	var gotBody openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Il documento parla di Go."}}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"})
	got, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "Di cosa parla?"}},
		&ChatOptions{MaxTokens: 600})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "Il documento parla di Go." {
		t.Errorf("reply = %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sk-test")
	}
	if gotBody.Model != "gpt-4o-mini" || gotBody.MaxTokens != 600 || gotBody.Temperature != nil {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestOpenAIEngine_ChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL}).Chat(context.Background(), "m", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("error = %v, want no choices", err)
	}
}

func TestOpenAIEngine_AzureRouting(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL, APIKey: "azure-key", APIVersion: "2024-02-01"})
	vecs, err := e.EmbedBatch(context.Background(), "text-embedding-3-small", []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if gotPath != "/openai/deployments/text-embedding-3-small/embeddings" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "2024-02-01" {
		t.Errorf("api-version = %q", gotQuery)
	}
	if gotKey != "azure-key" {
		t.Errorf("api-key = %q", gotKey)
	}
	if _, ok := gotBody["model"]; ok {
		t.Error("azure request body should not carry model")
	}
	want := [][]float32{{1, 0}, {0, 1}}
	if !reflect.DeepEqual(vecs, want) {
		t.Errorf("vecs = %v, want %v (ordered by index)", vecs, want)
	}
	if !e.HasModel(context.Background(), "anything") {
		t.Error("azure HasModel = false, want true")
	}
}

func TestOpenAIEngine_EmbedBadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":5,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	if _, err := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL}).Embed(context.Background(), "m", "x"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
}

func TestOpenAIEngine_EmbedItemCount(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"fewer items", `{"data":[{"index":0,"embedding":[1]}]}`},
		{"more items", `{"data":[{"index":0,"embedding":[1]},{"index":1,"embedding":[2]},{"index":2,"embedding":[3]}]}`},
		{"duplicate index", `{"data":[{"index":0,"embedding":[1]},{"index":0,"embedding":[2]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			vecs, err := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL}).EmbedBatch(context.Background(), "m", []string{"a", "b"})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error = %v, want ErrMalformedResponse", err)
			}
			if vecs != nil {
				t.Errorf("vecs = %v, want nil", vecs)
			}
		})
	}
}

func TestOpenAIEngine_Models(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":[{"id":"gpt-4o-mini"},{"id":"text-embedding-3-small"}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL})
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning = false, want true")
	}
	if !e.HasModel(context.Background(), "gpt-4o-mini") {
		t.Error("HasModel(gpt-4o-mini) = false, want true")
	}
	if e.HasModel(context.Background(), "gpt-5") {
		t.Error("HasModel(gpt-5) = true, want false")
	}
	if err := e.PullModel(context.Background(), "gpt-5", nil); !errors.Is(err, ErrPullUnsupported) {
		t.Errorf("PullModel error = %v, want ErrPullUnsupported", err)
	}
}

func TestOpenAIEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL}).Chat(context.Background(), "m", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want status 401", err)
	}
}
