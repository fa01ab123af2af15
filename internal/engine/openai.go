package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAIEngine.
//
// With APIVersion empty the engine speaks the plain OpenAI-compatible API
// (OpenAI, vLLM, LM Studio, llama.cpp server). With APIVersion set it uses
// Azure OpenAI routing, where the model name is the deployment name.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
}

// OpenAIEngine implements Engine over an OpenAI-compatible HTTP API.
type OpenAIEngine struct {
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
}

var _ BatchEngine = (*OpenAIEngine)(nil)

// NewOpenAIEngine creates an OpenAIEngine. An empty BaseURL targets api.openai.com.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIEngine{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *OpenAIEngine) azure() bool { return e.apiVersion != "" }

// endpoint builds the URL for op ("chat/completions", "embeddings", "models").
func (e *OpenAIEngine) endpoint(model, op string) string {
	if !e.azure() {
		return e.baseURL + "/" + op
	}
	q := url.Values{"api-version": {e.apiVersion}}.Encode()
	if model == "" {
		return e.baseURL + "/openai/" + op + "?" + q
	}
	return e.baseURL + "/openai/deployments/" + url.PathEscape(model) + "/" + op + "?" + q
}

func (e *OpenAIEngine) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey == "" {
		return
	}
	if e.azure() {
		req.Header.Set("api-key", e.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

func (e *OpenAIEngine) do(ctx context.Context, method, endpoint string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type openAIChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error) {
	body := openAIChatRequest{Messages: messages}
	if !e.azure() {
		body.Model = model
	}
	if opts != nil {
		body.Temperature = opts.Temperature
		body.MaxTokens = opts.MaxTokens
	}

	var out openAIChatResponse
	if err := e.do(ctx, http.MethodPost, e.endpoint(model, "chat/completions"), body, &out); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch embeds texts in one request. Vectors are placed by the
// "index" field of each item so the result follows input order.
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	body := openAIEmbedRequest{Input: texts}
	if !e.azure() {
		body.Model = model
	}

	var out openAIEmbedResponse
	if err := e.do(ctx, http.MethodPost, e.endpoint(model, "embeddings"), body, &out); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embed: %w: %d items for %d inputs", ErrMalformedResponse, len(out.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for i, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embed: %w: item index %d out of range", ErrMalformedResponse, d.Index)
		}
		if vecs[d.Index] != nil {
			return nil, fmt.Errorf("embed: %w: duplicate item index %d at position %d", ErrMalformedResponse, d.Index, i)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := e.do(ctx, http.MethodGet, e.endpoint("", "models"), nil, &out); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(out.Data))
	for i, m := range out.Data {
		names[i] = m.ID
	}
	return names, nil
}

// HasModel reports whether name appears in the model list. Azure
// deployments are not listed by the data-plane API and are assumed present.
func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	if e.azure() {
		return true
	}
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(models, name)
}

func (e *OpenAIEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return ErrPullUnsupported
}
