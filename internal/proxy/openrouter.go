// Package proxy talks to OpenRouter, a hosted OpenAI-compatible gateway,
// for chat completions.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxRetryAfter  = 10 * time.Second
)

// Client communicates with the OpenRouter API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
	backoff    time.Duration
}

// NewClient creates an OpenRouter client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/askdoc",
		title:   "askdoc",
		backoff: initialBackoff,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Complete sends a non-streaming chat completion and returns the content
// of the first choice. 429 and 502/503 replies are retried with
// exponential backoff, or after Retry-After when the server sends one.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error) {
	req := chatRequest{Model: model, Messages: messages}
	if opts != nil {
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var transient *transientError
	for attempt := 0; ; attempt++ {
		content, err := c.doChat(ctx, body)
		if !errors.As(err, &transient) {
			return content, err
		}
		if attempt == maxRetries-1 {
			return "", fmt.Errorf("giving up after %d attempts: %w", maxRetries, err)
		}
		wait := c.backoff << attempt
		if transient.retryAfter > 0 {
			wait = min(transient.retryAfter, maxRetryAfter)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

// transientError is a reply worth retrying.
type transientError struct {
	status     int
	retryAfter time.Duration
}

func (e *transientError) Error() string {
	if e.status == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (HTTP %d)", e.status)
	}
	return fmt.Sprintf("upstream unavailable (HTTP %d)", e.status)
}

func transient(resp *http.Response) *transientError {
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
	default:
		return nil
	}
	e := &transientError{status: resp.StatusCode}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.retryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	switch {
	case out.Error != nil:
		return "", fmt.Errorf("provider error: %s", out.Error.Message)
	case len(out.Choices) == 0:
		return "", errors.New("response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// ListModels returns the models the gateway offers, never nil.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.send(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	if list.Data == nil {
		list.Data = []Model{}
	}
	return list.Data, nil
}

// send returns the response only on 200. Retryable statuses come back as
// *transientError.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	if t := transient(resp); t != nil {
		return nil, t
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
