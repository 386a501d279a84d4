// Package perplexity asks the Perplexity online models questions about a
// fund's application process and returns the cited answer.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	defaultModel   = "sonar-pro"
	defaultTimeout = 90 * time.Second

	// maxErrorBody bounds how much of a failed response is kept on StatusError.
	maxErrorBody = 512
)

// Client answers research questions with live web grounding.
type Client interface {
	Ask(ctx context.Context, q Question) (*Answer, error)
}

// Question is a single research prompt.
type Question struct {
	Prompt string
	// System overrides the default research instructions.
	System string
	// Recency limits web results to "day", "week", "month" or "year".
	Recency   string
	MaxTokens int
}

// Answer is the model's reply with the sources it cited.
type Answer struct {
	Text             string
	Citations        []string
	PromptTokens     int
	CompletionTokens int
}

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("perplexity: status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if retried.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

const defaultSystem = "You research funding programs. Answer with concrete, verifiable facts and cite official pages. Say so plainly when something cannot be confirmed."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	RecencyFilter string        `json:"search_recency_filter,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel selects the online model.
func WithModel(model string) Option {
	return func(c *httpClient) { c.model = model }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a Perplexity client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Ask(ctx context.Context, q Question) (*Answer, error) {
	if strings.TrimSpace(q.Prompt) == "" {
		return nil, eris.New("perplexity: empty question")
	}
	system := q.System
	if system == "" {
		system = defaultSystem
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: q.Prompt},
		},
		MaxTokens:     q.MaxTokens,
		RecencyFilter: q.Recency,
	})
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: encode question")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: ask")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "perplexity: decode answer")
	}
	if len(out.Choices) == 0 {
		return nil, eris.New("perplexity: answer has no choices")
	}
	return &Answer{
		Text:             strings.TrimSpace(out.Choices[0].Message.Content),
		Citations:        out.Citations,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
