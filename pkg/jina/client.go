// Package jina reads fund web pages as markdown and runs fallback web
// searches through the Jina AI reader and search endpoints.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultReaderURL = "https://r.jina.ai"
	defaultSearchURL = "https://s.jina.ai"
	defaultTimeout   = 45 * time.Second
	maxErrorBody     = 512
)

// Client reads pages and searches the web.
type Client interface {
	// Read returns the markdown rendering of targetURL.
	Read(ctx context.Context, targetURL string) (*Page, error)
	// Search returns web hits for query. No results is an empty slice, not
	// an error.
	Search(ctx context.Context, query string) ([]Hit, error)
}

// Page is a fetched web page.
type Page struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Tokens  int    `json:"-"`
}

// Hit is one web search result.
type Hit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// StatusError carries a non-200 reply from Jina.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: %s status %d: %s", e.Op, e.Code, e.Body)
}

// Retryable reports whether retrying could help.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type envelope[T any] struct {
	Code int `json:"code"`
	Data T   `json:"data"`
}

type pageData struct {
	Page
	Usage struct {
		Tokens int `json:"tokens"`
	} `json:"usage"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the reader endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.readerURL = strings.TrimRight(u, "/") }
}

// WithSearchBaseURL sets the search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey    string
	readerURL string
	searchURL string
	http      *http.Client
}

// NewClient creates a Jina client. The key is optional; anonymous requests
// get a lower rate limit.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		readerURL: defaultReaderURL,
		searchURL: defaultSearchURL,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*Page, error) {
	if targetURL == "" {
		return nil, eris.New("jina: empty url")
	}
	var out envelope[pageData]
	found, err := c.get(ctx, "read", c.readerURL+"/"+targetURL, map[string]string{"X-Return-Format": "markdown"}, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &StatusError{Op: "read", Code: http.StatusUnprocessableEntity, Body: "page could not be rendered"}
	}
	p := out.Data.Page
	p.Tokens = out.Data.Usage.Tokens
	return &p, nil
}

func (c *httpClient) Search(ctx context.Context, query string) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, eris.New("jina: empty query")
	}
	var out envelope[[]Hit]
	found, err := c.get(ctx, "search", c.searchURL+"/"+url.PathEscape(query), nil, &out)
	if err != nil {
		return nil, err
	}
	if !found || out.Data == nil {
		return []Hit{}, nil
	}
	return out.Data, nil
}

// get issues the request and decodes a 200 body into v. Jina answers 422
// when it has nothing for the request; that is reported as found == false.
func (c *httpClient) get(ctx context.Context, op, target string, headers map[string]string, v any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, eris.Wrapf(err, "jina: build %s request", op)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, eris.Wrapf(err, "jina: %s", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, eris.Wrapf(err, "jina: decode %s response", op)
	}
	return true, nil
}
