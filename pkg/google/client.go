// Package google queries a Programmable Search Engine through the Custom
// Search JSON API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://www.googleapis.com/customsearch/v1"
	defaultNum     = 10
)

// Client performs Custom Search queries.
type Client interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// SearchResponse is the subset of the Custom Search response we use.
type SearchResponse struct {
	Items []Item `json:"items"`
}

// Item is one search hit.
type Item struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithNum sets how many results a query asks for (1-10).
func WithNum(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= defaultNum {
			c.num = n
		}
	}
}

type httpClient struct {
	apiKey   string
	engineID string
	baseURL  string
	num      int
	http     *http.Client
}

// NewClient creates a Custom Search client for the given API key and
// search engine ID (cx).
func NewClient(apiKey, engineID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  defaultBaseURL,
		num:      defaultNum,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) (*SearchResponse, error) {
	params := url.Values{
		"key": {c.apiKey},
		"cx":  {c.engineID},
		"q":   {query},
		"num": {strconv.Itoa(c.num)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: search")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, eris.Wrap(err, "google: decode response")
	}
	return &result, nil
}

// APIError is the error envelope returned by Google APIs.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("google: status %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("google: status %d: %s", e.Code, e.Message)
}

// Retryable reports whether retrying could help. Daily quota exhaustion
// also answers 429 but will not clear within a retry window.
func (e *APIError) Retryable() bool {
	if e.Code == http.StatusTooManyRequests {
		return !strings.Contains(strings.ToLower(e.Message), "per day")
	}
	return e.Code >= 500
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var env struct {
		Error APIError `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || env.Error.Message == "" {
		env.Error.Message = strings.TrimSpace(string(body))
	}
	env.Error.Code = resp.StatusCode
	return &env.Error
}
