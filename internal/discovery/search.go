package discovery

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fundscout/internal/resilience"
	"github.com/sells-group/fundscout/pkg/google"
	"github.com/sells-group/fundscout/pkg/jina"
)

// searchResult is the trimmed hit handed to the extractor.
type searchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

const (
	defaultSearchTTL         = 30 * time.Minute
	defaultSearchConcurrency = 4
	maxSearchResults         = 30
)

// searcher runs queries against Google Custom Search with Jina Search as a
// fallback, caching hits per query.
type searcher struct {
	google      google.Client
	jina        jina.Client
	cache       *cache.Cache
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	concurrency int
}

func newSearcher(g google.Client, j jina.Client, breakers *resilience.Breakers, retry resilience.RetryConfig, ttl time.Duration, concurrency int) *searcher {
	if ttl <= 0 {
		ttl = defaultSearchTTL
	}
	if concurrency <= 0 {
		concurrency = defaultSearchConcurrency
	}
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &searcher{
		google:      g,
		jina:        j,
		cache:       cache.New(ttl, 2*ttl),
		breaker:     breakers.Get("google"),
		retry:       retry,
		concurrency: concurrency,
	}
}

func (s *searcher) enabled() bool {
	return s.google != nil || s.jina != nil
}

// searchAll runs queries concurrently and returns hits de-duplicated by link
// in query order. Failed queries are logged and skipped; only cancellation is
// returned as an error.
func (s *searcher) searchAll(ctx context.Context, queries []string) ([]searchResult, error) {
	if !s.enabled() || len(queries) == 0 {
		return nil, nil
	}

	perQuery := make([][]searchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			hits, err := s.search(gctx, q)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("discovery: search failed", zap.String("query", q), zap.Error(err))
				return nil
			}
			perQuery[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "discovery: search")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: search")
	}

	seen := make(map[string]struct{})
	var out []searchResult
	for _, hits := range perQuery {
		for _, h := range hits {
			key := strings.TrimRight(strings.ToLower(h.Link), "/")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, h)
			if len(out) == maxSearchResults {
				return out, nil
			}
		}
	}
	return out, nil
}

// search returns cached hits for q or fetches them.
func (s *searcher) search(ctx context.Context, q string) ([]searchResult, error) {
	if v, ok := s.cache.Get(q); ok {
		return v.([]searchResult), nil
	}

	var hits []searchResult
	var err error
	if s.google != nil {
		hits, err = s.searchGoogle(ctx, q)
	}
	if (s.google == nil || err != nil) && s.jina != nil && ctx.Err() == nil {
		if err != nil {
			zap.L().Debug("discovery: google search failed, trying jina", zap.String("query", q), zap.Error(err))
		}
		hits, err = s.searchJina(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Set(q, hits, cache.DefaultExpiration)
	return hits, nil
}

func (s *searcher) searchGoogle(ctx context.Context, q string) ([]searchResult, error) {
	retry := s.retry
	retry.OnRetry = resilience.RetryLogger("google", "search")
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*google.SearchResponse, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*google.SearchResponse, error) {
			return s.google.Search(ctx, q)
		})
	})
	if err != nil {
		return nil, err
	}
	hits := make([]searchResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.Link == "" {
			continue
		}
		hits = append(hits, searchResult{Title: it.Title, Link: it.Link, Snippet: it.Snippet})
	}
	return hits, nil
}

func (s *searcher) searchJina(ctx context.Context, q string) ([]searchResult, error) {
	found, err := s.jina.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	hits := make([]searchResult, 0, len(found))
	for _, h := range found {
		if h.URL == "" {
			continue
		}
		snippet := h.Description
		if snippet == "" {
			snippet = truncate(h.Content, 300)
		}
		hits = append(hits, searchResult{Title: h.Title, Link: h.URL, Snippet: snippet})
	}
	return hits, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
