// Package notify delivers job lifecycle events to caller-supplied webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/resilience"
)

// Event is the payload posted when a job reaches a terminal state.
type Event struct {
	JobID         string    `json:"jobId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	FundsFound    int       `json:"funds_found"`
	FundsAnalyzed int       `json:"funds_analyzed"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier posts events to a webhook URL.
type Notifier interface {
	Notify(ctx context.Context, url string, ev Event) error
}

// Option configures the webhook notifier.
type Option func(*Webhook)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(w *Webhook) {
		w.client = hc
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(w *Webhook) {
		w.retry = cfg
	}
}

// Webhook is a Notifier that POSTs JSON and retries transient failures.
type Webhook struct {
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhook creates a webhook notifier.
func NewWebhook(opts ...Option) *Webhook {
	w := &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Notify posts ev to url. An empty url is a no-op.
func (w *Webhook) Notify(ctx context.Context, url string, ev Event) error {
	if url == "" {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	retry := w.retry
	retry.OnRetry = resilience.RetryLogger("webhook", "notify")
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		return w.post(ctx, url, payload)
	})
	if err != nil {
		return err
	}
	zap.L().Info("notify: webhook delivered",
		zap.String("job_id", ev.JobID),
		zap.String("status", ev.Status),
	)
	return nil
}

func (w *Webhook) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
