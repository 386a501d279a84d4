package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Apply online before June 30.  "}}],
			"citations": ["https://fondo.example/convocatoria"],
			"usage": {"prompt_tokens": 40, "completion_tokens": 12}
		}`))
	}))
	defer srv.Close()

	c := NewClient("pplx-key", WithBaseURL(srv.URL+"/"), WithModel("sonar"))
	ans, err := c.Ask(context.Background(), Question{Prompt: "How do I apply?", Recency: "month", MaxTokens: 800})
	require.NoError(t, err)

	assert.Equal(t, "Apply online before June 30.", ans.Text)
	assert.Equal(t, []string{"https://fondo.example/convocatoria"}, ans.Citations)
	assert.Equal(t, 40, ans.PromptTokens)
	assert.Equal(t, 12, ans.CompletionTokens)

	assert.Equal(t, "sonar", got.Model)
	assert.Equal(t, "month", got.RecencyFilter)
	assert.Equal(t, 800, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, defaultSystem, got.Messages[0].Content)
	assert.Equal(t, "How do I apply?", got.Messages[1].Content)
}

func TestAsk_CustomSystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.Messages[0].Content)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	ans, err := NewClient("k", WithBaseURL(srv.URL)).Ask(context.Background(), Question{Prompt: "q", System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "ok", ans.Text)
}

func TestAsk_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		retryable bool
	}{
		{name: "rate_limit", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, wantErr: "status 429", retryable: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: "busy", wantErr: "status 503", retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "bad key", wantErr: "status 401"},
		{name: "malformed", status: http.StatusOK, body: `{nope`, wantErr: "decode answer"},
		{name: "no_choices", status: http.StatusOK, body: `{"choices": []}`, wantErr: "no choices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithBaseURL(srv.URL)).Ask(context.Background(), Question{Prompt: "q"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var se *StatusError
			if errors.As(err, &se) {
				assert.Equal(t, tt.status, se.Code)
				assert.Equal(t, tt.retryable, se.Retryable())
			} else {
				assert.Equal(t, http.StatusOK, tt.status)
			}
		})
	}
}

func TestAsk_TruncatesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Ask(context.Background(), Question{Prompt: "q"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.Body, maxErrorBody)
}

func TestAsk_EmptyPrompt(t *testing.T) {
	_, err := NewClient("k").Ask(context.Background(), Question{Prompt: "   "})
	assert.ErrorContains(t, err, "empty question")
}

func TestAsk_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "late"}}]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("k", WithBaseURL(srv.URL)).Ask(ctx, Question{Prompt: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}
