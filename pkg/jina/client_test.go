package jina

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/https://fondo.example/convocatoria", r.URL.Path)
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer jina-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":200,"data":{"title":"Convocatoria 2025","url":"https://fondo.example/convocatoria","content":"# Requisitos","usage":{"tokens":321}}}`))
	}))
	defer srv.Close()

	c := NewClient("jina-key", WithBaseURL(srv.URL+"/"))
	page, err := c.Read(context.Background(), "https://fondo.example/convocatoria")
	require.NoError(t, err)
	assert.Equal(t, "Convocatoria 2025", page.Title)
	assert.Equal(t, "# Requisitos", page.Content)
	assert.Equal(t, 321, page.Tokens)
}

func TestRead_Anonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":200,"data":{"content":"ok"}}`))
	}))
	defer srv.Close()

	page, err := NewClient("", WithBaseURL(srv.URL)).Read(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, "ok", page.Content)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		retryable bool
	}{
		{name: "blocked", status: http.StatusUnavailableForLegalReasons, body: "blocked", wantErr: "read status 451"},
		{name: "unrenderable", status: http.StatusUnprocessableEntity, body: "{}", wantErr: "could not be rendered"},
		{name: "overloaded", status: http.StatusServiceUnavailable, body: "busy", wantErr: "read status 503", retryable: true},
		{name: "malformed", status: http.StatusOK, body: "{", wantErr: "decode read response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("", WithBaseURL(srv.URL)).Read(context.Background(), "https://a.example")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var se *StatusError
			if errors.As(err, &se) {
				assert.Equal(t, tt.retryable, se.Retryable())
			}
		})
	}
}

func TestRead_EmptyURL(t *testing.T) {
	_, err := NewClient("").Read(context.Background(), "")
	assert.ErrorContains(t, err, "empty url")
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fondos verdes Ecuador", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":200,"data":[
			{"title":"Fondo Verde","url":"https://verde.example","description":"Financiamiento climatico"},
			{"title":"BID Invest","url":"https://bid.example","content":"Programas"}
		]}`))
	}))
	defer srv.Close()

	hits, err := NewClient("", WithSearchBaseURL(srv.URL)).Search(context.Background(), "fondos verdes Ecuador")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://verde.example", hits[0].URL)
	assert.Equal(t, "Financiamiento climatico", hits[0].Description)
	assert.Equal(t, "Programas", hits[1].Content)
}

func TestSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	hits, err := NewClient("", WithSearchBaseURL(srv.URL)).Search(context.Background(), "nothing here")
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := NewClient("", WithSearchBaseURL(srv.URL)).Search(context.Background(), "q")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "search", se.Op)
	assert.True(t, se.Retryable())
}

func TestSearch_EmptyQuery(t *testing.T) {
	_, err := NewClient("").Search(context.Background(), " ")
	assert.ErrorContains(t, err, "empty query")
}
