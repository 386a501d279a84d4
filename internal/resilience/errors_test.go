package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("rate"), 429), "search"), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"model unavailable", errors.New("Error 503, Message: The model is overloaded, Status: UNAVAILABLE"), true},
		{"http status text", errors.New("google: unexpected status 502: bad gateway"), true},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", eris.Wrap(context.Canceled, "gemini: generate"), false},
		{"deadline", context.DeadlineExceeded, false},
		{"bad request", errors.New("google: unexpected status 400: invalid cx"), false},
		{"client says retry", eris.Wrap(statusErr{code: 429}, "search"), true},
		{"client says stop", statusErr{code: 451, msg: "unavailable for legal reasons"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string   { return fmt.Sprintf("status %d: %s", e.code, e.msg) }
func (e statusErr) Retryable() bool { return e.code == 429 || e.code >= 500 }

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 501} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
