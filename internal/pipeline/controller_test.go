package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_StartSupersedesPrevious(t *testing.T) {
	var c Controller

	a := c.Start(context.Background())
	require.False(t, c.IsCanceled(a))
	require.True(t, c.IsCurrent(a))

	b := c.Start(context.Background())

	assert.True(t, c.IsCanceled(a))
	assert.ErrorIs(t, a.Cause(), ErrSuperseded)
	assert.False(t, c.IsCurrent(a))
	assert.True(t, c.IsCurrent(b))
	assert.Same(t, b, c.Current())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestController_CancelIsIdempotent(t *testing.T) {
	var c Controller
	tok := c.Start(context.Background())

	c.Cancel(tok)
	c.Cancel(tok)
	c.Cancel(nil)

	assert.True(t, c.IsCanceled(tok))
	assert.ErrorIs(t, tok.Cause(), ErrStopped)
	assert.ErrorIs(t, tok.Context().Err(), context.Canceled)
}

func TestController_CancelWithoutRun(t *testing.T) {
	var c Controller
	c.Cancel(nil)
	assert.True(t, c.IsCanceled(nil))
	assert.Nil(t, c.Current())
}

func TestController_ParentCancellation(t *testing.T) {
	var c Controller
	parent, cancel := context.WithCancel(context.Background())
	tok := c.Start(parent)

	cancel()

	assert.True(t, tok.Canceled())
	assert.True(t, IsCancellation(tok.Cause()))
	assert.False(t, c.IsCurrent(tok))
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, true},
		{"wrapped canceled", eris.Wrap(context.Canceled, "google: send request"), true},
		{"stopped", ErrStopped, true},
		{"superseded", ErrSuperseded, true},
		{"failure", errors.New("gemini: 400 bad request"), false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCancellation(tt.err))
		})
	}
}
