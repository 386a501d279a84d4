package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

var (
	// ErrStopped is the cancellation cause of a run stopped by the user.
	ErrStopped = eris.New("search stopped by user")
	// ErrSuperseded is the cancellation cause of a run replaced by a newer one.
	ErrSuperseded = eris.New("search superseded by a newer run")
)

// IsCancellation reports whether err means a run was canceled rather than
// failed.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrStopped) ||
		errors.Is(err, ErrSuperseded)
}

// Token identifies one run. Its context is handed to every discovery call so
// in-flight requests abort when the run is canceled.
type Token struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// ID returns the run identifier.
func (t *Token) ID() string { return t.id }

// Context returns the run context.
func (t *Token) Context() context.Context { return t.ctx }

// Canceled reports whether the run was canceled.
func (t *Token) Canceled() bool { return t.ctx.Err() != nil }

// Cause returns why the run was canceled, or nil while it is live.
func (t *Token) Cause() error {
	if t.ctx.Err() == nil {
		return nil
	}
	return context.Cause(t.ctx)
}

// Controller hands out run tokens. At most one token is live: starting a run
// cancels the previous one.
type Controller struct {
	mu      sync.Mutex
	current *Token
}

// Start cancels the live token, if any, and returns a new one derived from
// parent.
func (c *Controller) Start(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	tok := &Token{id: uuid.NewString(), ctx: ctx, cancel: cancel}

	c.mu.Lock()
	prev := c.current
	c.current = tok
	c.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
	}
	return tok
}

// Cancel stops tok with ErrStopped. A nil tok cancels the live token.
// Canceling twice is a no-op.
func (c *Controller) Cancel(tok *Token) {
	if tok == nil {
		tok = c.Current()
	}
	if tok != nil {
		tok.cancel(ErrStopped)
	}
}

// IsCanceled reports whether tok was canceled. A nil token counts as
// canceled.
func (c *Controller) IsCanceled(tok *Token) bool {
	return tok == nil || tok.Canceled()
}

// IsCurrent reports whether tok is the live token and not canceled.
func (c *Controller) IsCurrent(tok *Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok != nil && tok == c.current && !tok.Canceled()
}

// Current returns the most recently started token.
func (c *Controller) Current() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
