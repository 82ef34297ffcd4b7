package engine

import (
	"context"
	"errors"
)

// ErrAborted is the default cancellation cause when a turn is aborted
// without an explicit reason.
var ErrAborted = errors.New("turn aborted")

// Canceller pairs a context with its cancel function so hook handlers and
// keyword actions can abort the remainder of a processing pass.
// Cancellation is cooperative: consumers poll Aborted at checkpoints,
// nothing already running is interrupted.
type Canceller struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewCanceller derives a canceller from parent. A nil parent uses the
// background context.
func NewCanceller(parent context.Context) *Canceller {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Canceller{ctx: ctx, cancel: cancel}
}

// Abort marks the pass aborted. A nil reason records ErrAborted.
func (c *Canceller) Abort(reason error) {
	if reason == nil {
		reason = ErrAborted
	}
	c.cancel(reason)
}

// Aborted reports whether the pass has been aborted (or the parent
// context cancelled).
func (c *Canceller) Aborted() bool {
	return c.ctx.Err() != nil
}

// Cause returns the abort reason, or nil if not aborted.
func (c *Canceller) Cause() error {
	return context.Cause(c.ctx)
}

// Context exposes the underlying context for blocking calls that should
// observe the abort.
func (c *Canceller) Context() context.Context {
	return c.ctx
}
