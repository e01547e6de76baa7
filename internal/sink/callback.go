package sink

import (
	"context"

	"github.com/hazyhaar/pagemark/event"
)

// Func is called for each event, in-process.
type Func func(ctx context.Context, ev event.Event) error

// Callback hands events to a Go function. Embedders use it to react to
// activation without serialising anything.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. A nil fn discards events.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev event.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
