// Package sink delivers pagemark journal events to output backends.
package sink

import (
	"context"

	"github.com/hazyhaar/pagemark/event"
)

// Sink is an output backend. Send must be safe for concurrent use: every
// attached page emits from its own goroutines.
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
	Close() error
}
