// Package gate ensures a page's augmentation activates at most once.
package gate

import (
	"log/slog"
	"sync/atomic"
)

// Gate owns the activation flag of one page lifetime. The flag goes from
// false to true exactly once and never back.
type Gate struct {
	match     func() bool
	activate  func()
	activated atomic.Bool
	attempts  atomic.Uint64
	logger    *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates an open Gate. match reports whether the page is currently on
// the activation route; activate runs the activation side effects.
func New(match func() bool, activate func(), opts ...Option) *Gate {
	g := &Gate{
		match:    match,
		activate: activate,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// TryActivate activates if the gate is open and the route matches, and
// reports whether this call did it. Redundant and concurrent calls are
// harmless: the compare-and-swap admits a single caller, and activation
// runs inline on that caller so its steps are never interleaved.
func (g *Gate) TryActivate() bool {
	g.attempts.Add(1)
	if g.activated.Load() {
		return false
	}
	if g.match == nil || !g.match() {
		return false
	}
	if !g.activated.CompareAndSwap(false, true) {
		return false
	}
	g.logger.Info("gate: activated", "attempts", g.attempts.Load())
	if g.activate != nil {
		g.activate()
	}
	return true
}

// Activated reports whether activation happened. Safe from any goroutine.
func (g *Gate) Activated() bool {
	return g.activated.Load()
}

// Attempts returns how many times TryActivate was called.
func (g *Gate) Attempts() uint64 {
	return g.attempts.Load()
}
