// Package mutwatch keeps highlighting current while a page keeps changing.
//
// It consumes a page's mutation stream and rescans only what changed: each
// newly added element, or the parent element of a text node whose data
// changed. Batches are handled strictly one after another on the page's
// task loop.
package mutwatch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hazyhaar/pagemark/mutation"
	"golang.org/x/net/html"
)

// Executor runs fn on the page's task loop and waits for it.
type Executor interface {
	Call(ctx context.Context, fn func()) error
}

// ScopeFunc highlights inside scope and returns the markers it inserted.
type ScopeFunc func(scope *html.Node) int

// Stats counts the watcher's work since it started.
type Stats struct {
	Batches uint64 `json:"batches"`
	Scopes  uint64 `json:"scopes"`
	Markers uint64 `json:"markers"`
}

// Watcher applies a ScopeFunc to every change in a mutation stream.
type Watcher struct {
	exec      Executor
	highlight ScopeFunc
	onBatch   func(seq uint64, markers int)
	logger    *slog.Logger

	batches atomic.Uint64
	scopes  atomic.Uint64
	markers atomic.Uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithBatchHook is called on the loop after each batch with the number of
// markers the batch produced.
func WithBatchHook(fn func(seq uint64, markers int)) Option {
	return func(w *Watcher) { w.onBatch = fn }
}

// New creates a Watcher.
func New(exec Executor, highlight ScopeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		exec:      exec,
		highlight: highlight,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run handles batches in delivery order until ctx ends or the stream
// closes. Each batch is handled to completion on the task loop before the
// next one is read.
func (w *Watcher) Run(ctx context.Context, batches <-chan mutation.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			if err := w.exec.Call(ctx, func() { w.Handle(b) }); err != nil {
				return err
			}
		}
	}
}

// Handle processes one batch. It must run on the page's task loop.
func (w *Watcher) Handle(b mutation.Batch) int {
	scopes := Scopes(b)
	total := 0
	for _, s := range scopes {
		total += w.highlight(s)
	}

	w.batches.Add(1)
	w.scopes.Add(uint64(len(scopes)))
	w.markers.Add(uint64(total))

	if total > 0 {
		w.logger.Debug("mutwatch: batch highlighted",
			"seq", b.Seq, "scopes", len(scopes), "markers", total)
	}
	if w.onBatch != nil {
		w.onBatch(b.Seq, total)
	}
	return total
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Batches: w.batches.Load(),
		Scopes:  w.scopes.Load(),
		Markers: w.markers.Load(),
	}
}

// Scopes returns the subtrees a batch requires rescanning, in record order
// and without repeats. Added nodes that are not elements are ignored; a
// text change scopes to the text node's parent element and is dropped when
// the node has been detached since.
func Scopes(b mutation.Batch) []*html.Node {
	var out []*html.Node
	seen := make(map[*html.Node]bool)
	add := func(n *html.Node) {
		if n != nil && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, r := range b.Records {
		switch r.Op {
		case mutation.OpInsert:
			for _, n := range r.Added {
				if n.Type == html.ElementNode {
					add(n)
				}
			}
		case mutation.OpText:
			if r.Target != nil && r.Target.Parent != nil && r.Target.Parent.Type == html.ElementNode {
				add(r.Target.Parent)
			}
		}
	}
	return out
}
