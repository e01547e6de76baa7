// Package loop provides the single-threaded task queue a page runs on.
//
// Every piece of work that touches a page's DOM is a task on its Loop:
// navigation re-checks, mutation batch handling, dialog events, polling
// ticks. Tasks run one at a time in FIFO order, so no task observes another
// half done and no DOM access needs its own locking.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loop is an unbounded FIFO of tasks drained by one goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	after  []func()
	logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// New creates an idle Loop. Call Run (or Drain) to execute tasks.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// AfterEach registers a hook run after every task, still on the loop. Hosts
// use it to flush the mutation records a task produced as one batch.
func (l *Loop) AfterEach(fn func()) {
	l.mu.Lock()
	l.after = append(l.after, fn)
	l.mu.Unlock()
}

// Post queues fn for a later turn. Safe from any goroutine, including from
// inside a task; it never blocks.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn once d has elapsed. The returned function cancels it
// and reports whether it was still pending.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

// Call posts fn and waits for it to finish. It must not be called from a
// task on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loop: call: %w", ctx.Err())
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is
// empty, including tasks queued by the tasks it runs. It returns the number
// of tasks executed. Drain must not overlap with Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		l.exec(fn)
		n++
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	l.safe(fn)

	l.mu.Lock()
	hooks := l.after
	l.mu.Unlock()
	for _, h := range hooks {
		l.safe(h)
	}
}

// safe runs fn, logging a panic instead of letting it end the loop. One
// broken task must not stop the page's other watchers.
func (l *Loop) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", "panic", r)
		}
	}()
	fn()
}
