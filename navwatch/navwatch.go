// Package navwatch notices when a single-page application reaches a new
// route without a full page load.
//
// Hosts forward history changes into a Watcher instead of the Watcher
// replacing the page's history functions. Every signal schedules a re-check
// on a fresh task-queue turn, so the navigation's own synchronous work is
// finished before the route is read. A bounded polling loop covers
// navigations no host can report.
package navwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind is how a navigation happened.
type Kind string

const (
	KindPush     Kind = "push"     // history push
	KindReplace  Kind = "replace"  // history replace
	KindPopState Kind = "popstate" // back/forward
	KindPoll     Kind = "poll"     // polling tick, not a navigation
)

// Event is a navigation reported by a host.
type Event struct {
	Kind Kind
	URL  string
}

// Source delivers navigation events. The returned function unsubscribes.
type Source interface {
	OnNavigate(fn func(Event)) (cancel func())
}

// Scheduler queues work on the page's task loop.
type Scheduler interface {
	Post(fn func())
}

// Defaults for the polling fallback.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 50
)

// Config controls the polling fallback.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Watcher turns navigation signals into re-checks.
type Watcher struct {
	cfg     Config
	sched   Scheduler
	recheck func(Event)
	done    func() bool
	logger  *slog.Logger

	mu     sync.Mutex
	cancel []func()
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher. recheck runs on the task loop for every signal;
// done reports that no more re-checks are needed and stops polling.
func New(cfg Config, sched Scheduler, recheck func(Event), done func() bool, opts ...Option) *Watcher {
	cfg.defaults()
	w := &Watcher{
		cfg:     cfg,
		sched:   sched,
		recheck: recheck,
		done:    done,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Subscribe starts forwarding src's navigation events.
func (w *Watcher) Subscribe(src Source) {
	cancel := src.OnNavigate(w.Notify)
	w.mu.Lock()
	w.cancel = append(w.cancel, cancel)
	w.mu.Unlock()
}

// Notify schedules a re-check for ev on a fresh turn.
func (w *Watcher) Notify(ev Event) {
	w.logger.Debug("navwatch: navigation", "kind", ev.Kind, "url", ev.URL)
	w.sched.Post(func() { w.recheck(ev) })
}

// Poll re-checks every interval until done reports true, the attempt budget
// is spent, or ctx ends. It returns the number of re-checks it scheduled.
func (w *Watcher) Poll(ctx context.Context) int {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return attempts
		case <-ticker.C:
			if w.isDone() {
				w.logger.Debug("navwatch: polling stopped, done", "attempts", attempts)
				return attempts
			}
			attempts++
			w.sched.Post(func() { w.recheck(Event{Kind: KindPoll}) })
			if attempts >= w.cfg.MaxAttempts {
				w.logger.Debug("navwatch: polling budget spent", "attempts", attempts)
				return attempts
			}
		}
	}
}

// Close unsubscribes from every source. Safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	for _, c := range cancel {
		c()
	}
}

func (w *Watcher) isDone() bool {
	return w.done != nil && w.done()
}
