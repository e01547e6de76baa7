package pagemark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagemark/dialog"
	"github.com/hazyhaar/pagemark/event"
	"github.com/hazyhaar/pagemark/gate"
	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/idgen"
	"github.com/hazyhaar/pagemark/internal/sink"
	"github.com/hazyhaar/pagemark/mutwatch"
	"github.com/hazyhaar/pagemark/navwatch"
	"github.com/hazyhaar/pagemark/route"
	"golang.org/x/net/html"
)

// ErrAttached is returned when Attach is called twice on the same Agent.
var ErrAttached = errors.New("pagemark: agent already attached")

var errClosed = errors.New("agent closed")

// Status is a snapshot of one page lifetime.
type Status struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Activated     bool           `json:"activated"`
	DialogVisible bool           `json:"dialog_visible"`
	DialogReason  string         `json:"dialog_reason,omitempty"`
	Markers       int            `json:"markers"`
	Checks        uint64         `json:"checks"`
	Mutations     mutwatch.Stats `json:"mutations"`
	AttachedAt    time.Time      `json:"attached_at"`
	ActivatedAt   time.Time      `json:"activated_at,omitzero"`
}

// Agent augments one page lifetime. Attach it once; after a full page load
// a fresh Agent is attached to the new page.
type Agent struct {
	feat    Feature
	id      string
	logger  *slog.Logger
	sink    sink.Sink
	matcher route.Matcher
	hl      *highlight.Highlighter

	host   Host
	gate   *gate.Gate
	dialog *dialog.Controller
	nav    *navwatch.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	events chan event.Event

	mu          sync.Mutex
	mw          *mutwatch.Watcher
	attachedAt  time.Time
	activatedAt time.Time
	closed      bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithSink sends the Agent's journal events to s.
func WithSink(s sink.Sink) Option {
	return func(a *Agent) { a.sink = s }
}

// WithID sets the page lifetime id used in events and status.
func WithID(id string) Option {
	return func(a *Agent) { a.id = id }
}

// New creates an Agent for one page lifetime.
func New(f Feature, opts ...Option) *Agent {
	f.ApplyDefaults()
	a := &Agent{
		feat:    f,
		logger:  slog.Default(),
		matcher: route.New(f.Route),
	}
	for _, o := range opts {
		o(a)
	}
	if a.id == "" {
		a.id = idgen.Page()
	}
	a.logger = a.logger.With("page", a.id)
	a.hl = highlight.New(f.Keyword, f.MarkerClass, highlight.WithSkipTags(f.SkipTags...))
	return a
}

// ID returns the page lifetime id.
func (a *Agent) ID() string { return a.id }

// Highlighter returns the keyword highlighter the Agent applies.
func (a *Agent) Highlighter() *highlight.Highlighter { return a.hl }

// Attach starts augmenting h: it installs the stylesheet, subscribes to
// navigation, starts the polling fallback and queues the first activation
// check. It returns once everything is scheduled; activation itself
// happens on the host's loop.
func (a *Agent) Attach(ctx context.Context, h Host) error {
	a.mu.Lock()
	if a.host != nil {
		a.mu.Unlock()
		return ErrAttached
	}
	a.host = h
	a.attachedAt = time.Now()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if a.sink != nil {
		a.events = make(chan event.Event, 256)
		a.wg.Add(1)
		go a.deliver()
	}

	a.gate = gate.New(a.match, a.activate, gate.WithLogger(a.logger))
	a.dialog = dialog.New(dialog.Config{
		ID:           a.feat.PopupID,
		Title:        a.feat.Title,
		Message:      a.feat.Message,
		ConfirmLabel: a.feat.ConfirmLabel,
	}, h.Surface(), a.hl,
		dialog.WithLogger(a.logger),
		dialog.WithHooks(
			func() { a.emit(event.DialogShown, "", 0) },
			func(reason string) { a.emit(event.DialogClosed, reason, 0) },
		))

	a.installStyle(h)

	a.nav = navwatch.New(navwatch.Config{
		Interval:    a.feat.PollInterval,
		MaxAttempts: a.feat.PollAttempts,
	}, h, a.recheck, a.gate.Activated, navwatch.WithLogger(a.logger))
	a.nav.Subscribe(h)

	a.emit(event.Attached, "", 0)
	a.logger.Info("pagemark: attached", "url", h.Location())

	h.Post(func() { a.gate.TryActivate() })

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.nav.Poll(a.ctx)
	}()
	return nil
}

func (a *Agent) match() bool {
	if a.ctx.Err() != nil {
		return false
	}
	return a.matcher.MatchURL(a.host.Location())
}

// installStyle prefers the host's privileged path and falls back to a
// <style> element added on the loop.
func (a *Agent) installStyle(h Host) {
	css := Stylesheet(a.feat)
	if inj, ok := h.(StyleInjector); ok {
		err := inj.InjectStyle(a.ctx, css)
		if err == nil {
			return
		}
		a.logger.Debug("pagemark: privileged style injection failed, falling back", "error", err)
	}
	h.Post(func() {
		if err := h.AppendStyle(css); err != nil {
			a.logger.Warn("pagemark: style not installed", "error", err)
		}
	})
}

func (a *Agent) recheck(ev navwatch.Event) {
	if ev.Kind != navwatch.KindPoll {
		a.emit(event.Navigated, string(ev.Kind), 0)
	}
	a.gate.TryActivate()
}

// activate runs on the host loop, inline from the gate, so its three steps
// are never interleaved with other page work.
func (a *Agent) activate() {
	a.mu.Lock()
	a.activatedAt = time.Now()
	a.mu.Unlock()
	a.emit(event.Activated, "", 0)

	a.step("dialog", func() error {
		return a.dialog.Show()
	})

	a.step("highlight", func() error {
		scope := a.host.Body()
		if scope == nil {
			scope = a.host.Root()
		}
		if scope == nil {
			return fmt.Errorf("no document")
		}
		n := a.host.Highlight(a.hl, scope)
		a.logger.Info("pagemark: initial highlight", "markers", n)
		a.emit(event.Highlighted, "initial", n)
		return nil
	})

	a.step("mutation watcher", func() error {
		return a.watchMutations()
	})
}

// step runs one activation step so that its failure, error or panic, is
// logged without skipping the steps after it.
func (a *Agent) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("pagemark: activation step panicked", "step", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		a.logger.Warn("pagemark: activation step failed", "step", name, "error", err)
	}
}

func (a *Agent) watchMutations() error {
	var root *html.Node
	if root = a.host.DocumentElement(); root == nil {
		root = a.host.Root()
	}
	if root == nil {
		return fmt.Errorf("no document element")
	}

	mw := mutwatch.New(a.host,
		func(scope *html.Node) int { return a.host.Highlight(a.hl, scope) },
		mutwatch.WithLogger(a.logger),
		mutwatch.WithBatchHook(func(seq uint64, markers int) {
			if markers > 0 {
				a.emit(event.Highlighted, fmt.Sprintf("batch %d", seq), markers)
			}
		}))

	// Close may run concurrently from another goroutine; wg.Add must not
	// follow its Wait.
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errClosed
	}
	a.mw = mw
	a.wg.Add(1)
	a.mu.Unlock()

	sub := a.host.Observe(root)
	go func() {
		defer a.wg.Done()
		defer sub.Close()
		if err := mw.Run(a.ctx, sub.C()); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("pagemark: mutation watcher stopped", "error", err)
		}
	}()
	return nil
}

// Activated reports whether the page has been augmented.
func (a *Agent) Activated() bool {
	return a.gate != nil && a.gate.Activated()
}

// Status reads the page state on the host loop. It must not be called from
// a task on that loop.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	a.mu.Lock()
	h := a.host
	st := Status{
		ID:          a.id,
		AttachedAt:  a.attachedAt,
		ActivatedAt: a.activatedAt,
	}
	mw := a.mw
	a.mu.Unlock()

	if h == nil {
		return st, fmt.Errorf("pagemark: status: agent not attached")
	}
	st.URL = h.Location()
	st.Activated = a.gate.Activated()
	st.Checks = a.gate.Attempts()
	st.DialogReason = a.dialog.LastReason()
	if mw != nil {
		st.Mutations = mw.Stats()
	}
	err := h.Call(ctx, func() {
		st.DialogVisible = a.dialog.Visible()
		st.Markers = a.hl.Count(h.Root())
	})
	if err != nil {
		return st, fmt.Errorf("pagemark: status: %w", err)
	}
	return st, nil
}

// CloseDialog dismisses the dialog if it is shown. It must run on the host
// loop.
func (a *Agent) CloseDialog() {
	if a.dialog != nil {
		a.dialog.Close()
	}
}

// Close ends the page lifetime: polling, the navigation subscription and
// the mutation watcher stop. The page keeps its markers and dialog. Close
// must not be called from a task on the host loop.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed || a.host == nil {
		a.closed = true
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.nav.Close()
	a.emit(event.Detached, "", 0)
	a.cancel()
	a.mu.Lock()
	if a.events != nil {
		close(a.events)
	}
	a.mu.Unlock()
	a.wg.Wait()
	a.logger.Info("pagemark: detached")
	return nil
}

func (a *Agent) emit(typ event.Type, detail string, count int) {
	if a.events == nil {
		return
	}
	url := ""
	if a.host != nil {
		url = a.host.Location()
	}
	ev := event.New(typ, a.id, url)
	ev.Detail = detail
	ev.Count = count

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed && typ != event.Detached {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("pagemark: event dropped, sink backlog full", "type", typ)
	}
}

// deliver sends events off the page loop so a slow sink never stalls it.
func (a *Agent) deliver() {
	defer a.wg.Done()
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.sink.Send(ctx, ev); err != nil {
			a.logger.Warn("pagemark: event not delivered", "type", ev.Type, "error", err)
		}
		cancel()
	}
}
