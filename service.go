package pagemark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/hazyhaar/pagemark/idgen"
	"github.com/hazyhaar/pagemark/internal/browser"
	"github.com/hazyhaar/pagemark/internal/live"
	"github.com/hazyhaar/pagemark/internal/sink"
)

// ErrUnknownPage is returned for a page id the Service does not run.
var ErrUnknownPage = errors.New("pagemark: unknown page")

// Service keeps every configured page augmented in a managed Chrome. Each
// page gets a tab; every document the tab loads gets a fresh live host and
// Agent. Browser recycles reopen the tabs.
type Service struct {
	cfg    *Config
	mgr    *browser.Manager
	sinks  *sink.Router
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	runners map[string]*runner
	wg      sync.WaitGroup

	// replaced in tests
	attach     func(ctx context.Context, rp *rod.Page, log *slog.Logger) (pageHost, error)
	waitLoad   func(ctx context.Context, rp *rod.Page) error
	retryDelay time.Duration
}

// pageHost is a Host bound to one document of a tab.
type pageHost interface {
	Host
	Done() <-chan struct{}
	Close() error
}

// DefaultRetryDelay is the pause before re-attaching to a tab after a
// failed attach.
const DefaultRetryDelay = 2 * time.Second

func attachLive(ctx context.Context, rp *rod.Page, log *slog.Logger) (pageHost, error) {
	p, err := live.Attach(ctx, rp, live.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func waitLoad(ctx context.Context, rp *rod.Page) error {
	return rp.Context(ctx).WaitLoad()
}

// runner is one configured page.
type runner struct {
	pc     PageConfig
	cancel context.CancelFunc

	mu    sync.Mutex
	agent *Agent
}

func (r *runner) current() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent
}

func (r *runner) set(a *Agent) {
	r.mu.Lock()
	r.agent = a
	r.mu.Unlock()
}

// NewService creates a Service. Events go to every sink.
func NewService(cfg *Config, logger *slog.Logger, sinks ...sink.Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.Mode(cfg.Browser.Mode),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	return &Service{
		cfg:        cfg,
		mgr:        mgr,
		sinks:      sink.NewRouter(logger, sinks...),
		logger:     logger,
		runners:    make(map[string]*runner),
		attach:     attachLive,
		waitLoad:   waitLoad,
		retryDelay: DefaultRetryDelay,
	}
}

// Start launches the browser and opens every configured page.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("pagemark: start browser: %w", err)
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.mgr.OnRecycle(&browser.RecycleCallback{
		Before: s.stopRunners,
		After:  func(*rod.Browser) { s.startRunners() },
	})
	s.startRunners()
	return nil
}

// Stop closes every page and the browser.
func (s *Service) Stop() {
	s.stopRunners()
	if err := s.sinks.Close(); err != nil {
		s.logger.Warn("pagemark: close sinks", "error", err)
	}
	if err := s.mgr.Close(); err != nil {
		s.logger.Warn("pagemark: close browser", "error", err)
	}
}

func (s *Service) startRunners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.cfg.Pages {
		ctx, cancel := context.WithCancel(s.ctx)
		r := &runner{pc: pc, cancel: cancel}
		s.runners[pc.ID] = r
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx, r)
		}()
	}
}

func (s *Service) stopRunners() {
	s.mu.Lock()
	for _, r := range s.runners {
		r.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run keeps one configured page augmented until ctx ends.
func (s *Service) run(ctx context.Context, r *runner) {
	log := s.logger.With("page_config", r.pc.ID)
	tab, err := browser.OpenTab(ctx, s.mgr, r.pc.URL, r.pc.ID, r.pc.StealthEnabled())
	if err != nil {
		log.Error("pagemark: open tab", "url", r.pc.URL, "error", err)
		return
	}
	defer tab.Close()
	s.keep(ctx, r, tab.Page, log)
}

// keep augments every document rp loads. A failed attach is retried after
// retryDelay on the next loaded document; nothing short of ctx ending stops
// it.
func (s *Service) keep(ctx context.Context, r *runner, rp *rod.Page, log *slog.Logger) {
	for ctx.Err() == nil {
		if err := s.serve(ctx, r, rp, log); err != nil {
			log.Warn("pagemark: page not augmented, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.waitLoad(ctx, rp); err != nil {
			log.Warn("pagemark: wait for next document", "error", err)
		}
	}
}

// serve augments one document until its lifetime or ctx ends.
func (s *Service) serve(ctx context.Context, r *runner, rp *rod.Page, log *slog.Logger) error {
	host, err := s.attach(ctx, rp, log)
	if err != nil {
		return fmt.Errorf("pagemark: attach live host: %w", err)
	}

	a := New(s.cfg.Feature, WithLogger(log), WithSink(s.sinks), WithID(idgen.Page()))
	if err := a.Attach(ctx, host); err != nil {
		host.Close()
		return fmt.Errorf("pagemark: attach agent: %w", err)
	}
	r.set(a)

	select {
	case <-ctx.Done():
	case <-host.Done():
	}
	a.Close()
	host.Close()
	r.set(nil)
	return nil
}

// Pages returns the status of every attached page, by configured id.
func (s *Service) Pages(ctx context.Context) []PageStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runners))
	for id := range s.runners {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]PageStatus, 0, len(ids))
	for _, id := range ids {
		st, err := s.Page(ctx, id)
		if err != nil {
			s.logger.Debug("pagemark: page status", "id", id, "error", err)
		}
		out = append(out, st)
	}
	return out
}

// PageStatus is a configured page and the state of its current document.
type PageStatus struct {
	ConfigID string  `json:"config_id"`
	URL      string  `json:"url"`
	Attached bool    `json:"attached"`
	Status   *Status `json:"status,omitempty"`
}

// Page returns the status of one configured page.
func (s *Service) Page(ctx context.Context, id string) (PageStatus, error) {
	s.mu.Lock()
	r := s.runners[id]
	s.mu.Unlock()
	if r == nil {
		return PageStatus{ConfigID: id}, ErrUnknownPage
	}

	ps := PageStatus{ConfigID: id, URL: r.pc.URL}
	a := r.current()
	if a == nil {
		return ps, nil
	}
	st, err := a.Status(ctx)
	if err != nil {
		return ps, err
	}
	ps.Attached = true
	ps.Status = &st
	return ps, nil
}
