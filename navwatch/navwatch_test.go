package navwatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// queue collects posted tasks so tests decide when a turn happens.
type queue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queue) Post(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

func (q *queue) run() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

type source struct {
	mu  sync.Mutex
	fns map[int]func(Event)
	id  int
}

func (s *source) OnNavigate(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Event))
	}
	s.id++
	id := s.id
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *source) fire(ev Event) {
	s.mu.Lock()
	var fns []func(Event)
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func TestNotify_DeferredToNextTurn(t *testing.T) {
	q := &queue{}
	var got []Event
	w := New(Config{}, q, func(ev Event) { got = append(got, ev) }, nil)

	src := &source{}
	w.Subscribe(src)
	src.fire(Event{Kind: KindPush, URL: "/a"})
	src.fire(Event{Kind: KindPopState, URL: "/b"})

	if len(got) != 0 {
		t.Fatal("re-check ran synchronously inside the navigation")
	}
	if n := q.run(); n != 2 {
		t.Fatalf("queued re-checks: got %d, want 2", n)
	}
	if got[0].Kind != KindPush || got[1].Kind != KindPopState {
		t.Errorf("order: got %v", got)
	}
}

func TestClose_Unsubscribes(t *testing.T) {
	q := &queue{}
	w := New(Config{}, q, func(Event) {}, nil)
	src := &source{}
	w.Subscribe(src)
	w.Close()
	w.Close()

	src.fire(Event{Kind: KindReplace})
	if n := q.run(); n != 0 {
		t.Errorf("re-checks after Close: got %d, want 0", n)
	}
}

func TestPoll_BudgetExhausted(t *testing.T) {
	q := &queue{}
	var checks atomic.Int32
	w := New(Config{Interval: time.Millisecond, MaxAttempts: 4}, q,
		func(Event) { checks.Add(1) }, func() bool { return false })

	if n := w.Poll(context.Background()); n != 4 {
		t.Errorf("Poll: got %d attempts, want 4", n)
	}
	q.run()
	if checks.Load() != 4 {
		t.Errorf("re-checks: got %d, want 4", checks.Load())
	}
}

func TestPoll_StopsWhenDone(t *testing.T) {
	q := &queue{}
	var done atomic.Bool
	w := New(Config{Interval: time.Millisecond, MaxAttempts: 1000}, q,
		func(Event) {}, done.Load)

	result := make(chan int, 1)
	go func() { result <- w.Poll(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	done.Store(true)

	select {
	case n := <-result:
		if n >= 1000 {
			t.Errorf("Poll ran the full budget after done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not stop after done")
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := New(Config{Interval: time.Hour}, &queue{}, func(Event) {}, nil)
	if n := w.Poll(ctx); n != 0 {
		t.Errorf("Poll: got %d, want 0", n)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Interval != DefaultInterval || c.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("defaults: got %+v", c)
	}
}
