// Package mutation defines the change records a page host emits while its
// DOM changes, and the subscription stream that delivers them.
//
// Records produced during one task are delivered together as a Batch once
// the task ends, in the order they happened. A Subscription is a lazy,
// unbounded sequence of batches; once closed it cannot be resumed, callers
// subscribe again instead.
package mutation

import (
	"sync"

	"golang.org/x/net/html"
)

// Op is the type of DOM change observed.
type Op string

const (
	OpInsert Op = "insert" // child nodes added under Target
	OpRemove Op = "remove" // child nodes removed from Target
	OpText   Op = "text"   // character data of Target changed
)

// Record is a single DOM change.
type Record struct {
	Op       Op
	Target   *html.Node   // parent for insert/remove, text node for text
	Added    []*html.Node // insert only
	Removed  []*html.Node // remove only
	OldValue string       // text only
}

// Batch is every record produced by one task, in order.
type Batch struct {
	Seq     uint64
	Records []Record
}

// Recorder accumulates records and fans batches out to subscribers. It is
// used from the host's task loop only; Subscription delivery is safe for
// any goroutine.
type Recorder struct {
	mu      sync.Mutex
	pending []Record
	subs    []*Subscription
	seq     uint64
}

// Observing reports whether anyone is subscribed. Hosts skip building
// records when nobody listens.
func (r *Recorder) Observing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs) > 0
}

// Add appends a record to the current task's batch.
func (r *Recorder) Add(rec Record) {
	r.mu.Lock()
	if len(r.subs) > 0 {
		r.pending = append(r.pending, rec)
	}
	r.mu.Unlock()
}

// Subscribe starts a stream of batches restricted to changes inside root.
// A nil root receives every change.
func (r *Recorder) Subscribe(root *html.Node) *Subscription {
	s := newSubscription(root)
	r.mu.Lock()
	r.subs = append(r.subs, s)
	r.mu.Unlock()
	return s
}

// Flush delivers the pending records as one batch per subscriber.
func (r *Recorder) Flush() {
	r.mu.Lock()
	recs := r.pending
	r.pending = nil
	live := r.subs[:0]
	for _, s := range r.subs {
		if !s.isClosed() {
			live = append(live, s)
		}
	}
	r.subs = live
	subs := append([]*Subscription(nil), live...)
	if len(recs) > 0 {
		r.seq++
	}
	seq := r.seq
	r.mu.Unlock()

	if len(recs) == 0 {
		return
	}
	for _, s := range subs {
		var mine []Record
		for _, rec := range recs {
			if s.covers(rec.Target) {
				mine = append(mine, rec)
			}
		}
		if len(mine) > 0 {
			s.push(Batch{Seq: seq, Records: mine})
		}
	}
}

// Subscription is an unbounded stream of batches.
type Subscription struct {
	root *html.Node

	mu      sync.Mutex
	pending []Batch
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	out     chan Batch
}

func newSubscription(root *html.Node) *Subscription {
	s := &Subscription{
		root:   root,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Batch),
	}
	go s.pump()
	return s
}

// C returns the batch stream. It is closed after Close.
func (s *Subscription) C() <-chan Batch { return s.out }

// Close ends the stream. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) covers(n *html.Node) bool {
	if s.root == nil {
		return true
	}
	for ; n != nil; n = n.Parent {
		if n == s.root {
			return true
		}
	}
	return false
}

func (s *Subscription) push(b Batch) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, b)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves batches from the unbounded queue to the unbuffered channel so
// a slow consumer never blocks the page's task loop.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var b Batch
		ok := len(s.pending) > 0
		if ok {
			b = s.pending[0]
			s.pending = s.pending[1:]
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.done:
				return
			case <-s.notify:
				continue
			}
		}

		select {
		case s.out <- b:
		case <-s.done:
			return
		}
	}
}
