package mutation

import (
	"testing"
	"time"

	"golang.org/x/net/html"
)

func recv(t *testing.T, s *Subscription) Batch {
	t.Helper()
	select {
	case b, ok := <-s.C():
		if !ok {
			t.Fatal("stream closed")
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}
	return Batch{}
}

func tree() (root, a, b *html.Node) {
	root = &html.Node{Type: html.ElementNode, Data: "html"}
	a = &html.Node{Type: html.ElementNode, Data: "div"}
	b = &html.Node{Type: html.ElementNode, Data: "div"}
	root.AppendChild(a)
	root.AppendChild(b)
	return root, a, b
}

func TestFlush_OneBatchPerTask(t *testing.T) {
	_, a, b := tree()
	var r Recorder
	s := r.Subscribe(nil)
	defer s.Close()

	r.Add(Record{Op: OpInsert, Target: a})
	r.Add(Record{Op: OpText, Target: b})
	r.Flush()
	r.Add(Record{Op: OpRemove, Target: a})
	r.Flush()

	b1 := recv(t, s)
	if len(b1.Records) != 2 {
		t.Fatalf("batch 1: got %d records, want 2", len(b1.Records))
	}
	if b1.Records[0].Op != OpInsert || b1.Records[1].Op != OpText {
		t.Errorf("batch 1 order: got %s, %s", b1.Records[0].Op, b1.Records[1].Op)
	}
	b2 := recv(t, s)
	if b2.Seq <= b1.Seq {
		t.Errorf("Seq: got %d after %d", b2.Seq, b1.Seq)
	}
}

func TestSubscribe_RootFilter(t *testing.T) {
	_, a, b := tree()
	child := &html.Node{Type: html.TextNode, Data: "x"}
	a.AppendChild(child)

	var r Recorder
	s := r.Subscribe(a)
	defer s.Close()

	r.Add(Record{Op: OpText, Target: b})
	r.Add(Record{Op: OpText, Target: child})
	r.Flush()

	got := recv(t, s)
	if len(got.Records) != 1 || got.Records[0].Target != child {
		t.Errorf("root filter: got %+v", got.Records)
	}
}

func TestAdd_NoSubscribers(t *testing.T) {
	var r Recorder
	if r.Observing() {
		t.Error("Observing: want false")
	}
	r.Add(Record{Op: OpText})
	r.Flush()

	s := r.Subscribe(nil)
	defer s.Close()
	select {
	case b := <-s.C():
		t.Errorf("records from before subscribing were delivered: %+v", b)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	var r Recorder
	s := r.Subscribe(nil)
	s.Close()
	s.Close()

	select {
	case _, ok := <-s.C():
		if ok {
			t.Error("want closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}

	r.Add(Record{Op: OpText})
	r.Flush()
	if r.Observing() {
		t.Error("closed subscription still registered after Flush")
	}
}
