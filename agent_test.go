package pagemark

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pagemark/event"
	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/internal/sink"
	"github.com/hazyhaar/pagemark/navwatch"
	"github.com/hazyhaar/pagemark/page"
	"golang.org/x/net/html"
)

const kw = highlight.DefaultKeyword

const body = `<!DOCTYPE html><html><head></head><body>` +
	`<main id="main"><p id="p">A ` + kw + ` B ` + kw + `</p>` +
	`<textarea>` + kw + `</textarea><span id="t">plain</span></main></body></html>`

func startPage(t *testing.T, location string) (*page.Document, context.Context) {
	t.Helper()
	d, err := page.ParseString(body, location)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d, ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func status(t *testing.T, ctx context.Context, a *Agent) Status {
	t.Helper()
	st, err := a.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func do(t *testing.T, ctx context.Context, d *page.Document, fn func()) {
	t.Helper()
	if err := d.Call(ctx, fn); err != nil {
		t.Fatal(err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) sink() sink.Sink {
	return sink.NewCallback(func(_ context.Context, ev event.Event) error {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Type
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestAgent_ActivatesOnMatchingRoute(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/app/EG0008W/view")
	a := New(Feature{})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	waitFor(t, "activation", a.Activated)
	st := status(t, ctx, a)
	if !st.DialogVisible {
		t.Error("dialog not shown")
	}
	// two in the paragraph, one in the dialog message, none in the textarea
	if st.Markers != 3 {
		t.Errorf("markers: got %d, want 3", st.Markers)
	}

	var out string
	do(t, ctx, d, func() { out = d.String() })
	if !strings.Contains(out, "<textarea>"+kw+"</textarea>") {
		t.Error("textarea content rewritten")
	}
	if !strings.Contains(out, "."+highlight.DefaultMarkerClass+" { background: yellow") {
		t.Error("stylesheet not installed")
	}
}

func TestAgent_StaysOpenOffRoute(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/app/HOME")
	a := New(Feature{PollInterval: 5 * time.Millisecond, PollAttempts: 3})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	waitFor(t, "polling budget", func() bool { return status(t, ctx, a).Checks >= 4 })
	st := status(t, ctx, a)
	if st.Activated || st.DialogVisible || st.Markers != 0 {
		t.Errorf("off-route page augmented: %+v", st)
	}
}

func TestAgent_ActivatesAfterPushState(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/app/HOME")
	a := New(Feature{PollAttempts: 1, PollInterval: time.Hour})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	do(t, ctx, d, func() {})
	if a.Activated() {
		t.Fatal("activated before navigation")
	}

	do(t, ctx, d, func() {
		d.PushState("/app/EG0008W")
		if a.Activated() {
			t.Error("activated inside the navigation's own task")
		}
	})
	waitFor(t, "activation after push", a.Activated)

	for i := 0; i < 5; i++ {
		do(t, ctx, d, func() { d.ReplaceState("/app/EG0008W?tab=" + string(rune('a'+i))) })
	}
	do(t, ctx, d, func() {})
	do(t, ctx, d, func() {
		all, _ := d.QuerySelectorAll("#mn-eg0008w-popup-backdrop")
		if len(all) != 1 {
			t.Errorf("dialogs: got %d, want 1", len(all))
		}
	})
	if st := status(t, ctx, a); st.Markers != 3 {
		t.Errorf("markers after repeated checks: got %d, want 3", st.Markers)
	}
}

// quietHost hides navigation from the agent so only polling can notice it.
type quietHost struct {
	*page.Document
}

func (quietHost) OnNavigate(func(navwatch.Event)) func() { return func() {} }

func TestAgent_PollingFallback(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/app/HOME")
	a := New(Feature{PollInterval: 5 * time.Millisecond, PollAttempts: 200})
	if err := a.Attach(ctx, quietHost{d}); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	do(t, ctx, d, func() { d.PushState("/app/EG0008W") })
	waitFor(t, "activation by polling", a.Activated)
}

func TestAgent_HighlightsLaterContent(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/EG0008W")
	a := New(Feature{})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	waitFor(t, "activation", a.Activated)

	do(t, ctx, d, func() {
		if err := d.AppendHTML(d.GetElementByID("main"), `<section><b>`+kw+`</b></section>`); err != nil {
			t.Error(err)
		}
	})
	waitFor(t, "inserted content highlighted", func() bool { return status(t, ctx, a).Markers == 4 })

	do(t, ctx, d, func() {
		d.SetText(d.GetElementByID("t").FirstChild, "now "+kw)
	})
	waitFor(t, "changed text highlighted", func() bool { return status(t, ctx, a).Markers == 5 })

	do(t, ctx, d, func() {
		n := d.GetElementByID("main")
		d.AppendChild(n, &html.Node{Type: html.TextNode, Data: kw})
	})
	do(t, ctx, d, func() {})
	time.Sleep(20 * time.Millisecond)
	if got := status(t, ctx, a).Markers; got != 5 {
		t.Errorf("bare text insert: got %d markers, want 5 (only elements are rescanned)", got)
	}
	if st := status(t, ctx, a); st.Mutations.Markers != 2 {
		t.Errorf("mutation stats: got %+v", st.Mutations)
	}
}

func TestAgent_DialogDismissAndJournal(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/EG0008W")
	rec := &recorder{}
	a := New(Feature{}, WithSink(rec.sink()), WithID("pg_test"))
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "activation", a.Activated)

	do(t, ctx, d, func() { d.KeyDown("Escape") })
	st := status(t, ctx, a)
	if st.DialogVisible || st.DialogReason != "escape" {
		t.Errorf("after Escape: visible=%v reason=%q", st.DialogVisible, st.DialogReason)
	}
	if st.ID != "pg_test" {
		t.Errorf("id: got %q", st.ID)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	want := []event.Type{event.Attached, event.Activated, event.DialogShown, event.Highlighted, event.DialogClosed, event.Detached}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
	for _, ev := range rec.events {
		if ev.PageID != "pg_test" || ev.ID == "" {
			t.Errorf("event not stamped: %+v", ev)
		}
	}
}

func TestAgent_CloseStopsWatching(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/EG0008W")
	a := New(Feature{})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "activation", a.Activated)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	do(t, ctx, d, func() {
		d.AppendHTML(d.GetElementByID("main"), `<div>`+kw+`</div>`)
	})
	time.Sleep(20 * time.Millisecond)
	var n int
	do(t, ctx, d, func() { n = a.Highlighter().Count(d.Root()) })
	if n != 3 {
		t.Errorf("markers after Close: got %d, want 3", n)
	}
}

func TestAgent_AttachTwice(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/EG0008W")
	a := New(Feature{})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Attach(ctx, d); !errors.Is(err, ErrAttached) {
		t.Errorf("second Attach: got %v, want ErrAttached", err)
	}
}

func TestAgent_NoBodyStillHighlights(t *testing.T) {
	d, err := page.ParseString(`<p>`+kw+`</p>`, "/EG0008W")
	if err != nil {
		t.Fatal(err)
	}
	// Move the paragraph out of the body and drop the body.
	root := d.DocumentElement()
	b := d.Body()
	p := b.FirstChild
	root.RemoveChild(b)
	b.RemoveChild(p)
	root.AppendChild(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	a := New(Feature{})
	if err := a.Attach(ctx, d); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	waitFor(t, "activation", a.Activated)
	st := status(t, ctx, a)
	if st.DialogVisible {
		t.Error("dialog mounted without a body")
	}
	if st.Markers != 1 {
		t.Errorf("markers: got %d, want 1 (highlighting continues after the dialog fails)", st.Markers)
	}
}

func TestStylesheet_UsesConfiguredIDs(t *testing.T) {
	css := Stylesheet(Feature{PopupID: "x-pop", MarkerClass: "x-mark"})
	for _, want := range []string{"#x-pop-backdrop {", "#x-pop .ok {", ".x-mark {"} {
		if !strings.Contains(css, want) {
			t.Errorf("stylesheet lacks %q", want)
		}
	}
}

// stallHost holds the first highlight pass until released.
type stallHost struct {
	*page.Document
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallHost) Highlight(h *highlight.Highlighter, scope *html.Node) int {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Document.Highlight(h, scope)
}

func TestAgent_CloseDuringActivation(t *testing.T) {
	d, ctx := startPage(t, "https://host.test/EG0008W")
	h := &stallHost{Document: d, entered: make(chan struct{}), release: make(chan struct{})}
	a := New(Feature{})
	if err := a.Attach(ctx, h); err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("activation did not reach the highlight pass")
	}

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close waited for the page loop")
	}

	close(h.release)
	do(t, ctx, d, func() {})

	a.mu.Lock()
	mw := a.mw
	a.mu.Unlock()
	if mw != nil {
		t.Error("mutation watcher started after Close")
	}
}
