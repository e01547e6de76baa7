// Package live hosts the augmentation in a real Chrome tab.
//
// A Page mirrors the tab's DOM as an *html.Node tree kept current from CDP
// DOM events, so highlighting is planned in Go exactly as on the in-memory
// page. Only the final text node rewrites, the dialog, its listeners and
// the stylesheet cross the DevTools protocol. Every mirror update and every
// rewrite runs as a task on the Page's loop.
//
// A Page lives as long as one document. A full navigation of the main
// frame (or a document replacement) ends it: Done is closed and the caller
// attaches a fresh Page and Agent to the new document.
package live

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/hazyhaar/pagemark/dialog"
	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/loop"
	"github.com/hazyhaar/pagemark/mutation"
	"github.com/hazyhaar/pagemark/navwatch"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

//go:embed helper.js
var helperJS string

//go:embed replace.js
var replaceJS string

const bindingName = "__pagemark_binding"

// Page is a live tab seen as a pagemark host.
type Page struct {
	*loop.Loop

	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// owned by the loop
	mirror *mirror
	rec    mutation.Recorder

	requestChildren func(proto.DOMNodeID) error

	mu        sync.Mutex
	location  string
	navSubs   map[int]func(navwatch.Event)
	handlers  map[string]func(dialog.Event)
	nextID    int
	nextToken int
}

// Option configures a Page.
type Option func(*Page)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// Attach starts hosting on an already loaded tab: it installs the in-page
// helper and the event binding, mirrors the DOM, and starts the loop and
// the CDP listeners. They run until ctx ends, Close is called, or the
// document goes away.
func Attach(ctx context.Context, rp *rod.Page, opts ...Option) (*Page, error) {
	p := newPage(ctx, rp, opts...)

	info, err := rp.Info()
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("live: target info: %w", err)
	}
	p.location = info.URL

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(rp); err != nil {
		p.logger.Warn("live: add binding failed (may already exist)", "error", err)
	}
	if _, err := rp.Eval(`() => {` + helperJS + `}`); err != nil {
		p.cancel()
		return nil, fmt.Errorf("live: install helper: %w", err)
	}

	wait := rp.Context(p.ctx).EachEvent(
		p.onInserted,
		p.onRemoved,
		p.onSetChildNodes,
		p.onCharacterData,
		p.onChildNodeCountUpdated,
		p.onAttributeModified,
		p.onAttributeRemoved,
		p.onDocumentUpdated,
		p.onFrameNavigated,
		p.onNavigatedWithinDocument,
		p.onBinding,
	)

	if err := (proto.DOMEnable{}).Call(rp); err != nil {
		p.cancel()
		return nil, fmt.Errorf("live: DOM.enable: %w", err)
	}
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(rp)
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("live: DOM.getDocument: %w", err)
	}
	p.Post(func() {
		p.mirror.reset(doc.Root)
		p.logger.Info("live: DOM mirrored", "url", p.Location(), "nodes", len(p.mirror.byID))
		p.expand()
	})

	go p.Run(p.ctx)
	go func() {
		wait()
		p.end("listener stopped")
	}()
	return p, nil
}

func newPage(ctx context.Context, rp *rod.Page, opts ...Option) *Page {
	p := &Page{
		page:     rp,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		mirror:   newMirror(),
		navSubs:  make(map[int]func(navwatch.Event)),
		handlers: make(map[string]func(dialog.Event)),
	}
	for _, o := range opts {
		o(p)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.requestChildren = func(id proto.DOMNodeID) error {
		depth := -1
		return proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(p.page.Context(p.ctx))
	}
	p.Loop = loop.New(loop.WithLogger(p.logger))
	p.Loop.AfterEach(p.rec.Flush)
	return p
}

// Done is closed when the page lifetime ends.
func (p *Page) Done() <-chan struct{} { return p.done }

// Close stops the loop and the CDP listeners. The tab stays open.
func (p *Page) Close() error {
	p.end("closed")
	return nil
}

func (p *Page) end(reason string) {
	p.once.Do(func() {
		p.logger.Info("live: page lifetime ended", "reason", reason, "url", p.Location())
		p.cancel()
		close(p.done)
	})
}

// Location returns the tab's current URL.
func (p *Page) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

// OnNavigate subscribes to same-document navigations.
func (p *Page) OnNavigate(fn func(navwatch.Event)) (cancel func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.navSubs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.navSubs, id)
		p.mu.Unlock()
	}
}

// Root returns the mirrored document node.
func (p *Page) Root() *html.Node { return p.mirror.root }

// DocumentElement returns the mirrored <html> element.
func (p *Page) DocumentElement() *html.Node { return element(p.mirror.root, atom.Html) }

// Body returns the mirrored <body> element.
func (p *Page) Body() *html.Node { return element(p.DocumentElement(), atom.Body) }

// Observe streams mirrored DOM changes under root.
func (p *Page) Observe(root *html.Node) *mutation.Subscription {
	return p.rec.Subscribe(root)
}

// Highlight plans on the mirror and rewrites each target text node in the
// tab. Nodes the page detached or edited since they were mirrored are left
// alone by the in-page rewrite.
func (p *Page) Highlight(h *highlight.Highlighter, scope *html.Node) int {
	inserted := 0
	for _, t := range h.Plan(scope) {
		id, ok := p.mirror.id(t.Node)
		if !ok {
			continue
		}
		n, err := p.replaceText(id, t, h)
		if err != nil {
			p.logger.Debug("live: rewrite text node", "node", id, "error", err)
			continue
		}
		inserted += n
	}
	return inserted
}

func (p *Page) replaceText(id proto.DOMNodeID, t highlight.Target, h *highlight.Highlighter) (int, error) {
	res, err := proto.DOMResolveNode{NodeID: id}.Call(p.page)
	if err != nil {
		return 0, fmt.Errorf("resolve: %w", err)
	}
	el, err := p.page.ElementFromObject(res.Object)
	if err != nil {
		return 0, fmt.Errorf("wrap: %w", err)
	}
	defer el.Release()

	out, err := el.Eval(replaceJS, t.Text, t.Segments, h.MarkerTag(), h.MarkerClass())
	if err != nil {
		return 0, fmt.Errorf("replace: %w", err)
	}
	return out.Value.Int(), nil
}

// AppendStyle adds a <style> element through the page's DOM.
func (p *Page) AppendStyle(css string) error {
	if _, err := p.page.Eval(`(css) => window.__pagemark.style(css)`, css); err != nil {
		return fmt.Errorf("live: append style: %w", err)
	}
	return nil
}

// InjectStyle adds the stylesheet as an inspector stylesheet of the main
// frame. Chrome creates it on behalf of DevTools, so the page's content
// security policy does not apply.
func (p *Page) InjectStyle(ctx context.Context, css string) error {
	if err := injectStyle(p.page.Context(ctx), css); err != nil {
		return fmt.Errorf("live: inject style: %w", err)
	}
	return nil
}

func injectStyle(c proto.Client, css string) error {
	if err := (proto.CSSEnable{}).Call(c); err != nil {
		return fmt.Errorf("CSS.enable: %w", err)
	}
	tree, err := proto.PageGetFrameTree{}.Call(c)
	if err != nil {
		return fmt.Errorf("frame tree: %w", err)
	}
	if tree.FrameTree == nil || tree.FrameTree.Frame == nil {
		return fmt.Errorf("frame tree: no main frame")
	}
	sheet, err := proto.CSSCreateStyleSheet{FrameID: tree.FrameTree.Frame.ID}.Call(c)
	if err != nil {
		return fmt.Errorf("create stylesheet: %w", err)
	}
	if _, err := (proto.CSSSetStyleSheetText{StyleSheetID: sheet.StyleSheetID, Text: css}).Call(c); err != nil {
		return fmt.Errorf("set stylesheet text: %w", err)
	}
	return nil
}

// CDP event handlers. They run on rod's event goroutine and hand the work
// to the loop.

func (p *Page) onInserted(e *proto.DOMChildNodeInserted) {
	p.Post(func() {
		n := p.mirror.insert(e.ParentNodeID, e.PreviousNodeID, e.Node)
		if n == nil {
			return
		}
		p.rec.Add(mutation.Record{Op: mutation.OpInsert, Target: n.Parent, Added: []*html.Node{n}})
		p.expand()
	})
}

func (p *Page) onRemoved(e *proto.DOMChildNodeRemoved) {
	p.Post(func() {
		n, parent := p.mirror.remove(e.NodeID)
		if n == nil || parent == nil {
			return
		}
		p.rec.Add(mutation.Record{Op: mutation.OpRemove, Target: parent, Removed: []*html.Node{n}})
	})
}

func (p *Page) onSetChildNodes(e *proto.DOMSetChildNodes) {
	p.Post(func() {
		added := p.mirror.setChildren(e.ParentID, e.Nodes)
		if len(added) == 0 {
			return
		}
		p.rec.Add(mutation.Record{Op: mutation.OpInsert, Target: added[0].Parent, Added: added})
		p.expand()
	})
}

func (p *Page) onCharacterData(e *proto.DOMCharacterDataModified) {
	p.Post(func() {
		n, old := p.mirror.setText(e.NodeID, e.CharacterData)
		if n == nil {
			return
		}
		p.rec.Add(mutation.Record{Op: mutation.OpText, Target: n, OldValue: old})
	})
}

// onChildNodeCountUpdated is all Chrome reports for children added under a
// node whose subtree was never sent. The subtree is requested and arrives
// as DOM.setChildNodes.
func (p *Page) onChildNodeCountUpdated(e *proto.DOMChildNodeCountUpdated) {
	if e.ChildNodeCount == 0 {
		return
	}
	p.Post(func() {
		if p.mirror.node(e.NodeID) == nil {
			return
		}
		p.request([]proto.DOMNodeID{e.NodeID})
	})
}

// expand requests the subtrees of elements mirrored without children.
// Chrome sends inserted nodes one level deep.
func (p *Page) expand() {
	if ids := p.mirror.takeUnexpanded(); len(ids) > 0 {
		p.request(ids)
	}
}

// request runs off the loop; the answers come back as events.
func (p *Page) request(ids []proto.DOMNodeID) {
	go func() {
		for _, id := range ids {
			if p.ctx.Err() != nil {
				return
			}
			if err := p.requestChildren(id); err != nil {
				p.logger.Debug("live: request child nodes", "node", id, "error", err)
			}
		}
	}()
}

func (p *Page) onAttributeModified(e *proto.DOMAttributeModified) {
	p.Post(func() { p.mirror.setAttr(e.NodeID, e.Name, e.Value) })
}

func (p *Page) onAttributeRemoved(e *proto.DOMAttributeRemoved) {
	p.Post(func() { p.mirror.removeAttr(e.NodeID, e.Name) })
}

func (p *Page) onDocumentUpdated(*proto.DOMDocumentUpdated) {
	p.end("document replaced")
}

func (p *Page) onFrameNavigated(e *proto.PageFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	p.mu.Lock()
	p.location = e.Frame.URL
	p.mu.Unlock()
	p.end("main frame navigated")
}

// onNavigatedWithinDocument covers history push, replace and back/forward
// within the document. CDP does not say which one happened.
func (p *Page) onNavigatedWithinDocument(e *proto.PageNavigatedWithinDocument) {
	if p.page.FrameID != "" && e.FrameID != p.page.FrameID {
		return
	}
	p.mu.Lock()
	p.location = e.URL
	subs := make([]func(navwatch.Event), 0, len(p.navSubs))
	for _, fn := range p.navSubs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	ev := navwatch.Event{Kind: navwatch.KindPush, URL: e.URL}
	for _, fn := range subs {
		fn(ev)
	}
}

type bindingPayload struct {
	Token  string `json:"token"`
	Type   string `json:"type"`
	Key    string `json:"key"`
	Target string `json:"target"`
}

func (p *Page) onBinding(e *proto.RuntimeBindingCalled) {
	if e.Name != bindingName {
		return
	}
	var msg bindingPayload
	if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
		p.logger.Warn("live: parse binding payload", "error", err)
		return
	}
	p.Post(func() {
		p.mu.Lock()
		fn := p.handlers[msg.Token]
		p.mu.Unlock()
		if fn != nil {
			fn(dialog.Event{Type: msg.Type, Key: msg.Key, TargetID: msg.Target})
		}
	})
}

func (p *Page) register(fn func(dialog.Event)) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextToken++
	token := "l" + strconv.Itoa(p.nextToken)
	p.handlers[token] = fn
	return token
}

func (p *Page) unregister(token string) {
	p.mu.Lock()
	delete(p.handlers, token)
	p.mu.Unlock()
}
