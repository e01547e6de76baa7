// Package page is an in-memory page host: an HTML document parsed with
// x/net/html plus the parts of a browser page the augmentation relies on,
// namely a single task loop, DOM mutation records, history navigation,
// and event dispatch with bubbling.
//
// All methods that read or change the tree are meant to run as tasks on the
// Document's loop (Post, Call, Drain). Mutation records produced by a task
// are delivered as one batch when the task ends.
package page

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/loop"
	"github.com/hazyhaar/pagemark/mutation"
	"github.com/hazyhaar/pagemark/navwatch"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed page with its own task loop.
type Document struct {
	*loop.Loop

	root   *html.Node
	rec    mutation.Recorder
	logger *slog.Logger

	mu        sync.Mutex
	location  string
	history   []string
	histIndex int
	navSubs   map[int]func(navwatch.Event)
	nextID    int
	listeners map[*html.Node]map[string][]*listener
	active    *html.Node
}

// Option configures a Document.
type Option func(*Document)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// Parse reads an HTML document served at location.
func Parse(r io.Reader, location string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	return New(root, location, opts...), nil
}

// ParseString is Parse over a string.
func ParseString(src, location string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(src), location, opts...)
}

// New wraps an already parsed document node.
func New(root *html.Node, location string, opts ...Option) *Document {
	d := &Document{
		root:      root,
		logger:    slog.Default(),
		location:  location,
		history:   []string{location},
		navSubs:   make(map[int]func(navwatch.Event)),
		listeners: make(map[*html.Node]map[string][]*listener),
	}
	for _, o := range opts {
		o(d)
	}
	d.Loop = loop.New(loop.WithLogger(d.logger))
	d.Loop.AfterEach(d.rec.Flush)
	return d
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return c
		}
	}
	return nil
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node { return d.child(atom.Body) }

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node { return d.child(atom.Head) }

func (d *Document) child(a atom.Atom) *html.Node {
	doc := d.DocumentElement()
	if doc == nil {
		return nil
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// Location returns the current URL.
func (d *Document) Location() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location
}

// GetElementByID returns the first element with id, or nil.
func (d *Document) GetElementByID(id string) *html.Node {
	if id == "" {
		return nil
	}
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Namespace == "" && a.Key == "id" && a.Val == id {
					found = n
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(d.root)
	return found
}

// QuerySelector returns the first element matching a CSS selector.
func (d *Document) QuerySelector(sel string) (*html.Node, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("page: selector %q: %w", sel, err)
	}
	return s.MatchFirst(d.root), nil
}

// QuerySelectorAll returns every element matching a CSS selector.
func (d *Document) QuerySelectorAll(sel string) ([]*html.Node, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("page: selector %q: %w", sel, err)
	}
	return s.MatchAll(d.root), nil
}

// Observe subscribes to DOM changes inside root (the whole document when
// root is nil).
func (d *Document) Observe(root *html.Node) *mutation.Subscription {
	return d.rec.Subscribe(root)
}

// Flush delivers records produced outside a loop task.
func (d *Document) Flush() { d.rec.Flush() }

// AppendChild adds child as the last child of parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	parent.AppendChild(child)
	d.rec.Add(mutation.Record{Op: mutation.OpInsert, Target: parent, Added: []*html.Node{child}})
}

// InsertBefore adds child to parent before ref; a nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	parent.InsertBefore(child, ref)
	d.rec.Add(mutation.Record{Op: mutation.OpInsert, Target: parent, Added: []*html.Node{child}})
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child *html.Node) {
	parent.RemoveChild(child)
	d.rec.Add(mutation.Record{Op: mutation.OpRemove, Target: parent, Removed: []*html.Node{child}})
}

// Remove detaches n from its parent, if any.
func (d *Document) Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		d.RemoveChild(n.Parent, n)
	}
}

// SetText changes the data of a text node.
func (d *Document) SetText(n *html.Node, s string) {
	old := n.Data
	n.Data = s
	d.rec.Add(mutation.Record{Op: mutation.OpText, Target: n, OldValue: old})
}

// AppendHTML parses src in the context of el and appends the result.
func (d *Document) AppendHTML(el *html.Node, src string) error {
	nodes, err := html.ParseFragment(strings.NewReader(src), el)
	if err != nil {
		return fmt.Errorf("page: parse fragment: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}
	for _, n := range nodes {
		el.AppendChild(n)
	}
	d.rec.Add(mutation.Record{Op: mutation.OpInsert, Target: el, Added: nodes})
	return nil
}

// SetInnerHTML replaces el's children with the parsed src.
func (d *Document) SetInnerHTML(el *html.Node, src string) error {
	var removed []*html.Node
	for c := el.FirstChild; c != nil; {
		next := c.NextSibling
		el.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	if len(removed) > 0 {
		d.rec.Add(mutation.Record{Op: mutation.OpRemove, Target: el, Removed: removed})
	}
	return d.AppendHTML(el, src)
}

// Highlight marks keyword occurrences under scope through the recorded DOM
// operations, so observers see the rewrite like any other change.
func (d *Document) Highlight(h *highlight.Highlighter, scope *html.Node) int {
	inserted := 0
	for _, t := range h.Plan(scope) {
		n := t.Node
		if n.Parent == nil || n.Data != t.Text {
			continue
		}
		parent := n.Parent
		for _, c := range h.Nodes(t.Segments) {
			d.InsertBefore(parent, c, n)
		}
		d.RemoveChild(parent, n)
		inserted += t.Markers()
	}
	return inserted
}

// AppendStyle installs css as a <style> element at the end of head, or of
// the document element when there is no head.
func (d *Document) AppendStyle(css string) error {
	parent := d.Head()
	if parent == nil {
		parent = d.DocumentElement()
	}
	if parent == nil {
		return fmt.Errorf("page: no head to install style into")
	}
	st := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	st.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	d.AppendChild(parent, st)
	return nil
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document, for logs and tests.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}
