// Package highlight wraps keyword occurrences found in HTML text nodes in
// marker elements.
//
// Work is split in two phases. Plan walks a subtree and decides which text
// nodes to rewrite without touching the tree; Apply performs the rewrite.
// The split lets a host that does not own the tree (a live browser tab,
// mirrored locally) plan on its mirror and apply on the real page.
package highlight

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Defaults for the target screen.
const (
	DefaultKeyword     = "個人番号出力設定"
	DefaultMarkerClass = "mn-eg0008w-highlight"
)

// DefaultSkipTags are elements whose text is never content: rewriting it
// would corrupt rendering or leak markup into form values.
var DefaultSkipTags = []string{"script", "style", "textarea", "input", "option", "select", "noscript"}

// Segment is one piece of a rewritten text node.
type Segment struct {
	Text   string `json:"text"`
	Marker bool   `json:"marker,omitempty"`
}

// Target is a text node selected for rewriting, with the pieces that
// replace it.
type Target struct {
	Node     *html.Node
	Text     string
	Segments []Segment
}

// Markers returns the number of marker segments in the target.
func (t Target) Markers() int {
	n := 0
	for _, s := range t.Segments {
		if s.Marker {
			n++
		}
	}
	return n
}

// Highlighter finds and marks one keyword.
type Highlighter struct {
	keyword string
	class   string
	tag     string
	skip    map[string]bool
}

// Option configures a Highlighter.
type Option func(*Highlighter)

// WithMarkerTag sets the marker element name. Default: span.
func WithMarkerTag(tag string) Option {
	return func(h *Highlighter) {
		if tag != "" {
			h.tag = strings.ToLower(tag)
		}
	}
}

// WithSkipTags replaces the denylist of non-content parent elements.
func WithSkipTags(tags ...string) Option {
	return func(h *Highlighter) {
		h.skip = make(map[string]bool, len(tags))
		for _, t := range tags {
			h.skip[strings.ToLower(t)] = true
		}
	}
}

// New creates a Highlighter. An empty keyword yields a Highlighter that
// never plans anything.
func New(keyword, markerClass string, opts ...Option) *Highlighter {
	h := &Highlighter{
		keyword: keyword,
		class:   markerClass,
		tag:     "span",
	}
	WithSkipTags(DefaultSkipTags...)(h)
	for _, o := range opts {
		o(h)
	}
	return h
}

// Keyword returns the keyword being marked.
func (h *Highlighter) Keyword() string { return h.keyword }

// MarkerClass returns the class carried by marker elements.
func (h *Highlighter) MarkerClass() string { return h.class }

// MarkerTag returns the marker element name.
func (h *Highlighter) MarkerTag() string { return h.tag }

// Plan selects the descendant text nodes of root that need marking. The
// tree is collected fully before the caller mutates anything, so Apply never
// runs while a walk is in progress.
func (h *Highlighter) Plan(root *html.Node) []Target {
	if root == nil || h.keyword == "" {
		return nil
	}
	var targets []Target
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				if h.accept(c) {
					targets = append(targets, Target{
						Node:     c,
						Text:     c.Data,
						Segments: Split(c.Data, h.keyword),
					})
				}
				continue
			}
			walk(c)
		}
	}
	walk(root)
	return targets
}

func (h *Highlighter) accept(n *html.Node) bool {
	if n.Data == "" || !strings.Contains(n.Data, h.keyword) {
		return false
	}
	p := n.Parent
	if p == nil || p.Type != html.ElementNode {
		return false
	}
	if h.skip[strings.ToLower(p.Data)] {
		return false
	}
	return !h.insideMarker(p)
}

// insideMarker reports whether el or one of its element ancestors is a
// marker.
func (h *Highlighter) insideMarker(el *html.Node) bool {
	for n := el; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && HasClass(n, h.class) {
			return true
		}
	}
	return false
}

// Apply rewrites each target still attached to its tree and returns the
// number of markers inserted. Targets whose node was detached or edited
// since planning are skipped; a later pass picks up the new text.
func (h *Highlighter) Apply(targets []Target) int {
	inserted := 0
	for _, t := range targets {
		n := t.Node
		if n == nil || n.Parent == nil || n.Data != t.Text {
			continue
		}
		parent := n.Parent
		for _, node := range h.Nodes(t.Segments) {
			parent.InsertBefore(node, n)
		}
		parent.RemoveChild(n)
		inserted += t.Markers()
	}
	return inserted
}

// Highlight plans and applies in one step.
func (h *Highlighter) Highlight(root *html.Node) int {
	return h.Apply(h.Plan(root))
}

// Nodes builds detached nodes for segments: text nodes for plain pieces,
// marker elements for keyword pieces.
func (h *Highlighter) Nodes(segments []Segment) []*html.Node {
	out := make([]*html.Node, 0, len(segments))
	for _, s := range segments {
		if s.Marker {
			out = append(out, h.Marker(s.Text))
			continue
		}
		out = append(out, &html.Node{Type: html.TextNode, Data: s.Text})
	}
	return out
}

// Marker returns a detached marker element wrapping text.
func (h *Highlighter) Marker(text string) *html.Node {
	el := &html.Node{
		Type:     html.ElementNode,
		Data:     h.tag,
		DataAtom: atom.Lookup([]byte(h.tag)),
		Attr:     []html.Attribute{{Key: "class", Val: h.class}},
	}
	el.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return el
}

// Count returns the number of marker elements under root.
func (h *Highlighter) Count(root *html.Node) int {
	if root == nil {
		return 0
	}
	n := 0
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && HasClass(c, h.class) {
			n++
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(root)
	return n
}

// Split cuts text on every occurrence of keyword. Empty text pieces between
// adjacent occurrences are dropped.
func Split(text, keyword string) []Segment {
	if keyword == "" {
		if text == "" {
			return nil
		}
		return []Segment{{Text: text}}
	}
	parts := strings.Split(text, keyword)
	segs := make([]Segment, 0, 2*len(parts)-1)
	for i, p := range parts {
		if p != "" {
			segs = append(segs, Segment{Text: p})
		}
		if i < len(parts)-1 {
			segs = append(segs, Segment{Text: keyword, Marker: true})
		}
	}
	return segs
}

// HasClass reports whether element n lists class in its class attribute.
func HasClass(n *html.Node, class string) bool {
	if class == "" {
		return false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "class" {
			for _, f := range strings.Fields(a.Val) {
				if f == class {
					return true
				}
			}
		}
	}
	return false
}
