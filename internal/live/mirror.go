package live

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// mirror is an *html.Node copy of the tab's DOM keyed by CDP node id. It is
// built from DOM.getDocument and kept current from DOM events; planning
// runs against it so that only the final rewrite crosses the protocol.
// Shadow roots and frame documents are not mirrored.
type mirror struct {
	root *html.Node
	byID map[proto.DOMNodeID]*html.Node
	ids  map[*html.Node]proto.DOMNodeID

	// elements reported with a child count but without their children
	unexpanded []proto.DOMNodeID
}

func newMirror() *mirror {
	return &mirror{
		byID: make(map[proto.DOMNodeID]*html.Node),
		ids:  make(map[*html.Node]proto.DOMNodeID),
	}
}

// reset rebuilds the mirror from a DOM.getDocument root.
func (m *mirror) reset(doc *proto.DOMNode) {
	m.byID = make(map[proto.DOMNodeID]*html.Node)
	m.ids = make(map[*html.Node]proto.DOMNodeID)
	m.root = m.build(doc)
}

// build converts a CDP subtree and registers every node in it.
func (m *mirror) build(pn *proto.DOMNode) *html.Node {
	if pn == nil {
		return nil
	}
	n := convert(pn)
	if n == nil {
		return nil
	}
	m.byID[pn.NodeID] = n
	m.ids[n] = pn.NodeID
	for _, c := range pn.Children {
		if child := m.build(c); child != nil {
			n.AppendChild(child)
		}
	}
	if pn.NodeType == nodeElement && len(pn.Children) == 0 && pn.ChildNodeCount != nil && *pn.ChildNodeCount > 0 {
		m.unexpanded = append(m.unexpanded, pn.NodeID)
	}
	return n
}

// takeUnexpanded returns the elements built without their children since
// the last call. Their subtrees must be requested with DOM.requestChildNodes.
func (m *mirror) takeUnexpanded() []proto.DOMNodeID {
	ids := m.unexpanded
	m.unexpanded = nil
	return ids
}

func convert(pn *proto.DOMNode) *html.Node {
	switch pn.NodeType {
	case nodeDocument:
		return &html.Node{Type: html.DocumentNode}
	case nodeElement:
		name := pn.LocalName
		if name == "" {
			name = strings.ToLower(pn.NodeName)
		}
		n := &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		for i := 0; i+1 < len(pn.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: pn.Attributes[i], Val: pn.Attributes[i+1]})
		}
		return n
	case nodeText:
		return &html.Node{Type: html.TextNode, Data: pn.NodeValue}
	case nodeComment:
		return &html.Node{Type: html.CommentNode, Data: pn.NodeValue}
	case nodeDoctype:
		return &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(pn.NodeName)}
	}
	return nil
}

func (m *mirror) node(id proto.DOMNodeID) *html.Node { return m.byID[id] }

func (m *mirror) id(n *html.Node) (proto.DOMNodeID, bool) {
	id, ok := m.ids[n]
	return id, ok
}

// insert adds pn under parent after prev (first when prev is 0). It
// returns nil when the parent is unknown.
func (m *mirror) insert(parent, prev proto.DOMNodeID, pn *proto.DOMNode) *html.Node {
	p := m.byID[parent]
	if p == nil {
		return nil
	}
	if old := m.byID[pn.NodeID]; old != nil {
		m.detach(old)
	}
	n := m.build(pn)
	if n == nil {
		return nil
	}
	var ref *html.Node
	if prev == 0 {
		ref = p.FirstChild
	} else if pv := m.byID[prev]; pv != nil && pv.Parent == p {
		ref = pv.NextSibling
	}
	p.InsertBefore(n, ref)
	return n
}

// remove detaches a node and forgets its subtree. It returns the node and
// its former parent, or nils when unknown.
func (m *mirror) remove(id proto.DOMNodeID) (n, parent *html.Node) {
	n = m.byID[id]
	if n == nil {
		return nil, nil
	}
	parent = n.Parent
	m.detach(n)
	return n, parent
}

func (m *mirror) detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	m.forget(n)
}

func (m *mirror) forget(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.byID, id)
		delete(m.ids, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
}

// setChildren replaces parent's children, as DOM.setChildNodes reports
// them. It returns the new children.
func (m *mirror) setChildren(parent proto.DOMNodeID, nodes []*proto.DOMNode) []*html.Node {
	p := m.byID[parent]
	if p == nil {
		return nil
	}
	for c := p.FirstChild; c != nil; {
		next := c.NextSibling
		m.detach(c)
		c = next
	}
	var added []*html.Node
	for _, pn := range nodes {
		if n := m.build(pn); n != nil {
			p.AppendChild(n)
			added = append(added, n)
		}
	}
	return added
}

// setText updates character data and returns the node and its old value.
func (m *mirror) setText(id proto.DOMNodeID, data string) (*html.Node, string) {
	n := m.byID[id]
	if n == nil {
		return nil, ""
	}
	old := n.Data
	n.Data = data
	return n, old
}

func (m *mirror) setAttr(id proto.DOMNodeID, name, value string) {
	n := m.byID[id]
	if n == nil {
		return
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func (m *mirror) removeAttr(id proto.DOMNodeID, name string) {
	n := m.byID[id]
	if n == nil {
		return
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// element returns the first child element of parent named a.
func element(parent *html.Node, a atom.Atom) *html.Node {
	if parent == nil {
		return nil
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}
