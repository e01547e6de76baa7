package page

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Event is a dispatched DOM event.
type Event struct {
	Type   string
	Key    string
	Target *html.Node

	defaultPrevented bool
	stopped          bool
}

// PreventDefault marks the event's default action as cancelled.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether a listener called PreventDefault.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation keeps the event from reaching further ancestors.
func (e *Event) StopPropagation() { e.stopped = true }

type listener struct {
	fn func(*Event)
}

// AddEventListener registers fn for events of typ reaching target. A nil
// target is the window. The returned function removes the listener and may
// be called any number of times.
func (d *Document) AddEventListener(target *html.Node, typ string, fn func(*Event)) (remove func()) {
	l := &listener{fn: fn}
	d.mu.Lock()
	byType := d.listeners[target]
	if byType == nil {
		byType = make(map[string][]*listener)
		d.listeners[target] = byType
	}
	byType[typ] = append(byType[typ], l)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		ls := d.listeners[target][typ]
		for i, x := range ls {
			if x == l {
				d.listeners[target][typ] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
		if len(d.listeners[target][typ]) == 0 {
			delete(d.listeners[target], typ)
		}
		if len(d.listeners[target]) == 0 {
			delete(d.listeners, target)
		}
	}
}

// ListenerCount returns how many listeners of typ are registered on target
// (nil for the window).
func (d *Document) ListenerCount(target *html.Node, typ string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[target][typ])
}

// Dispatch delivers ev to target, its ancestors, then the window.
func (d *Document) Dispatch(target *html.Node, ev *Event) {
	ev.Target = target
	for n := target; n != nil; n = n.Parent {
		d.fire(n, ev)
		if ev.stopped {
			return
		}
	}
	d.fire(nil, ev)
}

func (d *Document) fire(target *html.Node, ev *Event) {
	d.mu.Lock()
	ls := append([]*listener(nil), d.listeners[target][ev.Type]...)
	d.mu.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

// Click dispatches a click on n.
func (d *Document) Click(n *html.Node) *Event {
	ev := &Event{Type: "click"}
	d.Dispatch(n, ev)
	return ev
}

// KeyDown dispatches a keydown for key on the focused element, or on the
// body when nothing has focus.
func (d *Document) KeyDown(key string) *Event {
	ev := &Event{Type: "keydown", Key: key}
	target := d.ActiveElement()
	if target == nil {
		ev.Target = nil
		d.fire(nil, ev)
		return ev
	}
	d.Dispatch(target, ev)
	return ev
}

// Focus gives n keyboard focus.
func (d *Document) Focus(n *html.Node) {
	d.mu.Lock()
	d.active = n
	d.mu.Unlock()
}

// ActiveElement returns the focused element. Focus falls back to the body
// when the focused element has left the document.
func (d *Document) ActiveElement() *html.Node {
	d.mu.Lock()
	n := d.active
	d.mu.Unlock()
	if n != nil && d.contains(n) {
		return n
	}
	return d.Body()
}

func (d *Document) contains(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

// IsFocusable reports whether n is an element that takes focus by default.
func IsFocusable(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Button, atom.Input, atom.Select, atom.Textarea, atom.A:
		return true
	}
	return false
}
