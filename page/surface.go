package page

import (
	"fmt"

	"github.com/hazyhaar/pagemark/dialog"
	"golang.org/x/net/html"
)

// Surface adapts the Document to the dialog.Surface contract.
func (d *Document) Surface() dialog.Surface {
	return surface{d: d}
}

type surface struct {
	d *Document
}

func (s surface) Exists(id string) bool {
	return s.d.GetElementByID(id) != nil
}

func (s surface) Mount(n *html.Node) error {
	body := s.d.Body()
	if body == nil {
		return fmt.Errorf("page: mount: document has no body")
	}
	s.d.AppendChild(body, n)
	return nil
}

func (s surface) Remove(id string) error {
	s.d.Remove(s.d.GetElementByID(id))
	return nil
}

func (s surface) Focus(id string) error {
	n := s.d.GetElementByID(id)
	if n == nil {
		return fmt.Errorf("page: focus %q: %w", id, dialog.ErrNotFound)
	}
	if !IsFocusable(n) {
		return fmt.Errorf("page: focus %q: element is not focusable", id)
	}
	s.d.Focus(n)
	return nil
}

func (s surface) Listen(id, typ string, fn func(dialog.Event)) (func(), error) {
	n := s.d.GetElementByID(id)
	if n == nil {
		return nil, fmt.Errorf("page: listen %q: %w", id, dialog.ErrNotFound)
	}
	return s.d.AddEventListener(n, typ, func(ev *Event) {
		fn(dialog.Event{Type: ev.Type, Key: ev.Key, TargetID: attr(ev.Target, "id")})
	}), nil
}

func (s surface) ListenWindow(typ string, keys []string, fn func(dialog.Event)) (func(), error) {
	return s.d.AddEventListener(nil, typ, func(ev *Event) {
		if len(keys) > 0 {
			if !contains(keys, ev.Key) {
				return
			}
			ev.PreventDefault()
		}
		fn(dialog.Event{Type: ev.Type, Key: ev.Key, TargetID: attr(ev.Target, "id")})
	}), nil
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
