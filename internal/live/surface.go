package live

import (
	"bytes"
	"fmt"

	"github.com/hazyhaar/pagemark/dialog"
	"golang.org/x/net/html"
)

// Surface returns the tab as a dialog.Surface. Lookups go to the live
// document rather than the mirror, which trails it by the CDP round trip.
func (p *Page) Surface() dialog.Surface {
	return surface{p: p}
}

type surface struct {
	p *Page
}

func (s surface) call(js string, args ...any) (bool, error) {
	res, err := s.p.page.Eval(js, args...)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (s surface) Exists(id string) bool {
	ok, err := s.call(`(id) => window.__pagemark.exists(id)`, id)
	if err != nil {
		s.p.logger.Debug("live: exists", "id", id, "error", err)
	}
	return ok
}

func (s surface) Mount(n *html.Node) error {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return fmt.Errorf("live: render dialog: %w", err)
	}
	ok, err := s.call(`(markup) => window.__pagemark.mount(markup)`, buf.String())
	if err != nil {
		return fmt.Errorf("live: mount: %w", err)
	}
	if !ok {
		return fmt.Errorf("live: mount: document has no body")
	}
	return nil
}

func (s surface) Remove(id string) error {
	if _, err := s.call(`(id) => { window.__pagemark.remove(id); return true }`, id); err != nil {
		return fmt.Errorf("live: remove %q: %w", id, err)
	}
	return nil
}

func (s surface) Focus(id string) error {
	ok, err := s.call(`(id) => window.__pagemark.focus(id)`, id)
	if err != nil {
		return fmt.Errorf("live: focus %q: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("live: focus %q: %w", id, dialog.ErrNotFound)
	}
	return nil
}

func (s surface) Listen(id, typ string, fn func(dialog.Event)) (func(), error) {
	token := s.p.register(fn)
	ok, err := s.call(`(token, id, type) => window.__pagemark.listen(token, id, type)`, token, id, typ)
	if err != nil || !ok {
		s.p.unregister(token)
		if err == nil {
			err = dialog.ErrNotFound
		}
		return nil, fmt.Errorf("live: listen %q: %w", id, err)
	}
	return s.remover(token), nil
}

func (s surface) ListenWindow(typ string, keys []string, fn func(dialog.Event)) (func(), error) {
	if keys == nil {
		keys = []string{}
	}
	token := s.p.register(fn)
	if _, err := s.call(`(token, type, keys) => window.__pagemark.listenWindow(token, type, keys)`, token, typ, keys); err != nil {
		s.p.unregister(token)
		return nil, fmt.Errorf("live: listen window: %w", err)
	}
	return s.remover(token), nil
}

func (s surface) remover(token string) func() {
	return func() {
		s.p.unregister(token)
		if _, err := s.call(`(token) => { window.__pagemark.unlisten(token); return true }`, token); err != nil {
			s.p.logger.Debug("live: unlisten", "token", token, "error", err)
		}
	}
}
