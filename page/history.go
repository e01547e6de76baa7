package page

import "github.com/hazyhaar/pagemark/navwatch"

// PushState navigates to url without a page load and then tells navigation
// subscribers. Subscribers run after the location has changed, inside the
// same task.
func (d *Document) PushState(url string) {
	d.mu.Lock()
	d.history = append(d.history[:d.histIndex+1], url)
	d.histIndex = len(d.history) - 1
	d.location = url
	d.mu.Unlock()
	d.notify(navwatch.Event{Kind: navwatch.KindPush, URL: url})
}

// ReplaceState swaps the current history entry for url.
func (d *Document) ReplaceState(url string) {
	d.mu.Lock()
	d.history[d.histIndex] = url
	d.location = url
	d.mu.Unlock()
	d.notify(navwatch.Event{Kind: navwatch.KindReplace, URL: url})
}

// Back moves one entry back in history and fires popstate. It reports
// false when there is no earlier entry.
func (d *Document) Back() bool { return d.traverse(-1) }

// Forward moves one entry forward in history and fires popstate.
func (d *Document) Forward() bool { return d.traverse(1) }

func (d *Document) traverse(delta int) bool {
	d.mu.Lock()
	i := d.histIndex + delta
	if i < 0 || i >= len(d.history) {
		d.mu.Unlock()
		return false
	}
	d.histIndex = i
	d.location = d.history[i]
	url := d.location
	d.mu.Unlock()
	d.notify(navwatch.Event{Kind: navwatch.KindPopState, URL: url})
	return true
}

// OnNavigate subscribes to history navigation.
func (d *Document) OnNavigate(fn func(navwatch.Event)) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.navSubs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.navSubs, id)
		d.mu.Unlock()
	}
}

func (d *Document) notify(ev navwatch.Event) {
	d.mu.Lock()
	subs := make([]func(navwatch.Event), 0, len(d.navSubs))
	for _, fn := range d.navSubs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
