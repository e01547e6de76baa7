package pagemark

import (
	"context"

	"github.com/hazyhaar/pagemark/dialog"
	"github.com/hazyhaar/pagemark/highlight"
	"github.com/hazyhaar/pagemark/mutation"
	"github.com/hazyhaar/pagemark/navwatch"
	"golang.org/x/net/html"
)

// Host is a page an Agent can augment. Every method except Post, Call,
// Location and OnNavigate must be called from a task on the host's loop.
type Host interface {
	// Post queues fn on the page's task loop.
	Post(fn func())
	// Call runs fn on the task loop and waits for it.
	Call(ctx context.Context, fn func()) error
	// Location is the page's current URL.
	Location() string
	// OnNavigate reports history push, replace and popstate.
	OnNavigate(fn func(navwatch.Event)) (cancel func())

	Root() *html.Node
	DocumentElement() *html.Node
	Body() *html.Node

	// Observe streams DOM changes under root.
	Observe(root *html.Node) *mutation.Subscription
	// Highlight marks keyword occurrences under scope in the page and
	// returns the number of markers inserted.
	Highlight(h *highlight.Highlighter, scope *html.Node) int
	// Surface is where the dialog is mounted.
	Surface() dialog.Surface
	// AppendStyle adds a stylesheet through the page's own DOM.
	AppendStyle(css string) error
}

// StyleInjector is implemented by hosts that can add a stylesheet the
// page's content security policy does not govern, such as a DevTools
// inspector stylesheet. It is called off the task loop.
type StyleInjector interface {
	InjectStyle(ctx context.Context, css string) error
}
