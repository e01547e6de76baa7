// Package dialog shows the blocking confirmation dialog of the target
// screen and tears it down on any of its dismissal paths.
//
// The dialog is a backdrop containing a dialog surface with a title, an
// explanation that carries a highlighted keyword, and a confirm button.
// Three independent triggers close it: clicking confirm, clicking the
// backdrop itself, and pressing the cancel key anywhere in the window. All
// three converge on the same close routine, which is safe to run again.
package dialog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/pagemark/highlight"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNotFound is returned by a Surface when an element id is absent.
var ErrNotFound = errors.New("dialog: element not found")

// CancelKeys are the key names that dismiss the dialog: the current name
// and the legacy one some browsers still report.
var CancelKeys = []string{"Escape", "Esc"}

// Close reasons.
const (
	ReasonConfirm  = "confirm"
	ReasonBackdrop = "backdrop"
	ReasonEscape   = "escape"
	ReasonAPI      = "api"
)

// Event is a user input event delivered by a Surface.
type Event struct {
	Type     string
	Key      string
	TargetID string
}

// Surface is the part of a page the dialog needs.
type Surface interface {
	// Exists reports whether an element with id is in the document.
	Exists(id string) bool
	// Mount appends n to the document body.
	Mount(n *html.Node) error
	// Remove detaches the element with id. Absent ids are not an error.
	Remove(id string) error
	// Focus moves focus to the element with id.
	Focus(id string) error
	// Listen calls fn for events of typ reaching the element with id,
	// including events bubbling up from its descendants.
	Listen(id, typ string, fn func(Event)) (remove func(), err error)
	// ListenWindow calls fn for window events of typ. When keys is not
	// empty only those keys are reported and their default action is
	// prevented.
	ListenWindow(typ string, keys []string, fn func(Event)) (remove func(), err error)
}

// Config describes the dialog content.
type Config struct {
	ID           string // reserved element id prefix
	Title        string
	Message      string // HTML, sanitised; keyword occurrences are marked
	ConfirmLabel string
}

// Defaults for the target screen.
const (
	DefaultID           = "mn-eg0008w-popup"
	DefaultTitle        = "確認のお願い"
	DefaultMessage      = "この画面を操作する前に、個人番号出力設定 を確認してください。"
	DefaultConfirmLabel = "OK"
)

func (c *Config) defaults() {
	if c.ID == "" {
		c.ID = DefaultID
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	if c.ConfirmLabel == "" {
		c.ConfirmLabel = DefaultConfirmLabel
	}
}

// BackdropID is the id of the backdrop element, the dialog's root.
func (c Config) BackdropID() string { return c.ID + "-backdrop" }

// TitleID is the id of the title heading.
func (c Config) TitleID() string { return c.ID + "-title" }

// ConfirmID is the id of the confirm button.
func (c Config) ConfirmID() string { return c.ID + "-ok" }

// Controller owns the dialog lifecycle on one page.
type Controller struct {
	cfg     Config
	surf    Surface
	hl      *highlight.Highlighter
	policy  *bluemonday.Policy
	logger  *slog.Logger
	onShow  func()
	onClose func(reason string)

	mu       sync.Mutex
	removers []func()
	open     bool
	reason   string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithHooks sets callbacks run after the dialog is shown and after it is
// closed.
func WithHooks(onShow func(), onClose func(reason string)) Option {
	return func(c *Controller) {
		c.onShow = onShow
		c.onClose = onClose
	}
}

// New creates a Controller. hl marks the keyword inside the message.
func New(cfg Config, surf Surface, hl *highlight.Highlighter, opts ...Option) *Controller {
	cfg.defaults()
	c := &Controller{
		cfg:    cfg,
		surf:   surf,
		hl:     hl,
		policy: bluemonday.UGCPolicy(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Show displays the dialog. It does nothing when a dialog with the reserved
// id is already in the document. A missing confirm control only skips the
// wiring that depends on it.
func (c *Controller) Show() error {
	if c.surf.Exists(c.cfg.BackdropID()) {
		c.logger.Debug("dialog: already shown", "id", c.cfg.BackdropID())
		return nil
	}

	if err := c.surf.Mount(c.Build()); err != nil {
		return fmt.Errorf("dialog: mount: %w", err)
	}

	c.mu.Lock()
	c.open = true
	c.reason = ""
	c.mu.Unlock()

	backdropID := c.cfg.BackdropID()
	c.listen(c.cfg.ConfirmID(), func(Event) { c.closeWith(ReasonConfirm) })
	c.listen(backdropID, func(ev Event) {
		if ev.TargetID == backdropID {
			c.closeWith(ReasonBackdrop)
		}
	})

	rm, err := c.surf.ListenWindow("keydown", CancelKeys, func(ev Event) {
		if IsCancelKey(ev.Key) {
			c.closeWith(ReasonEscape)
		}
	})
	if err != nil {
		c.logger.Warn("dialog: window key listener not installed", "error", err)
	} else {
		c.addRemover(rm)
	}

	if err := c.surf.Focus(c.cfg.ConfirmID()); err != nil {
		c.logger.Debug("dialog: focus confirm", "error", err)
	}

	c.logger.Info("dialog: shown", "id", backdropID)
	if c.onShow != nil {
		c.onShow()
	}
	return nil
}

func (c *Controller) listen(id string, fn func(Event)) {
	rm, err := c.surf.Listen(id, "click", fn)
	if err != nil {
		c.logger.Warn("dialog: listener not installed", "id", id, "error", err)
		return
	}
	c.addRemover(rm)
}

func (c *Controller) addRemover(rm func()) {
	c.mu.Lock()
	c.removers = append(c.removers, rm)
	c.mu.Unlock()
}

// Close tears the dialog down. Calling it with no dialog present, or more
// than once, has no effect.
func (c *Controller) Close() {
	c.closeWith(ReasonAPI)
}

func (c *Controller) closeWith(reason string) {
	c.mu.Lock()
	removers := c.removers
	c.removers = nil
	wasOpen := c.open
	c.open = false
	if wasOpen {
		c.reason = reason
	}
	c.mu.Unlock()

	for _, rm := range removers {
		rm()
	}
	if err := c.surf.Remove(c.cfg.BackdropID()); err != nil {
		c.logger.Debug("dialog: remove backdrop", "error", err)
	}

	if wasOpen {
		c.logger.Info("dialog: closed", "reason", reason)
		if c.onClose != nil {
			c.onClose(reason)
		}
	}
}

// Visible reports whether the dialog is in the document.
func (c *Controller) Visible() bool {
	return c.surf.Exists(c.cfg.BackdropID())
}

// LastReason returns why the dialog was last closed, or "" if it never was.
func (c *Controller) LastReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Build returns a detached backdrop subtree for the dialog.
func (c *Controller) Build() *html.Node {
	backdrop := elem(atom.Div, "id", c.cfg.BackdropID())
	box := elem(atom.Div,
		"id", c.cfg.ID,
		"role", "dialog",
		"aria-modal", "true",
		"aria-labelledby", c.cfg.TitleID())
	backdrop.AppendChild(box)

	title := elem(atom.H3, "id", c.cfg.TitleID())
	title.AppendChild(textNode(c.cfg.Title))
	box.AppendChild(title)

	box.AppendChild(c.message())

	actions := elem(atom.Div, "class", "actions")
	ok := elem(atom.Button, "class", "ok", "type", "button", "id", c.cfg.ConfirmID())
	ok.AppendChild(textNode(c.cfg.ConfirmLabel))
	actions.AppendChild(ok)
	box.AppendChild(actions)

	return backdrop
}

// message builds the explanation paragraph. The keyword is always shown
// marked, even if the configured text omits it.
func (c *Controller) message() *html.Node {
	p := elem(atom.P)
	clean := c.policy.Sanitize(c.cfg.Message)
	nodes, err := html.ParseFragment(strings.NewReader(clean), elem(atom.P))
	if err != nil {
		c.logger.Warn("dialog: parse message", "error", err)
		nodes = []*html.Node{textNode(c.cfg.Message)}
	}
	for _, n := range nodes {
		p.AppendChild(n)
	}

	if c.hl == nil || c.hl.Keyword() == "" {
		return p
	}
	if c.hl.Highlight(p) == 0 && c.hl.Count(p) == 0 {
		p.AppendChild(textNode(" "))
		p.AppendChild(c.hl.Marker(c.hl.Keyword()))
	}
	return p
}

// IsCancelKey reports whether key is one of CancelKeys.
func IsCancelKey(key string) bool {
	for _, k := range CancelKeys {
		if key == k {
			return true
		}
	}
	return false
}

func elem(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
