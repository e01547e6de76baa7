// Package event defines the journal records pagemark emits for each page
// lifetime: attachment, activation, dialog show and close, highlight
// passes, navigations and detachment.
package event

import (
	"time"

	"github.com/hazyhaar/pagemark/idgen"
)

// Type is what happened.
type Type string

const (
	Attached     Type = "attached"
	Activated    Type = "activated"
	DialogShown  Type = "dialog_shown"
	DialogClosed Type = "dialog_closed"
	Highlighted  Type = "highlighted"
	Navigated    Type = "navigated"
	Detached     Type = "detached"
)

// Event is one journal record.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	PageID    string `json:"page_id"`
	URL       string `json:"url"`
	Detail    string `json:"detail,omitempty"` // close reason, navigation kind, highlight scope
	Count     int    `json:"count,omitempty"`  // markers inserted
	Timestamp int64  `json:"ts"`               // unix millis
}

// New stamps a fresh event with an id and the current time.
func New(typ Type, pageID, url string) Event {
	return Event{
		ID:        idgen.New(),
		Type:      typ,
		PageID:    pageID,
		URL:       url,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
