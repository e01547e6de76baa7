package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/pagemark/event"
	"github.com/hazyhaar/pagemark/internal/dbopen"
)

// JournalSchema is the SQLite table events are appended to.
const JournalSchema = `
CREATE TABLE IF NOT EXISTS pagemark_events (
	id      TEXT PRIMARY KEY,
	type    TEXT NOT NULL,
	page_id TEXT NOT NULL,
	url     TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT '',
	count   INTEGER NOT NULL DEFAULT 0,
	ts      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS pagemark_events_page ON pagemark_events(page_id, ts);
`

// Journal appends events to an SQLite table. It is write-only for the
// agents; nothing reads it back to decide activation.
type Journal struct {
	db    *sql.DB
	owned bool
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(JournalSchema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db, owned: true}, nil
}

// NewJournal uses an already open database, creating the table if needed.
// The caller keeps ownership of db.
func NewJournal(db *sql.DB) (*Journal, error) {
	if _, err := db.Exec(JournalSchema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Send(ctx context.Context, ev event.Event) error {
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO pagemark_events (id, type, page_id, url, detail, count, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.PageID, ev.URL, ev.Detail, ev.Count, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Events returns a page's events in the order they happened.
func (j *Journal) Events(ctx context.Context, pageID string) ([]event.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, type, page_id, url, detail, count, ts
		FROM pagemark_events
		WHERE page_id = ?
		ORDER BY ts, id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var typ string
		if err := rows.Scan(&ev.ID, &typ, &ev.PageID, &ev.URL, &ev.Detail, &ev.Count, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Type = event.Type(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j.owned {
		return j.db.Close()
	}
	return nil
}
