package sqlstream

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name   string
	Driver string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
	// LockCursor is appended to the cursor SELECT inside a pop transaction.
	LockCursor string
	Schema     []string
}

var (
	// SQLite uses the pure-Go modernc driver.
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS eventscore_events (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type TEXT NOT NULL,
				event_id TEXT NOT NULL,
				payload BLOB NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_eventscore_events_type ON eventscore_events(event_type, seq)`,
			`CREATE TABLE IF NOT EXISTS eventscore_cursors (
				event_type TEXT NOT NULL,
				grp TEXT NOT NULL,
				position INTEGER NOT NULL,
				PRIMARY KEY (event_type, grp)
			)`,
		},
	}

	// Postgres uses lib/pq and locks the cursor row so pops from several
	// processes stay exclusive.
	Postgres = Dialect{
		Name:       "postgres",
		Driver:     "postgres",
		Numbered:   true,
		LockCursor: " FOR UPDATE",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS eventscore_events (
				seq BIGSERIAL PRIMARY KEY,
				event_type TEXT NOT NULL,
				event_id TEXT NOT NULL,
				payload BYTEA NOT NULL,
				created_at TIMESTAMPTZ DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_eventscore_events_type ON eventscore_events(event_type, seq)`,
			`CREATE TABLE IF NOT EXISTS eventscore_cursors (
				event_type TEXT NOT NULL,
				grp TEXT NOT NULL,
				position BIGINT NOT NULL,
				PRIMARY KEY (event_type, grp)
			)`,
		},
	}
)

// Rebind rewrites "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
