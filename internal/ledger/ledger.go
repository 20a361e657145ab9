// Package ledger provides an append-only history of lifecycle scopes.
// It is used for auditing what each reconciliation run did.
package ledger

import (
	"database/sql"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventTransitionStarted   EventType = "transition_started"
	EventTransitionCompleted EventType = "transition_completed"
	EventTransitionFailed    EventType = "transition_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID         int64
	EventType  EventType
	Timestamp  time.Time
	ScopeID    string
	Name       string
	Transition string
	Error      string        // Only set for failed events
	Duration   time.Duration // Only set for completed/failed events
}

// Ledger provides append-only lifecycle logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger. A zero Timestamp means now.
func (l *Ledger) Append(e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	var duration sql.NullInt64
	if e.EventType != EventTransitionStarted {
		duration = sql.NullInt64{Int64: e.Duration.Milliseconds(), Valid: true}
	}

	_, err := l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, scope_id, name, transition, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.EventType), ts.UTC().Unix(), e.ScopeID, e.Name, e.Transition, errText, duration)

	return err
}

// ByScope returns every entry of one scope in insertion order
func (l *Ledger) ByScope(scopeID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, scope_id, name, transition, error, duration_ms
		FROM event_ledger
		WHERE scope_id = ?
		ORDER BY id ASC
	`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ByName returns the most recent entries for a resource, newest first
func (l *Ledger) ByName(name string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, scope_id, name, transition, error, duration_ms
		FROM event_ledger
		WHERE name = ?
		ORDER BY id DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, scope_id, name, transition, error, duration_ms
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var errText sql.NullString
		var duration sql.NullInt64
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.ScopeID, &entry.Name, &entry.Transition, &errText, &duration,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if errText.Valid {
			entry.Error = errText.String
		}
		if duration.Valid {
			entry.Duration = time.Duration(duration.Int64) * time.Millisecond
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
