package storage

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when inserting a record that already exists.
	ErrExists = errors.New("record already exists")
)

// Record is one stored resource.
type Record struct {
	Kind      string
	Name      string
	Payload   []byte
	Version   int64
	UpdatedAt time.Time
}

// Store provides generic versioned state storage with JSON payloads.
// State is keyed by (kind, name) and stored as JSON blobs with version tracking.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a single record.
func (s *Store) Get(kind, name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := Record{Kind: kind, Name: name}
	var payloadStr string
	var updatedAt int64
	err := s.db.QueryRow(`
		SELECT payload, version, updated_at FROM resource_state
		WHERE kind = ? AND name = ?
	`, kind, name).Scan(&payloadStr, &rec.Version, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Payload = []byte(payloadStr)
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}

// Insert stores a new record at version 1. Returns ErrExists if the record
// is already stored.
func (s *Store) Insert(kind, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO resource_state (kind, name, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
	`, kind, name, string(payload), time.Now().UTC().Unix())
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrExists
	}

	log.Debug().
		Str("kind", kind).
		Str("name", name).
		Str("payload", string(payload)).
		Msg("Store.Insert completed")
	return nil
}

// Update replaces the payload of an existing record, incrementing its
// version. Returns ErrNotFound if the record is not stored.
func (s *Store) Update(kind, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE resource_state
		SET payload = ?, version = version + 1, updated_at = ?
		WHERE kind = ? AND name = ?
	`, string(payload), time.Now().UTC().Unix(), kind, name)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	log.Debug().
		Str("kind", kind).
		Str("name", name).
		Str("payload", string(payload)).
		Msg("Store.Update completed")
	return nil
}

// Delete removes a record. Returns ErrNotFound if the record is not stored.
func (s *Store) Delete(kind, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM resource_state WHERE kind = ? AND name = ?
	`, kind, name)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// List returns all records of a kind ordered by name.
func (s *Store) List(kind string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT name, payload, version, updated_at FROM resource_state
		WHERE kind = ?
		ORDER BY name
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := Record{Kind: kind}
		var payloadStr string
		var updatedAt int64

		if err := rows.Scan(&rec.Name, &payloadStr, &rec.Version, &updatedAt); err != nil {
			return nil, err
		}

		rec.Payload = []byte(payloadStr)
		rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		records = append(records, &rec)
	}

	return records, rows.Err()
}
