package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion guards the shape of locally mirrored records. Bump it whenever
// the persisted layout changes; a mismatch on open wipes the mirror so a stale
// shape is invalidated deliberately instead of corrupting later reads.
const schemaVersion = 1

// SQLite implements Store on a single local database file.
type SQLite struct {
	db *sql.DB
}

// Open initialises the local mirror database at path, creating or resetting
// the schema as needed.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
                version INTEGER NOT NULL
        )`); err != nil {
		return fmt.Errorf("ensure schema_info table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS records`); err != nil {
			return fmt.Errorf("invalidate stale mirror: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE schema_info SET version = ?`, schemaVersion); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS records (
                collection TEXT PRIMARY KEY,
                payload BLOB NOT NULL,
                seq INTEGER NOT NULL,
                updated_at TIMESTAMP NOT NULL
        )`); err != nil {
		return fmt.Errorf("ensure records table: %w", err)
	}
	return nil
}

// Get retrieves the mirrored record for a collection.
func (s *SQLite) Get(collection string) (Record, error) {
	var rec Record
	err := s.db.QueryRow(
		`SELECT payload, seq, updated_at FROM records WHERE collection = ?`, collection,
	).Scan(&rec.Payload, &rec.Seq, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record %s: %w", collection, err)
	}
	return rec, nil
}

// Put upserts the mirrored record for a collection.
func (s *SQLite) Put(collection string, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(
		`INSERT INTO records (collection, payload, seq, updated_at) VALUES (?, ?, ?, ?)
                 ON CONFLICT(collection) DO UPDATE SET payload = excluded.payload,
                 seq = excluded.seq, updated_at = excluded.updated_at`,
		collection, rec.Payload, rec.Seq, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("write record %s: %w", collection, err)
	}
	return nil
}

// Delete removes the mirrored record for a collection.
func (s *SQLite) Delete(collection string) error {
	if _, err := s.db.Exec(`DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("delete record %s: %w", collection, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
