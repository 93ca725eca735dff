// Package store is the event store described in §4.7: devices, DNS
// queries, and HTTP traffic persisted to sqlite with a full-text mirror
// of flow bodies.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a sqlite handle opened per the DSN conventions below.
type Store struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the database at path
// with read-write access.
func Open(path string) (*Store, error) {
	dsn, err := parseDSN(path, false)
	if err != nil {
		return nil, err
	}
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenRO opens path read-only, for export/search tooling run alongside a
// live writer.
func OpenRO(path string) (*Store, error) {
	dsn, err := parseDSN(path, true)
	if err != nil {
		return nil, err
	}
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// A single-writer constraint is also enforced by WAL + the driver's
	// own serialization; one connection keeps semantics simple and
	// matches the reference driver's own advice for this DSN shape.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages that need raw queries
// (search, export).
func (s *Store) DB() *sql.DB {
	return s.db
}

// parseDSN fills in the connection-string query values this store
// depends on (foreign keys, WAL journaling, optional read-only mode),
// preserving any already present in dsn.
func parseDSN(dsn string, readOnly bool) (string, error) {
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}

	qSplit := strings.SplitN(dsn, "?", 2)
	var q url.Values
	var err error
	if len(qSplit) == 1 {
		q = make(url.Values)
	} else {
		q, err = url.ParseQuery(qSplit[1])
		if err != nil {
			return "", fmt.Errorf("store: parse dsn query string: %s", dsn)
		}
	}

	if !q.Has("_foreign_keys") && !q.Has("_fk") {
		q.Set("_fk", "true")
	}
	if !q.Has("_journal_mode") && !q.Has("_journal") {
		q.Set("_journal", "WAL")
	}
	if readOnly && !q.Has("mode") {
		q.Set("mode", "ro")
	}
	return fmt.Sprintf("%s?%s", qSplit[0], q.Encode()), nil
}

// Cleanup deletes traffic and dns_queries rows older than now-days and
// returns the number of rows removed (§4.7 retention).
func (s *Store) Cleanup(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"traffic", "dns_queries"} {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff)
		if err != nil {
			return 0, fmt.Errorf("store: cleanup %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// ErrNotFound reports a single-row lookup that found nothing. No function
// in this package returns it: GetOrCreateDevice creates a missing row.
var ErrNotFound = errors.New("store: not found")
