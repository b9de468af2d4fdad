// Package journal provides append-only signal stream storage backing the
// external-bus dispatch adapter.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"signalmesh/internal/domain"
)

// Entry is one persisted stream record.
type Entry struct {
	Stream  string        `json:"stream"`
	Version int64         `json:"version"`
	Signal  domain.Signal `json:"signal"`
}

// SQLiteStore implements domain.Bus over a SQLite database. Appends are
// optimistic-concurrency checked against the stream's current version
// inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			stream         TEXT    NOT NULL,
			version        INTEGER NOT NULL,
			signal_id      TEXT    NOT NULL,
			signal_type    TEXT    NOT NULL,
			source         TEXT    NOT NULL,
			subject        TEXT    NOT NULL DEFAULT '',
			data           TEXT    NOT NULL DEFAULT 'null',
			correlation_id TEXT    NOT NULL DEFAULT '',
			causation_id   TEXT    NOT NULL DEFAULT '',
			at             TEXT    NOT NULL,
			PRIMARY KEY (stream, version)
		)
	`)
	return err
}

// Append writes sig as the next entry of stream. With an exact expectation,
// the append fails with ErrBusVersionConflict unless the stream is at that
// version.
func (s *SQLiteStore) Append(ctx context.Context, stream string, expected domain.ExpectedVersion, sig domain.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM signals WHERE stream = ?", stream,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("journal: current version: %w", err)
	}

	if !expected.Any && expected.Exact != current {
		return domain.NewDomainError("journal.Append", domain.ErrBusVersionConflict,
			fmt.Sprintf("stream %q at %d, expected %d", stream, current, expected.Exact))
	}

	data, err := json.Marshal(sig.Data)
	if err != nil {
		return fmt.Errorf("journal: marshal data: %w", err)
	}
	at := sig.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals
			(stream, version, signal_id, signal_type, source, subject, data, correlation_id, causation_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stream, current+1, sig.ID, sig.Type, sig.Source, sig.Subject,
		string(data), sig.CorrelationID, sig.CausationID, at.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return tx.Commit()
}

// Read returns up to limit entries of stream starting after version from,
// oldest first. limit <= 0 means no cap.
func (s *SQLiteStore) Read(ctx context.Context, stream string, from int64, limit int) ([]Entry, error) {
	query := `
		SELECT version, signal_id, signal_type, source, subject, data, correlation_id, causation_id, at
		FROM signals WHERE stream = ? AND version > ? ORDER BY version`
	args := []any{stream, from}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			data string
			at   string
		)
		e.Stream = stream
		if err := rows.Scan(&e.Version, &e.Signal.ID, &e.Signal.Type, &e.Signal.Source,
			&e.Signal.Subject, &data, &e.Signal.CorrelationID, &e.Signal.CausationID, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Signal.Data); err != nil {
			return nil, fmt.Errorf("journal: unmarshal data: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.Signal.Time = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Version returns the current version of stream (0 when empty).
func (s *SQLiteStore) Version(ctx context.Context, stream string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM signals WHERE stream = ?", stream,
	).Scan(&v)
	return v, err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
