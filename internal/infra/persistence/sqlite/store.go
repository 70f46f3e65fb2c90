// Package sqlite keeps the session change log in an embedded SQLite file so
// corrections survive between command invocations.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"usqutils/internal/infra/persistence/memory"
	"usqutils/internal/infra/persistence/rows"
	"usqutils/pkg/domain"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var _ domain.ChangeLogStore = (*Store)(nil)

// DefaultPath is used when no path is configured.
const DefaultPath = "usq_changelog.db"

const schema = `CREATE TABLE IF NOT EXISTS change_log (
	kind        TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	entry_id    TEXT    NOT NULL,
	entry       TEXT    NOT NULL,
	recorded_at TEXT    NOT NULL,
	PRIMARY KEY (kind, seq)
)`

// Store mirrors the log in memory and appends new entries to the file.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewStore opens or creates the database at path and loads any stored log.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; sqlite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create change_log table: %w", err)
	}
	res, err := s.db.QueryContext(ctx, `SELECT kind, seq, entry_id, entry, recorded_at FROM change_log`)
	if err != nil {
		return fmt.Errorf("select change_log: %w", err)
	}
	defer func() { _ = res.Close() }()
	var stored []rows.Row
	for res.Next() {
		var (
			r          rows.Row
			kind       string
			entry      string
			recordedAt string
		)
		if err := res.Scan(&kind, &r.Seq, &r.EntryID, &entry, &recordedAt); err != nil {
			return fmt.Errorf("scan change_log: %w", err)
		}
		r.Kind, r.Entry = rows.Kind(kind), []byte(entry)
		if r.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return fmt.Errorf("change_log %s %d: %w", kind, r.Seq, err)
		}
		stored = append(stored, r)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("read change_log: %w", err)
	}
	snap, err := rows.Assemble(stored)
	if err != nil {
		return err
	}
	s.ImportState(snap)
	return nil
}

// Save appends the entries next adds to the stored log in one transaction.
// A primary key clash means another process appended first.
func (s *Store) Save(ctx context.Context, next domain.ChangeLogSnapshot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.CheckNext(next); err != nil {
		return err
	}
	tail, err := rows.Tail(s.ExportState(), next)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, r := range tail {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_log (kind, seq, entry_id, entry, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			string(r.Kind), r.Seq, r.EntryID, string(r.Entry), r.RecordedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("append %s %d: %w", r.Kind, r.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.ImportState(next)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }
