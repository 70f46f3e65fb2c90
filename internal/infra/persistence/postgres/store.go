// Package postgres keeps the session change log in a shared PostgreSQL
// database, for teams correcting the same cohort from several machines.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"usqutils/internal/infra/persistence/memory"
	"usqutils/internal/infra/persistence/rows"
	"usqutils/pkg/domain"
)

var _ domain.ChangeLogStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/usq?sslmode=disable"
)

const schema = `CREATE TABLE IF NOT EXISTS usq_change_log (
	kind        TEXT        NOT NULL,
	seq         BIGINT      NOT NULL,
	entry_id    TEXT        NOT NULL UNIQUE,
	entry       JSONB       NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, seq)
)`

var (
	openMu  sync.Mutex
	sqlOpen = sql.Open
)

// Store mirrors the log in memory and appends new entries to usq_change_log.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore connects with dsn (a localhost default when empty), creates the
// table if needed and loads the stored log.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create usq_change_log: %w", err)
	}
	res, err := s.db.QueryContext(ctx, `SELECT kind, seq, entry_id, entry, recorded_at FROM usq_change_log ORDER BY kind, seq`)
	if err != nil {
		return fmt.Errorf("select usq_change_log: %w", err)
	}
	defer func() { _ = res.Close() }()
	var stored []rows.Row
	for res.Next() {
		var (
			r    rows.Row
			kind string
		)
		if err := res.Scan(&kind, &r.Seq, &r.EntryID, &r.Entry, &r.RecordedAt); err != nil {
			return fmt.Errorf("scan usq_change_log: %w", err)
		}
		r.Kind = rows.Kind(kind)
		stored = append(stored, r)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("read usq_change_log: %w", err)
	}
	snap, err := rows.Assemble(stored)
	if err != nil {
		return err
	}
	s.ImportState(snap)
	return nil
}

// Save appends the entries next adds in one transaction. A key clash means
// another session appended first; reload and retry.
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
	if len(tail) == 0 {
		return nil
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
			`INSERT INTO usq_change_log (kind, seq, entry_id, entry, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
			string(r.Kind), r.Seq, r.EntryID, string(r.Entry), r.RecordedAt); err != nil {
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

// OverrideSQLOpen swaps the sql.Open used by NewStore and returns a restore
// function. Tests point it at pgstub.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
