// Package pgstub is a database/sql driver that understands the handful of
// statements the postgres change log store issues. Inserts become visible on
// commit, and (kind, seq) clashes fail like a primary key violation.
package pgstub

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// Row is one stored change_log row.
type Row struct {
	Kind       string
	Seq        int64
	EntryID    string
	Entry      string
	RecordedAt time.Time
}

// DB is the shared state behind every connection. Set the Fail fields to
// inject errors.
type DB struct {
	mu         sync.Mutex
	statements []string
	rows       []Row

	FailPing   bool
	FailBegin  bool
	FailCommit bool
}

// Open returns a *sql.DB over a fresh stub.
func Open() (*sql.DB, *DB) {
	state := &DB{}
	return sql.OpenDB(connector{state}), state
}

// Statements returns every statement executed so far.
func (d *DB) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.statements)
}

// Rows returns the committed rows.
func (d *DB) Rows() []Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.rows)
}

// Seed stores rows directly, bypassing transactions.
func (d *DB) Seed(rows ...Row) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = append(d.rows, rows...)
}

type connector struct{ db *DB }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &conn{db: c.db}, nil }
func (c connector) Driver() driver.Driver                       { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("pgstub: use pgstub.Open")
}

type conn struct {
	db      *DB
	pending []Row
	inTx    bool
}

func (c *conn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("pgstub: prepare unsupported") }
func (c *conn) Close() error                        { return nil }
func (c *conn) Begin() (driver.Tx, error)           { return c.BeginTx(context.Background(), driver.TxOptions{}) }

func (c *conn) Ping(context.Context) error {
	if c.db.FailPing {
		return errors.New("pgstub: connection refused")
	}
	return nil
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.db.FailBegin {
		return nil, errors.New("pgstub: begin failed")
	}
	c.inTx, c.pending = true, nil
	return c, nil
}

func (c *conn) Commit() error {
	defer func() { c.inTx, c.pending = false, nil }()
	if c.db.FailCommit {
		return errors.New("pgstub: commit failed")
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	for _, r := range c.pending {
		if c.db.clash(r) {
			return fmt.Errorf("pgstub: duplicate key (%s, %d)", r.Kind, r.Seq)
		}
	}
	c.db.rows = append(c.db.rows, c.pending...)
	return nil
}

func (c *conn) Rollback() error {
	c.inTx, c.pending = false, nil
	return nil
}

// clash reports a primary key conflict. Callers hold mu.
func (d *DB) clash(r Row) bool {
	return slices.ContainsFunc(d.rows, func(x Row) bool { return x.Kind == r.Kind && x.Seq == r.Seq })
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.mu.Lock()
	c.db.statements = append(c.db.statements, query)
	c.db.mu.Unlock()
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "INSERT":
		r, err := rowFromArgs(args)
		if err != nil {
			return nil, err
		}
		c.db.mu.Lock()
		dup := c.db.clash(r) || slices.ContainsFunc(c.pending, func(x Row) bool { return x.Kind == r.Kind && x.Seq == r.Seq })
		c.db.mu.Unlock()
		if dup {
			return nil, fmt.Errorf("pgstub: duplicate key value violates unique constraint (%s, %d)", r.Kind, r.Seq)
		}
		if !c.inTx {
			c.db.Seed(r)
		} else {
			c.pending = append(c.pending, r)
		}
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("pgstub: unsupported statement %q", verb)
}

func rowFromArgs(args []driver.NamedValue) (Row, error) {
	if len(args) != 5 {
		return Row{}, fmt.Errorf("pgstub: insert wants 5 args, got %d", len(args))
	}
	var r Row
	var ok [5]bool
	r.Kind, ok[0] = args[0].Value.(string)
	r.Seq, ok[1] = args[1].Value.(int64)
	r.EntryID, ok[2] = args[2].Value.(string)
	r.Entry, ok[3] = args[3].Value.(string)
	r.RecordedAt, ok[4] = args[4].Value.(time.Time)
	for i, good := range ok {
		if !good {
			return Row{}, fmt.Errorf("pgstub: insert arg %d has type %T", i+1, args[i].Value)
		}
	}
	return r, nil
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, fmt.Errorf("pgstub: unsupported query %q", query)
	}
	stored := c.db.Rows()
	slices.SortFunc(stored, func(a, b Row) int {
		if a.Kind != b.Kind {
			return strings.Compare(a.Kind, b.Kind)
		}
		return int(a.Seq - b.Seq)
	})
	return &result{rows: stored}, nil
}

type result struct {
	rows []Row
	next int
}

func (r *result) Columns() []string {
	return []string{"kind", "seq", "entry_id", "entry", "recorded_at"}
}

func (r *result) Close() error { return nil }

func (r *result) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.next]
	r.next++
	dest[0], dest[1], dest[2], dest[3], dest[4] = row.Kind, row.Seq, row.EntryID, []byte(row.Entry), row.RecordedAt
	return nil
}
