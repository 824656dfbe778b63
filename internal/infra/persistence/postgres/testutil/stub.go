// Package testutil provides a fake database/sql driver for the documents
// table. Statements issued inside a transaction are staged and only become
// visible on commit.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	createRe = regexp.MustCompile(`(?is)^create\s+table\s+(?:if\s+not\s+exists\s+)?(\w+)`)
	insertRe = regexp.MustCompile(`(?is)^insert\s+into\s+(\w+)\s*\(([^)]*)\)`)
	deleteRe = regexp.MustCompile(`(?is)^delete\s+from\s+(\w+)\s+where\s+(\w+)\s*=`)
	selectRe = regexp.MustCompile(`(?is)^select\s+(.+?)\s+from\s+(\w+)`)

	driverSeq atomic.Int64
)

// StubConn is a single fake connection holding table rows in memory.
type StubConn struct {
	Execs   []string
	Created []string
	Tables  map[string][]map[string]any

	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error

	staged map[string][]map[string]any
}

// NewStubDB registers a uniquely named driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("assetcore-stub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Rows returns a copy of the committed rows of table.
func (c *StubConn) Rows(table string) []map[string]any {
	return cloneRows(c.Tables[table])
}

func cloneRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (c *StubConn) live() map[string][]map[string]any {
	if c.staged != nil {
		return c.staged
	}
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	return c.Tables
}

// Prepare is unsupported; database/sql uses the context fast paths.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("stub: prepare unsupported") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping fails together with FailExec so open-time checks can be exercised.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return errors.New("stub: ping failed")
	}
	return nil
}

// BeginTx stages a copy of every table.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	c.staged = make(map[string][]map[string]any, len(c.Tables))
	for name, rows := range c.Tables {
		c.staged[name] = cloneRows(rows)
	}
	return stubTx{conn: c}, nil
}

// ExecContext handles CREATE TABLE, INSERT (with ON CONFLICT upsert on the
// first column) and single-predicate DELETE.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub: exec failed")
	}
	q := strings.TrimSpace(query)
	switch {
	case createRe.MatchString(q):
		c.Created = append(c.Created, strings.ToLower(createRe.FindStringSubmatch(q)[1]))
		return driver.RowsAffected(0), nil
	case insertRe.MatchString(q):
		m := insertRe.FindStringSubmatch(q)
		return c.insert(strings.ToLower(m[1]), splitColumns(m[2]), args, strings.Contains(strings.ToUpper(q), "ON CONFLICT"))
	case deleteRe.MatchString(q):
		m := deleteRe.FindStringSubmatch(q)
		return c.remove(strings.ToLower(m[1]), strings.ToLower(m[2]), args)
	}
	return nil, fmt.Errorf("stub: unsupported statement %q", query)
}

func (c *StubConn) failing(table string) error {
	if c.FailTables[table] {
		return fmt.Errorf("stub: table %s unavailable", table)
	}
	return nil
}

func (c *StubConn) insert(table string, cols []string, args []driver.NamedValue, upsert bool) (driver.Result, error) {
	if err := c.failing(table); err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("stub: %d columns but %d args for %s", len(cols), len(args), table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	tables := c.live()
	if upsert {
		key := cols[0]
		for i, existing := range tables[table] {
			if existing[key] == row[key] {
				tables[table][i] = row
				return driver.RowsAffected(1), nil
			}
		}
	}
	tables[table] = append(tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) remove(table, col string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.failing(table); err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("stub: delete from %s expects one arg", table)
	}
	tables := c.live()
	var kept []map[string]any
	var n int64
	for _, row := range tables[table] {
		if row[col] == args[0].Value {
			n++
			continue
		}
		kept = append(kept, row)
	}
	tables[table] = kept
	return driver.RowsAffected(n), nil
}

// QueryContext serves SELECT <cols> FROM <table> over the visible rows.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	m := selectRe.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	table, cols := strings.ToLower(m[2]), splitColumns(m[1])
	if err := c.failing(table); err != nil {
		return nil, err
	}
	src := c.live()[table]
	values := make([][]driver.Value, len(src))
	for i, row := range src {
		values[i] = make([]driver.Value, len(cols))
		for j, col := range cols {
			values[i][j] = row[col]
		}
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	staged := t.conn.staged
	t.conn.staged = nil
	if t.conn.FailCommit {
		return errors.New("stub: commit failed")
	}
	t.conn.Tables = staged
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.staged = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	next int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }

func (r *stubRows) Close() error { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next == len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	cols := make([]string, len(parts))
	for i, p := range parts {
		cols[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return cols
}
