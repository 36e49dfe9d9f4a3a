package xcrud

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// DBHandler answers queries that return rows.
type DBHandler func(query string, args []driver.NamedValue) (cols []string, rows [][]driver.Value, err error)

// ExecHandler answers statements that do not return rows.
type ExecHandler func(query string, args []driver.NamedValue) (driver.Result, error)

// testLog records what reached the driver, in order.
type testLog struct {
	mu     sync.Mutex
	events []string
	txOpts []driver.TxOptions
}

func (l *testLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *testLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *testLog) count(prefix string) int {
	n := 0
	for _, e := range l.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type testConnector struct {
	h        DBHandler
	exec     ExecHandler
	log      *testLog
	beginErr error
}

func (c *testConnector) Connect(context.Context) (driver.Conn, error) { return &testConn{c: c}, nil }
func (c *testConnector) Driver() driver.Driver                        { return testDriver{} }

// testDriver serves sql.Open("xcrudtest", name) from connectors registered
// under name with registerTestDSN.
type testDriver struct{}

var testDSNs sync.Map // name -> *testConnector

func (testDriver) Open(name string) (driver.Conn, error) {
	v, ok := testDSNs.Load(name)
	if !ok {
		return nil, errors.New("xcrudtest: unknown dsn " + name)
	}
	return v.(*testConnector).Connect(context.Background())
}

func init() {
	sql.Register("xcrudtest", testDriver{})
	RegisterDialect(Dialect{
		Name:        "xcrudtest",
		Drivers:     []string{"xcrudtest"},
		Placeholder: PlaceholderQuestion,
		Identity:    IdentityReturning,
	})
}

func registerTestDSN(t *testing.T, c *testConnector) string {
	t.Helper()
	name := t.Name()
	testDSNs.Store(name, c)
	t.Cleanup(func() { testDSNs.Delete(name) })
	return name
}

type testConn struct {
	c *testConnector
}

func (c *testConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }

func (c *testConn) Close() error {
	c.c.log.add("close")
	return nil
}

func (c *testConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *testConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.c.beginErr != nil {
		return nil, c.c.beginErr
	}
	if l := c.c.log; l != nil {
		l.mu.Lock()
		l.txOpts = append(l.txOpts, opts)
		l.mu.Unlock()
	}
	c.c.log.add("begin")
	return &testTx{log: c.c.log}, nil
}

func (c *testConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.c.log.add("query: " + query)
	if c.c.h == nil {
		return nil, errors.New("xcrudtest: no query handler")
	}
	cols, data, err := c.c.h(query, args)
	if err != nil {
		return nil, err
	}
	return &testRows{cols: cols, data: data}, nil
}

func (c *testConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.c.log.add("exec: " + query)
	if c.c.exec == nil {
		return nil, errors.New("xcrudtest: no exec handler")
	}
	return c.c.exec(query, args)
}

type testTx struct {
	log *testLog
}

func (tx *testTx) Commit() error {
	tx.log.add("commit")
	return nil
}

func (tx *testTx) Rollback() error {
	tx.log.add("rollback")
	return nil
}

type testRows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (r *testRows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *testRows) Close() error      { return nil }
func (r *testRows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

type testResult struct {
	lastID int64
	rows   int64
	liErr  error
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, r.liErr }
func (r testResult) RowsAffected() (int64, error) { return r.rows, nil }

// newTestDB creates a *sql.DB backed by the in-memory test driver.
func newTestDB(t *testing.T, h DBHandler) *sql.DB {
	t.Helper()
	return sql.OpenDB(&testConnector{h: h})
}

// newExecDB creates a *sql.DB whose statements are answered by h.
func newExecDB(t *testing.T, h ExecHandler) *sql.DB {
	t.Helper()
	return sql.OpenDB(&testConnector{exec: h})
}

// newRecordingDB creates a *sql.DB that records every statement and
// transaction boundary in the returned log.
func newRecordingDB(t *testing.T, h DBHandler, exec ExecHandler) (*sql.DB, *testLog) {
	t.Helper()
	log := &testLog{}
	db := sql.OpenDB(&testConnector{h: h, exec: exec, log: log})
	t.Cleanup(func() { _ = db.Close() })
	return db, log
}

func argValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}
