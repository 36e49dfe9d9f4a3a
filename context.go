package xcrud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
)

type state uint8

const (
	stateOpen state = iota
	stateCommitted
	stateRolledBack
	stateClosed
)

func (s state) err() error {
	switch s {
	case stateCommitted:
		return ErrCommitted
	case stateRolledBack:
		return ErrRolledBack
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// Context is a unit of work: one connection and one transaction, held from
// construction until Close. Insert, Update and Remove run generated
// statements inside the transaction; nothing is visible to other
// connections until Commit. A failed statement rolls the whole transaction
// back.
//
// A Context is not safe for concurrent use.
//
//	c, err := xcrud.Open(ctx, "sqlite", "file:shop.db")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	p := &Product{CategoryID: 1, Name: "Basketball", Price: decimal.RequireFromString("59.99")}
//	if err := c.Insert(ctx, p); err != nil {
//	    return err // already rolled back if the statement failed
//	}
//	// p.ID now holds the generated key.
//	return c.Commit()
type Context struct {
	db      *sql.DB // owned pool, nil when borrowed via New
	conn    *sql.Conn
	tx      *sql.Tx
	stmts   QueryExecer // tx while open
	dialect Dialect
	log     *slog.Logger
	state   state
	writes  int // statements executed in the current transaction
}

// Open opens a database with driverName and dataSourceName, takes one
// connection from it and begins a transaction. The dialect is chosen from
// the driver name unless WithDialect is given. Nothing is left open when
// Open fails.
func Open(ctx context.Context, driverName, dataSourceName string, opts ...Option) (*Context, error) {
	o := newOptions(opts)
	d := o.dialect
	if d == nil {
		found, err := DialectFor(driverName)
		if err != nil {
			return nil, err
		}
		d = &found
	}

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("xcrud: open %s: %w", driverName, err)
	}
	c, err := begin(ctx, db, *d, o)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	c.db = db
	return c, nil
}

// New starts a Context on a connection taken from a caller-owned pool.
// Close returns the connection to db but leaves db open.
func New(ctx context.Context, db *sql.DB, d Dialect, opts ...Option) (*Context, error) {
	return begin(ctx, db, d, newOptions(opts))
}

func begin(ctx context.Context, db *sql.DB, d Dialect, o *options) (*Context, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("xcrud: acquire connection: %w", err)
	}
	tx, err := beginTx(ctx, conn, o.txOptions)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return &Context{conn: conn, tx: tx, stmts: tx, dialect: d, log: o.logger}, nil
}

func beginTx(ctx context.Context, b Beginner, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("xcrud: begin transaction: %w", err)
	}
	return tx, nil
}

// Dialect returns the dialect statements are generated for.
func (c *Context) Dialect() Dialect { return c.dialect }

// Insert writes record, which must be a non-nil pointer to a struct
// implementing Tabler.
//
// With exactly one integer key the database assigns it: the key is left
// out of the column list and the generated value is written back into
// record, even when the key is the only mapped field. Any other keys are
// inserted with the row; a single GUID key left at its zero value is first
// set to a random UUID. A type with only caller-assigned key fields (an
// association table) inserts just its keys.
func (c *Context) Insert(ctx context.Context, record any) error {
	if err := c.writable(); err != nil {
		return err
	}
	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}
	meta, err := lookupRecord(rv.Elem().Type())
	if err != nil {
		return err
	}

	if len(meta.keys) == 1 && meta.keys[0].Kind == KindGUID {
		if err := assignGUID(rv.Elem(), meta.keys[0]); err != nil {
			return err
		}
	}

	values := meta.values
	var identity *Field
	switch {
	case len(meta.keys) == 1 && meta.keys[0].Kind.IsInteger():
		key := meta.keys[0]
		identity = &key
	case len(values) == 0:
		values = meta.keys
	default:
		// caller-assigned keys go in with the row
		values = append(append([]Field(nil), meta.keys...), meta.values...)
	}

	stmt := InsertStatement(c.dialect, meta.table, values, identity)
	params, err := Bind(record, stmt.Values)
	if err != nil {
		return err
	}
	args := Args(params)
	c.logStatement(stmt, len(args))

	if identity == nil {
		_, err := c.stmts.ExecContext(ctx, stmt.Text, args...)
		if err != nil {
			return c.fail(stmt, err)
		}
		c.writes++
		return nil
	}

	var id int64
	switch c.dialect.Identity {
	case IdentityLastInsertID:
		res, err := c.stmts.ExecContext(ctx, stmt.Text, args...)
		if err != nil {
			return c.fail(stmt, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return c.fail(stmt, err)
		}
	default:
		if id, err = Get[int64](ctx, c.stmts, stmt.Text, args...); err != nil {
			return c.fail(stmt, err)
		}
	}
	c.writes++
	return assignIdentity(rv.Elem(), *identity, id)
}

// Update writes every non-key field of record to the row identified by its
// primary key. Types without non-key fields or without keys are rejected
// with a ConfigurationError.
func (c *Context) Update(ctx context.Context, record any) error {
	if err := c.writable(); err != nil {
		return err
	}
	meta, err := c.lookup(record)
	if err != nil {
		return err
	}
	stmt, err := UpdateStatement(c.dialect, meta.table, meta.values, meta.keys)
	if err != nil {
		return err
	}
	return c.execStatement(ctx, record, stmt)
}

// Remove deletes the row identified by record's primary key.
func (c *Context) Remove(ctx context.Context, record any) error {
	if err := c.writable(); err != nil {
		return err
	}
	meta, err := c.lookup(record)
	if err != nil {
		return err
	}
	stmt, err := DeleteStatement(c.dialect, meta.table, meta.keys)
	if err != nil {
		return err
	}
	return c.execStatement(ctx, record, stmt)
}

// Exec runs a caller-written statement inside the transaction, with the
// same :named binding as QueryItems. A failure rolls the transaction back.
func (c *Context) Exec(ctx context.Context, query string, params ...any) (sql.Result, error) {
	if err := c.writable(); err != nil {
		return nil, err
	}
	bound, args, err := Rebind(query, c.dialect.Placeholder, params...)
	if err != nil {
		return nil, err
	}
	stmt := Statement{Op: "exec", Text: bound}
	c.logStatement(stmt, len(args))
	res, err := Exec(ctx, c.stmts, bound, args...)
	if err != nil {
		return nil, c.fail(stmt, err)
	}
	c.writes++
	return res, nil
}

// Commit commits the transaction. Afterwards the Context only serves
// queries; writes return ErrCommitted.
func (c *Context) Commit() error {
	if err := c.state.err(); err != nil {
		return err
	}
	if err := c.tx.Commit(); err != nil {
		c.state = stateRolledBack
		return fmt.Errorf("xcrud: commit: %w", err)
	}
	c.state = stateCommitted
	c.log.Info("xcrud: committed", "statements", c.writes)
	return nil
}

// Rollback discards every write made through the Context. It is how a
// caller abandons the unit of work after a ConfigurationError or any other
// failure that did not roll back on its own.
func (c *Context) Rollback() error {
	if err := c.state.err(); err != nil {
		return err
	}
	c.state = stateRolledBack
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("xcrud: rollback: %w", err)
	}
	return nil
}

// Close rolls back an uncommitted transaction and releases the connection,
// and the pool too when the Context was created by Open. Calling Close
// again returns ErrClosed.
func (c *Context) Close() error {
	if c.state == stateClosed {
		return ErrClosed
	}
	var errs []error
	if c.state == stateOpen {
		if c.writes > 0 {
			c.log.Warn("xcrud: closing uncommitted context; discarding writes", "statements", c.writes)
		}
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("xcrud: rollback: %w", err))
		}
	}
	c.state = stateClosed
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("xcrud: close connection: %w", err))
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("xcrud: close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// querier returns what queries run against: the transaction while it is
// open, the bare connection once it has ended.
func (c *Context) querier() (QueryExecer, error) {
	switch c.state {
	case stateOpen:
		return c.stmts, nil
	case stateClosed:
		return nil, ErrClosed
	}
	return c.conn, nil
}

func (c *Context) writable() error { return c.state.err() }

func (c *Context) lookup(record any) (*recordMeta, error) {
	rv, err := recordValue(record)
	if err != nil {
		return nil, err
	}
	return lookupRecord(rv.Type())
}

func (c *Context) execStatement(ctx context.Context, record any, stmt Statement) error {
	vals, err := Bind(record, stmt.Values)
	if err != nil {
		return err
	}
	keys, err := BindKeys(record, stmt.Keys)
	if err != nil {
		return err
	}
	args := Args(vals, keys)
	c.logStatement(stmt, len(args))
	if _, err := c.stmts.ExecContext(ctx, stmt.Text, args...); err != nil {
		return c.fail(stmt, err)
	}
	c.writes++
	return nil
}

// fail rolls the transaction back and wraps cause.
func (c *Context) fail(stmt Statement, cause error) error {
	se := &StatementError{Op: stmt.Op, Table: stmt.Table, Statement: stmt.Text, Err: cause}
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		se.RollbackErr = err
	}
	c.state = stateRolledBack
	c.log.Warn("xcrud: statement failed; transaction rolled back",
		"op", stmt.Op, "table", stmt.Table.String(), "error", cause, "discarded", c.writes)
	return se
}

func (c *Context) logStatement(stmt Statement, nargs int) {
	c.log.Debug("xcrud: statement", "op", stmt.Op, "table", stmt.Table.String(), "sql", stmt.Text, "args", nargs)
}

// assignGUID fills a zero GUID key with a new random UUID.
func assignGUID(rv reflect.Value, key Field) error {
	fv, ok := fieldByPath(rv, key.Index)
	if !ok {
		return configErr(rv.Type(), "field %s is inside a nil embedded struct", key.Name)
	}
	if fv.IsZero() {
		fv.Set(reflect.ValueOf(uuid.New()).Convert(fv.Type()))
	}
	return nil
}

// assignIdentity writes a generated key back into the record, allocating
// nil embedded structs on the way to the key.
func assignIdentity(rv reflect.Value, key Field, id int64) error {
	fv := fieldByPathAlloc(rv, key.Index)
	if fv.CanInt() {
		if fv.OverflowInt(id) {
			return fmt.Errorf("xcrud: generated key %d overflows %s.%s", id, rv.Type(), key.Name)
		}
		fv.SetInt(id)
		return nil
	}
	if id < 0 || fv.OverflowUint(uint64(id)) {
		return fmt.Errorf("xcrud: generated key %d overflows %s.%s", id, rv.Type(), key.Name)
	}
	fv.SetUint(uint64(id))
	return nil
}

// QueryItems runs query on c's connection, inside the transaction while it
// is open, and returns every row mapped to T. Pass exactly one struct or
// map[string]any to bind :named parameters, or positional values for `?`
// placeholders; placeholders are rewritten into the dialect's style.
//
//	items, err := xcrud.QueryItems[Product](ctx, c,
//	    `select * from main.product where id = :id`, map[string]any{"id": p.ID})
func QueryItems[T any](ctx context.Context, c *Context, query string, params ...any) ([]T, error) {
	q, err := c.querier()
	if err != nil {
		return nil, err
	}
	bound, args, err := Rebind(query, c.dialect.Placeholder, params...)
	if err != nil {
		return nil, err
	}
	return Query[T](ctx, q, bound, args...)
}

// QueryItem is QueryItems for a single row. It returns sql.ErrNoRows when
// the query matches nothing.
func QueryItem[T any](ctx context.Context, c *Context, query string, params ...any) (T, error) {
	var zero T
	q, err := c.querier()
	if err != nil {
		return zero, err
	}
	bound, args, err := Rebind(query, c.dialect.Placeholder, params...)
	if err != nil {
		return zero, err
	}
	return Get[T](ctx, q, bound, args...)
}
