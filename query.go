package xcrud

import (
	"context"
	"database/sql"
)

// Exec executes a statement that does not return rows against e.
//
// It forwards to the underlying [Execer] without rewriting SQL or
// placeholders. Whether the returned [sql.Result] supports LastInsertId
// depends on the driver.
func Exec(ctx context.Context, e Execer, query string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, query, args...)
}

// Get executes the query and scans the first row into a value of type T.
//
// It returns [sql.ErrNoRows] if the query yields no rows. Rows after the
// first are ignored; add LIMIT 1 (or an equivalent filter) when at most one
// row is expected.
//
// T may be a struct, a primitive, or any type implementing [sql.Scanner].
// Struct fields bind by `db:"name"` first and fall back to a
// case-insensitive match on the field name. Extra columns are ignored and
// missing columns leave zero values.
//
//	type Product struct {
//	    ID   int64  `db:"id,pk"`
//	    Name string `db:"name"`
//	}
//	p, err := xcrud.Get[Product](ctx, db, `SELECT id, name FROM product WHERE id = ?`, 42)
//	if errors.Is(err, sql.ErrNoRows) {
//	    // not found
//	}
func Get[T any](ctx context.Context, q Querier, query string, args ...any) (out T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return out, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if !rows.Next() {
		if ne := rows.Err(); ne != nil {
			return out, ne
		}
		return out, sql.ErrNoRows
	}
	return scanWithMapper[T](getMapper(), rows)
}

// Query executes the query and scans every result row into a slice of T.
//
// The slice is fully materialized before Query returns; rows are closed on
// every path. Mapping rules are the same as for [Get]. A query that yields
// no rows returns a nil slice and no error.
//
//	products, err := xcrud.Query[Product](ctx, db, `SELECT id, name FROM product ORDER BY id`)
func Query[T any](ctx context.Context, q Querier, query string, args ...any) (out []T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	m := getMapper()
	for rows.Next() {
		v, scanErr := scanWithMapper[T](m, rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, v)
	}
	if ne := rows.Err(); ne != nil {
		return nil, ne
	}
	return out, nil
}
