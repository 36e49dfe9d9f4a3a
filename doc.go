/*
Package xcrud is a small object-relational layer over database/sql. It maps
tagged Go structs to table rows, generates parameterized INSERT, UPDATE and
DELETE statements for them, and runs those statements inside one explicit
transaction per unit of work. Reads stay plain SQL.

# Records

A record is a struct that implements Tabler and tags the fields it stores:

	type OrderLine struct {
	    OrderID   int64     `db:"order_id,pk"`
	    ProductID int64     `db:"product_id,pk"`
	    Quantity  int32     `db:"quantity"`
	    Note      *string   `db:"note"`
	    AddedAt   time.Time `db:"added_at"`
	}

	func (OrderLine) Table() xcrud.Table { return xcrud.Table{Schema: "main", Name: "order_line"} }

Only fields with a `db` tag are mapped. The `pk` option marks primary-key
fields; keys must be integers or uuid.UUID values. Pointers and the
sql.Null* wrappers are nullable and bind NULL when absent. Mapping metadata
is resolved once per type and cached; call Register at startup to surface
mapping mistakes early.

# Units of work

Open (or New, on a pool you own) takes one connection and begins a
transaction on it. Insert, Update and Remove write through that
transaction; QueryItems and QueryItem read through it, so a unit of work
sees its own uncommitted writes. Nothing becomes visible to other
connections until Commit. Close without Commit discards everything.

If a statement fails the transaction is rolled back at once and the
failure is returned as a *StatementError; every earlier write of the unit
of work is gone too. Mapping problems (*ConfigurationError,
*UnsupportedTypeError, *InvalidKeyTypeError) are reported before any SQL is
sent and leave the transaction open.

# Generated keys

A record with a single integer key gets the key the database assigns. It
is read back with RETURNING (SQLite, PostgreSQL), LastInsertId (MySQL) or
OUTPUT INSERTED (SQL Server) and stored in the record. A single uuid.UUID
key left at its zero value is filled with a random UUID before the insert.
Composite keys are inserted as given, and so are the keys of association
tables whose only mapped fields are keys.

# Reading rows

Get, Query and Exec work against any *sql.DB, *sql.Tx or *sql.Conn and map
result columns to struct fields by `db` name, falling back to a
case-insensitive field-name match. Rebind turns :named parameters taken
from a struct or map into positional placeholders in the style of a
Dialect.
*/
package xcrud
