package xcrud

import (
	"reflect"
	"strings"
)

// Statement is generated SQL text plus the fields whose values fill its
// placeholders. Values are bound with Bind and Keys with BindKeys; the
// resulting arguments are passed in that order.
type Statement struct {
	Op     string
	Table  Table
	Text   string
	Values []Field
	Keys   []Field
}

// NumParams is the number of arguments the statement expects.
func (s Statement) NumParams() int { return len(s.Values) + len(s.Keys) }

// stmtBuilder accumulates statement text and assigns placeholders. A column
// is bound once: numbered placeholder styles reuse the number of an earlier
// occurrence, while `?` needs one argument per occurrence.
type stmtBuilder struct {
	ph   Placeholder
	b    strings.Builder
	n    int
	seen map[string]int // lower-case column -> argument number
}

func newStmtBuilder(ph Placeholder) *stmtBuilder {
	return &stmtBuilder{ph: ph, seen: make(map[string]int)}
}

// bind writes the placeholder for f and reports whether f needs a new
// argument.
func (sb *stmtBuilder) bind(f Field) bool {
	key := strings.ToLower(f.Column)
	if n, ok := sb.seen[key]; ok && sb.ph.Numbered() {
		sb.b.WriteString(sb.ph.Format(n))
		return false
	}
	sb.n++
	sb.seen[key] = sb.n
	sb.b.WriteString(sb.ph.Format(sb.n))
	return true
}

func (sb *stmtBuilder) columns(fields []Field) {
	for i, f := range fields {
		if i > 0 {
			sb.b.WriteString(", ")
		}
		sb.b.WriteString(f.Column)
	}
}

// assignments writes `col = ?` for each field joined by sep and returns the
// fields that took a new argument.
func (sb *stmtBuilder) assignments(fields []Field, sep string) []Field {
	bound := make([]Field, 0, len(fields))
	for i, f := range fields {
		if i > 0 {
			sb.b.WriteString(sep)
		}
		sb.b.WriteString(f.Column)
		sb.b.WriteString(" = ")
		if sb.bind(f) {
			bound = append(bound, f)
		}
	}
	return bound
}

// InsertStatement builds
//
//	insert into schema.table (a, b) values (?, ?)
//
// When identity is non-nil the dialect's retrieval of the generated key is
// added: a trailing `returning id`, an `output inserted.id` clause, or
// nothing for dialects that use LastInsertId. Keys the database does not
// generate are passed among values. With no values the row is inserted
// with column defaults:
//
//	insert into schema.table default values returning id
func InsertStatement(d Dialect, t Table, values []Field, identity *Field) Statement {
	sb := newStmtBuilder(d.Placeholder)
	sb.b.WriteString("insert into ")
	sb.b.WriteString(t.String())
	if len(values) > 0 {
		sb.b.WriteString(" (")
		sb.columns(values)
		sb.b.WriteString(")")
	}
	if identity != nil {
		sb.b.WriteString(d.outputClause(identity.Column))
	}
	bound := make([]Field, 0, len(values))
	if len(values) == 0 {
		sb.b.WriteString(d.defaultValuesClause())
	} else {
		sb.b.WriteString(" values (")
		for i, f := range values {
			if i > 0 {
				sb.b.WriteString(", ")
			}
			if sb.bind(f) {
				bound = append(bound, f)
			}
		}
		sb.b.WriteString(")")
	}
	if identity != nil {
		sb.b.WriteString(d.returningClause(identity.Column))
	}
	return Statement{Op: "insert", Table: t, Text: sb.b.String(), Values: bound}
}

// UpdateStatement builds
//
//	update schema.table set a = ?, b = ? where id = ?
//
// A type without non-key fields has nothing to set, and one without keys
// would update every row; both are configuration errors.
func UpdateStatement(d Dialect, t Table, values, keys []Field) (Statement, error) {
	if len(values) == 0 {
		return Statement{}, configErr(ownerOf(keys), "%s: no non-key mapped fields to update", t)
	}
	if len(keys) == 0 {
		return Statement{}, configErr(ownerOf(values), "%s: update requires at least one primary-key field", t)
	}
	sb := newStmtBuilder(d.Placeholder)
	sb.b.WriteString("update ")
	sb.b.WriteString(t.String())
	sb.b.WriteString(" set ")
	vals := sb.assignments(values, ", ")
	sb.b.WriteString(" where ")
	ks := sb.assignments(keys, " and ")
	return Statement{Op: "update", Table: t, Text: sb.b.String(), Values: vals, Keys: ks}, nil
}

// DeleteStatement builds
//
//	delete from schema.table where k1 = ? and k2 = ?
//
// The filter is always the primary key.
func DeleteStatement(d Dialect, t Table, keys []Field) (Statement, error) {
	if len(keys) == 0 {
		return Statement{}, configErr(nil, "%s: remove requires at least one primary-key field", t)
	}
	sb := newStmtBuilder(d.Placeholder)
	sb.b.WriteString("delete from ")
	sb.b.WriteString(t.String())
	sb.b.WriteString(" where ")
	ks := sb.assignments(keys, " and ")
	return Statement{Op: "remove", Table: t, Text: sb.b.String(), Keys: ks}, nil
}

func ownerOf(fields []Field) reflect.Type {
	if len(fields) == 0 {
		return nil
	}
	return fields[0].owner
}
