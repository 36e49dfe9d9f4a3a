package xcrud

import (
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// IdentityStrategy is how a dialect hands back the key the database
// assigned to an inserted row.
type IdentityStrategy uint8

const (
	// IdentityReturning appends `returning <key>` and reads one row
	// (SQLite 3.35+, PostgreSQL).
	IdentityReturning IdentityStrategy = iota
	// IdentityLastInsertID executes the insert and calls
	// sql.Result.LastInsertId (MySQL).
	IdentityLastInsertID
	// IdentityOutput adds `output inserted.<key>` before the values list
	// and reads one row (SQL Server).
	IdentityOutput
)

// Dialect is the per-database knowledge the statement generator needs.
type Dialect struct {
	Name        string
	Drivers     []string // database/sql driver names served by this dialect
	Placeholder Placeholder
	Identity    IdentityStrategy
}

var (
	// SQLite uses modernc.org/sqlite, registered as driver "sqlite".
	SQLite = Dialect{
		Name:        "sqlite",
		Drivers:     []string{"sqlite", "sqlite3"},
		Placeholder: PlaceholderQuestion,
		Identity:    IdentityReturning,
	}

	// Postgres uses github.com/jackc/pgx/v5/stdlib, registered as "pgx".
	Postgres = Dialect{
		Name:        "postgres",
		Drivers:     []string{"pgx", "pgx/v5", "postgres", "postgresql"},
		Placeholder: PlaceholderDollar,
		Identity:    IdentityReturning,
	}

	// MySQL uses github.com/go-sql-driver/mysql, registered as "mysql".
	MySQL = Dialect{
		Name:        "mysql",
		Drivers:     []string{"mysql"},
		Placeholder: PlaceholderQuestion,
		Identity:    IdentityLastInsertID,
	}

	// SQLServer expects the caller to import a driver registering
	// "sqlserver", such as github.com/microsoft/go-mssqldb.
	SQLServer = Dialect{
		Name:        "sqlserver",
		Drivers:     []string{"sqlserver", "mssql"},
		Placeholder: PlaceholderAtP,
		Identity:    IdentityOutput,
	}
)

var (
	dialectsMu sync.RWMutex
	dialects   = map[string]Dialect{}
)

func init() {
	for _, d := range []Dialect{SQLite, Postgres, MySQL, SQLServer} {
		RegisterDialect(d)
	}
}

// RegisterDialect makes d available to DialectFor under each of its driver
// names, replacing any earlier registration.
func RegisterDialect(d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	for _, name := range d.Drivers {
		dialects[strings.ToLower(name)] = d
	}
}

// DialectFor returns the dialect registered for a database/sql driver name.
func DialectFor(driverName string) (Dialect, error) {
	dialectsMu.RLock()
	d, ok := dialects[strings.ToLower(driverName)]
	dialectsMu.RUnlock()
	if !ok {
		return Dialect{}, configErr(nil, "no dialect registered for driver %q", driverName)
	}
	return d, nil
}

func (d Dialect) String() string { return d.Name }

// returningClause renders the identity retrieval for key, or "" when the
// dialect does not use SQL for it.
func (d Dialect) returningClause(key string) string {
	if d.Identity == IdentityReturning {
		return fmt.Sprintf(" returning %s", key)
	}
	return ""
}

func (d Dialect) outputClause(key string) string {
	if d.Identity == IdentityOutput {
		return fmt.Sprintf(" output inserted.%s", key)
	}
	return ""
}

// defaultValuesClause inserts a row made only of column defaults. MySQL has
// no DEFAULT VALUES form.
func (d Dialect) defaultValuesClause() string {
	if d.Identity == IdentityLastInsertID {
		return " () values ()"
	}
	return " default values"
}
