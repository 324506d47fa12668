package database

import (
	"strconv"
	"strings"
)

// Dialect captures the few SQL differences between the stores the edge can run on.
type Dialect struct {
	Name string
	// AutoID is the column definition of a monotonically increasing integer primary key.
	AutoID string
	// Blob is the column type used for raw response bodies.
	Blob string
}

var (
	SQLite = Dialect{
		Name:   DriverSQLite,
		AutoID: "INTEGER PRIMARY KEY AUTOINCREMENT",
		Blob:   "BLOB",
	}
	Postgres = Dialect{
		Name:   DriverPostgres,
		AutoID: "BIGSERIAL PRIMARY KEY",
		Blob:   "BYTEA",
	}
)

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) Dialect {
	if driver == DriverPostgres {
		return Postgres
	}
	return SQLite
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
func (d Dialect) Rebind(query string) string {
	if d.Name != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
