// Package query builds and executes model queries on top of squirrel.
package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the SQL differences between supported databases
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat

	// NativeILike is true when the database supports ILIKE
	NativeILike bool
}

var (
	// Postgres is the dialect for the pgx and lib/pq drivers
	Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar, NativeILike: true}

	// SQLite is the dialect for the go-sqlite3 driver
	SQLite = Dialect{Name: "sqlite3", Placeholder: sq.Question}
)

// DialectFor returns the dialect matching a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Builder returns a statement builder using the dialect's placeholder format
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// Quote quotes an identifier
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Column returns a qualified, quoted column reference
func (d Dialect) Column(alias, column string) string {
	return d.Quote(alias) + "." + d.Quote(column)
}

// Table returns a quoted table reference with an alias
func (d Dialect) Table(table, alias string) string {
	if alias == "" || alias == table {
		return d.Quote(table)
	}
	return d.Quote(table) + " AS " + d.Quote(alias)
}

// JSONText returns an expression extracting a top-level member of a JSON column as text
func (d Dialect) JSONText(column, key string) (string, error) {
	if !isValidIdentifier(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, key)
	}
	if d.Name == Postgres.Name {
		return fmt.Sprintf("(%s ->> '%s')", column, key), nil
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, key), nil
}

// isValidIdentifier checks if a string is a valid SQL identifier
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for _, char := range s {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return false
		}
	}
	return true
}
