package crud

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Common CRUD error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrNoPrimaryKey is returned when a statement needs a primary key value the record lacks
	ErrNoPrimaryKey = errors.New("record has no primary key value")
)

// postgres SQLSTATE codes, shared by pgx and lib/pq
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// ConvertDBError converts driver-specific errors to CRUD errors. The driver error
// stays in the chain so callers can still inspect it.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	// PostgreSQL through pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if kind := classifyCode(pgErr.Code); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		return err
	}

	// PostgreSQL through lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind := classifyCode(string(pqErr.Code)); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		var kind error
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			kind = ErrUniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			kind = ErrForeignKeyViolation
		case sqlite3.ErrConstraintCheck:
			kind = ErrCheckViolation
		case sqlite3.ErrConstraintNotNull:
			kind = ErrNotNullViolation
		}
		if kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}

	return err
}

func classifyCode(code string) error {
	switch code {
	case codeUniqueViolation:
		return ErrUniqueViolation
	case codeForeignKeyViolation:
		return ErrForeignKeyViolation
	case codeCheckViolation:
		return ErrCheckViolation
	case codeNotNullViolation:
		return ErrNotNullViolation
	default:
		return nil
	}
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsConstraintViolation returns true for foreign key, check and not null violations
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation) ||
		errors.Is(err, ErrCheckViolation) ||
		errors.Is(err, ErrNotNullViolation)
}
