package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// isDuplicateKeyError checks if the error is a unique constraint violation
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// PostgreSQL: "duplicate key value violates unique constraint" (SQLSTATE 23505)
	// SQLite: "UNIQUE constraint failed"
	return strings.Contains(errStr, "duplicate key value") ||
		strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "UNIQUE constraint") ||
		strings.Contains(errStr, "23505")
}

// mapDBError converts driver errors into domain errors. It returns nil for
// errors it does not recognise so the caller can wrap them with context.
func mapDBError(err error, entity, id, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound(entity, id)
	case isDuplicateKeyError(err):
		return &domain.DuplicateKeyError{Entity: entity, Key: key}
	default:
		return nil
	}
}

// nullable maps an empty actor to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
