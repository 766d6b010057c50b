package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE classes. Class 08 is connection failures, class 40
// is transaction rollbacks (serialization failures, deadlocks).
const (
	pgUniqueViolation = "23505"
	pgClassConnection = "08"
	pgClassTxRollback = "40"
)

// IsDuplicateKey reports whether err is a unique-constraint violation,
// for either supported dialect.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// SQLite reports unique violations as plain errors.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsTransient reports whether err is worth one retry with identical
// inputs: connection drops, serialization failures, and deadlocks.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, pgClassConnection) ||
			strings.HasPrefix(pgErr.Code, pgClassTxRollback)
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "database is locked")
}
