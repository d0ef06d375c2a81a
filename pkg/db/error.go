package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, pgUniqueViolation) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryable reports whether the whole transaction can be replayed safely: the
// database aborted it before commit because of contention.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, pgSerializationFailure) ||
		hasPGCode(err, pgDeadlockDetected) ||
		hasPGCode(err, pgLockNotAvailable) {
		return true
	}

	msg := err.Error()
	// MySQL 1213 deadlock, 1205 lock wait timeout.
	if strings.Contains(msg, "Error 1213") || strings.Contains(msg, "Error 1205") {
		return true
	}
	// SQLite SQLITE_BUSY / SQLITE_LOCKED.
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// Classify maps a store error to a low-cardinality label for logs and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "deadline_exceeded"
	case hasPGCode(err, pgSerializationFailure):
		return "serialization_failure"
	case hasPGCode(err, pgDeadlockDetected):
		return "deadlock"
	case hasPGCode(err, pgLockNotAvailable):
		return "lock_timeout"
	case IsDuplicateKeyErr(err):
		return "unique_violation"
	case IsRetryable(err):
		return "contention"
	default:
		return "unknown"
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
