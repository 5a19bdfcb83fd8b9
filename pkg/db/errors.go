package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports a duplicate-key failure, optionally narrowed to
// one constraint. Postgres errors are matched on SQLSTATE; anything else
// (sqlite in tests, wrapped driver text) falls back to the message.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	if constraint != "" {
		return strings.Contains(err.Error(), constraint)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
