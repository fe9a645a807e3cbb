package db

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrorKind tags storage failures at the adapter boundary so upper layers
// never branch on raw driver strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDuplicateKey
	KindForeignKey
	KindNotFound
	KindTransient
)

// Classify maps a storage error to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case IsDuplicateKeyErr(err):
		return KindDuplicateKey
	case isForeignKeyErr(err):
		return KindForeignKey
	case errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	default:
		return KindUnknown
	}
}

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
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

func isForeignKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	// PostgreSQL (error code 23503)
	if strings.Contains(err.Error(), "violates foreign key constraint") {
		return true
	}

	// MySQL (error codes 1451/1452)
	if strings.Contains(err.Error(), "Error 1451") || strings.Contains(err.Error(), "Error 1452") {
		return true
	}

	// SQLite
	if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return true
	}

	return false
}
