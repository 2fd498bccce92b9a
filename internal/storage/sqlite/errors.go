package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/borjamoskv/cortex/internal/guard"
)

// Sentinel errors for common engine conditions
var (
	// ErrNotFound indicates the requested fact, transaction, or entity
	// was not found in the database
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller contract violation (empty
	// project, oversize content, invalid fact_type, invalid id). It is
	// the guard's sentinel so boundary rejections and storage-level
	// rejections test identically.
	ErrInvalidInput = guard.ErrInvalidInput

	// ErrResourceExhausted indicates connection acquisition timed out or
	// the pool is saturated; callers may retry with backoff
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrBackendUnavailable indicates an optional backend (vector index,
	// remote graph) is not available; reads degrade instead of failing
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrIntegrityViolation indicates a ledger chain or Merkle mismatch;
	// recorded in integrity_checks and never silently repaired
	ErrIntegrityViolation = errors.New("integrity violation")
)

// wrapDBError wraps a database error with operation context
// It converts sql.ErrNoRows to ErrNotFound for consistent error handling
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isNotFound checks if an error is or wraps ErrNotFound
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
