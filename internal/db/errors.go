package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCategory classifies a database failure for retry policy decisions.
type ErrorCategory string

const (
	// CategoryIntegrity covers SQLSTATE 22xx (data exception) and 23xx
	// (constraint violation). Retrying the same event cannot succeed.
	CategoryIntegrity ErrorCategory = "integrity"
	// CategoryCardinality marks a multi-row result where a single row was
	// expected. Treated as a data corruption signal, never retried.
	CategoryCardinality ErrorCategory = "cardinality"
	// CategoryTransient covers connection loss, timeouts and resource
	// exhaustion. Safe to retry.
	CategoryTransient ErrorCategory = "transient"
	// CategoryUnknown is everything else. Retried by default.
	CategoryUnknown ErrorCategory = "unknown"
)

// RepositoryError wraps a payments-table failure with enough structure for
// the orchestrator to decide between ACK and retry.
type RepositoryError struct {
	Op       string
	Code     string
	Category ErrorCategory
	Terminal bool
	Err      error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("payment repository %s failed (%s/%s): %v", e.Op, e.Code, e.Category, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// LedgerFailure wraps a webhook event ledger write failure. Ledger failures
// are always retryable: the event will be redelivered and the ledger row
// re-claimed.
type LedgerFailure struct {
	Op         string
	Code       string
	Constraint string
	Details    string
	Err        error
}

func (e *LedgerFailure) Error() string {
	return fmt.Sprintf("webhook ledger %s failed (%s): %v", e.Op, e.Code, e.Err)
}

func (e *LedgerFailure) Unwrap() error {
	return e.Err
}

// errCardinality is the sentinel used by finders when a supposedly unique
// key matches more than one payment row.
var errCardinality = errors.New("multiple rows matched a unique key")

// sqlstateIntegrity reports whether a SQLSTATE belongs to the data exception
// or constraint violation classes.
func sqlstateIntegrity(code string) bool {
	return strings.HasPrefix(code, "22") || strings.HasPrefix(code, "23")
}

// sqlstateTransient reports whether a SQLSTATE indicates a failure that a
// redelivery can reasonably expect to survive: connection errors (08),
// insufficient resources (53), operator intervention (57, includes
// query_canceled) and serialization failures (40).
func sqlstateTransient(code string) bool {
	return strings.HasPrefix(code, "08") ||
		strings.HasPrefix(code, "53") ||
		strings.HasPrefix(code, "57") ||
		strings.HasPrefix(code, "40")
}

// classify maps an error from the payments table into a category.
func classify(err error) (ErrorCategory, string) {
	if errors.Is(err, errCardinality) {
		return CategoryCardinality, ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case sqlstateIntegrity(pgErr.Code):
			return CategoryIntegrity, pgErr.Code
		case sqlstateTransient(pgErr.Code):
			return CategoryTransient, pgErr.Code
		default:
			return CategoryUnknown, pgErr.Code
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient, ""
	}
	if pgconn.Timeout(err) {
		return CategoryTransient, ""
	}

	return CategoryUnknown, ""
}

// wrapRepoError converts a raw payments-table error into a RepositoryError.
// Integrity and cardinality failures are terminal; transient and unknown
// failures ask the transport to redeliver.
func wrapRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	category, code := classify(err)
	return &RepositoryError{
		Op:       op,
		Code:     code,
		Category: category,
		Terminal: category == CategoryIntegrity || category == CategoryCardinality,
		Err:      err,
	}
}

// wrapLedgerError converts a raw ledger-table error into a LedgerFailure.
func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &LedgerFailure{
			Op:         op,
			Code:       pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Details:    pgErr.Detail,
			Err:        err,
		}
	}
	return &LedgerFailure{Op: op, Err: err}
}
