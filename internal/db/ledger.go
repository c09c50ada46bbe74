package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// LedgerStaleTimeout is how long a `processing` claim may hold before a
// redelivery is allowed to reclaim the row. Workers must finish (or give up)
// well inside this window.
const LedgerStaleTimeout = 5 * time.Minute

// beginMaxAttempts bounds the claim loop against concurrent inserts/claims.
const beginMaxAttempts = 5

// LedgerStatus is the processing lifecycle of one provider event id.
type LedgerStatus string

const (
	LedgerProcessing LedgerStatus = "processing"
	LedgerSucceeded  LedgerStatus = "succeeded"
	LedgerFailed     LedgerStatus = "failed"
)

// BeginAction tells the orchestrator what to do with a delivery.
type BeginAction string

const (
	ActionProcess                 BeginAction = "process"
	ActionDuplicateSucceeded      BeginAction = "ack_duplicate_succeeded"
	ActionDuplicateInProgress     BeginAction = "ack_duplicate_in_progress"
	ActionDuplicateFailedTerminal BeginAction = "ack_duplicate_failed_terminal"
)

// ErrLedgerContention is returned when the claim loop exhausts its attempts.
// Always retryable.
var ErrLedgerContention = errors.New("webhook ledger claim contention")

// codeInvalidPayload mirrors the webhook engine's invalid-payload error code.
// A failed row carrying it can never succeed on redelivery, so it is
// absorbing for its event id.
const codeInvalidPayload = "WEBHOOK_INVALID_PAYLOAD"

// LedgerEntry is one row of the webhook event ledger.
type LedgerEntry struct {
	StripeEventID     string
	EventType         string
	StripeObjectID    string
	DedupeKey         string
	ProcessingStatus  LedgerStatus
	IsTerminalFailure bool
	LastErrorCode     *string
	LastErrorReason   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ProcessedAt       *time.Time
}

// IsTerminal reports whether a failed entry is absorbing for its event id.
// Besides the explicit flag, invalid-payload and SQLSTATE 22/23 error codes
// are terminal by definition: redelivering the same payload reproduces them.
func (e *LedgerEntry) IsTerminal() bool {
	if e.IsTerminalFailure {
		return true
	}
	if e.LastErrorCode == nil {
		return false
	}
	code := *e.LastErrorCode
	return code == codeInvalidPayload || strings.HasPrefix(code, "22") || strings.HasPrefix(code, "23")
}

// BeginDecision is the outcome of BeginProcessing.
type BeginDecision struct {
	Action          BeginAction
	DedupeKey       string
	ObjectID        string
	Status          LedgerStatus
	LastErrorCode   *string
	LastErrorReason *string
}

// DedupeKey builds the observability key for an (event type, object id) pair.
func DedupeKey(eventType, objectID string) string {
	if objectID == "" {
		objectID = "unknown"
	}
	return eventType + ":" + objectID
}

// BeginProcessing claims an event id for processing, or reports why the
// delivery is a duplicate. The unique index on stripe_event_id plus the
// conditional claim UPDATE implement a compare-and-swap: exactly one worker
// may hold a fresh `processing` claim at a time. Collisions loop at most
// beginMaxAttempts times before surfacing ledger contention (retryable).
func (db *DB) BeginProcessing(ctx context.Context, eventID, eventType, objectID string) (*BeginDecision, error) {
	dedupeKey := DedupeKey(eventType, objectID)

	for attempt := 0; attempt < beginMaxAttempts; attempt++ {
		entry, err := db.getLedgerEntry(ctx, eventID)
		if err != nil {
			return nil, wrapLedgerError("begin_processing_read", err)
		}

		if entry == nil {
			inserted, err := db.insertLedgerEntry(ctx, eventID, eventType, objectID, dedupeKey)
			if err != nil {
				return nil, err
			}
			if !inserted {
				// Lost the insert race, re-read and re-evaluate.
				continue
			}
			return &BeginDecision{Action: ActionProcess, DedupeKey: dedupeKey, ObjectID: objectID, Status: LedgerProcessing}, nil
		}

		switch entry.ProcessingStatus {
		case LedgerSucceeded:
			return duplicateDecision(ActionDuplicateSucceeded, entry), nil

		case LedgerProcessing:
			if time.Since(entry.UpdatedAt) < LedgerStaleTimeout {
				return duplicateDecision(ActionDuplicateInProgress, entry), nil
			}
			claimed, err := db.claimStaleProcessing(ctx, eventID)
			if err != nil {
				return nil, err
			}
			if claimed {
				return &BeginDecision{Action: ActionProcess, DedupeKey: dedupeKey, ObjectID: objectID, Status: LedgerProcessing}, nil
			}

		case LedgerFailed:
			if entry.IsTerminal() {
				return duplicateDecision(ActionDuplicateFailedTerminal, entry), nil
			}
			claimed, err := db.claimFailedRetry(ctx, eventID)
			if err != nil {
				return nil, err
			}
			if claimed {
				return &BeginDecision{Action: ActionProcess, DedupeKey: dedupeKey, ObjectID: objectID, Status: LedgerProcessing}, nil
			}
		}
		// Zero rows affected: another worker won the claim. Loop and re-read.
	}

	return nil, &LedgerFailure{Op: "begin_processing", Code: "ledger_contention", Err: ErrLedgerContention}
}

func duplicateDecision(action BeginAction, entry *LedgerEntry) *BeginDecision {
	return &BeginDecision{
		Action:          action,
		DedupeKey:       entry.DedupeKey,
		ObjectID:        entry.StripeObjectID,
		Status:          entry.ProcessingStatus,
		LastErrorCode:   entry.LastErrorCode,
		LastErrorReason: entry.LastErrorReason,
	}
}

// insertLedgerEntry inserts a fresh processing row. Returns false (without
// error) when a concurrent delivery inserted the event id first.
func (db *DB) insertLedgerEntry(ctx context.Context, eventID, eventType, objectID, dedupeKey string) (bool, error) {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO webhook_event_ledger (
			stripe_event_id, event_type, stripe_object_id, dedupe_key,
			processing_status, is_terminal_failure, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
	`, eventID, eventType, objectID, dedupeKey, LedgerProcessing)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, wrapLedgerError("begin_processing_insert", err)
	}
	return true, nil
}

// claimStaleProcessing reclaims an abandoned processing row. The staleness
// predicate is part of the WHERE clause so a concurrent heartbeat or claim
// makes this a no-op.
func (db *DB) claimStaleProcessing(ctx context.Context, eventID string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE webhook_event_ledger
		SET processing_status = $2,
		    is_terminal_failure = FALSE,
		    last_error_code = NULL,
		    last_error_reason = NULL,
		    updated_at = NOW()
		WHERE stripe_event_id = $1
		  AND processing_status = $2
		  AND updated_at <= NOW() - INTERVAL '5 minutes'
	`, eventID, LedgerProcessing)
	if err != nil {
		return false, wrapLedgerError("begin_processing_claim_stale", err)
	}
	return tag.RowsAffected() > 0, nil
}

// claimFailedRetry reclaims a non-terminal failed row for another attempt.
func (db *DB) claimFailedRetry(ctx context.Context, eventID string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE webhook_event_ledger
		SET processing_status = $2,
		    is_terminal_failure = FALSE,
		    last_error_code = NULL,
		    last_error_reason = NULL,
		    updated_at = NOW()
		WHERE stripe_event_id = $1
		  AND processing_status = $3
		  AND is_terminal_failure = FALSE
	`, eventID, LedgerProcessing, LedgerFailed)
	if err != nil {
		return false, wrapLedgerError("begin_processing_claim_failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkLedgerSucceeded transitions a claimed event to its absorbing success
// state. A missing row means the claim protocol was violated somewhere, so
// it is a hard failure rather than a silent no-op.
func (db *DB) MarkLedgerSucceeded(ctx context.Context, eventID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE webhook_event_ledger
		SET processing_status = $2,
		    processed_at = NOW(),
		    updated_at = NOW()
		WHERE stripe_event_id = $1
	`, eventID, LedgerSucceeded)
	if err != nil {
		return wrapLedgerError("mark_succeeded", err)
	}
	if tag.RowsAffected() == 0 {
		return &LedgerFailure{Op: "mark_succeeded", Err: errors.New("ledger row missing for event " + eventID)}
	}
	return nil
}

// MarkLedgerFailed records a processing failure, terminal or retryable.
func (db *DB) MarkLedgerFailed(ctx context.Context, eventID, errorCode, reason string, terminal bool) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE webhook_event_ledger
		SET processing_status = $2,
		    is_terminal_failure = $3,
		    last_error_code = $4,
		    last_error_reason = $5,
		    processed_at = NOW(),
		    updated_at = NOW()
		WHERE stripe_event_id = $1
	`, eventID, LedgerFailed, terminal, errorCode, reason)
	if err != nil {
		return wrapLedgerError("mark_failed", err)
	}
	if tag.RowsAffected() == 0 {
		return &LedgerFailure{Op: "mark_failed", Err: errors.New("ledger row missing for event " + eventID)}
	}
	return nil
}

// FindLatestLedgerEntryByDedupeKey returns the newest prior row sharing a
// dedupe key, or nil. Only used to warn when the provider re-emits the same
// (event type, object id) under a fresh event id.
func (db *DB) FindLatestLedgerEntryByDedupeKey(ctx context.Context, dedupeKey, excludingEventID string) (*LedgerEntry, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT stripe_event_id, event_type, stripe_object_id, dedupe_key,
		       processing_status, is_terminal_failure, last_error_code,
		       last_error_reason, created_at, updated_at, processed_at
		FROM webhook_event_ledger
		WHERE dedupe_key = $1 AND stripe_event_id <> $2
		ORDER BY created_at DESC
		LIMIT 1
	`, dedupeKey, excludingEventID)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapLedgerError("find_by_dedupe_key", err)
	}
	return entry, nil
}

// CleanupLedgerEntries removes settled ledger rows older than the retention
// window. Rows still in processing are never removed here; the stale-claim
// path owns those.
func (db *DB) CleanupLedgerEntries(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := db.pool.Exec(ctx, `
		DELETE FROM webhook_event_ledger
		WHERE processing_status <> $1
		  AND updated_at < NOW() - make_interval(days => $2)
	`, LedgerProcessing, retentionDays)
	if err != nil {
		return 0, wrapLedgerError("cleanup", err)
	}
	return tag.RowsAffected(), nil
}

func (db *DB) getLedgerEntry(ctx context.Context, eventID string) (*LedgerEntry, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT stripe_event_id, event_type, stripe_object_id, dedupe_key,
		       processing_status, is_terminal_failure, last_error_code,
		       last_error_reason, created_at, updated_at, processed_at
		FROM webhook_event_ledger
		WHERE stripe_event_id = $1
	`, eventID)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func scanLedgerEntry(row pgx.Row) (*LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(
		&e.StripeEventID,
		&e.EventType,
		&e.StripeObjectID,
		&e.DedupeKey,
		&e.ProcessingStatus,
		&e.IsTerminalFailure,
		&e.LastErrorCode,
		&e.LastErrorReason,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
