package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
)

// Processor is the orchestrator: it claims the event in the ledger, routes it
// to the family handler, and records the outcome. One Processor serves all
// workers; it holds no per-event state.
type Processor struct {
	ledger   Ledger
	payments PaymentStore
	fetcher  ProviderFetcher
	effects  SideEffects
}

// NewProcessor wires the processor to its collaborators.
func NewProcessor(ledger Ledger, payments PaymentStore, fetcher ProviderFetcher, effects SideEffects) *Processor {
	return &Processor{
		ledger:   ledger,
		payments: payments,
		fetcher:  fetcher,
		effects:  effects,
	}
}

// handlerFunc applies one event family. A nil error means the event's effect
// is fully applied (including the ACK-without-change paths).
type handlerFunc func(ctx context.Context, e *stripe.Event) (*uuid.UUID, error)

// Process runs one delivery end to end. It never panics outward and always
// returns a Result the transport can map to an HTTP status.
func (p *Processor) Process(ctx context.Context, e *stripe.Event) *Result {
	objectID := eventObjectID(e)
	eventType := string(e.Type)

	decision, err := p.ledger.BeginProcessing(ctx, e.ID, eventType, objectID)
	if err != nil {
		slog.Error("ledger begin failed", "event_id", e.ID, "event_type", eventType, "error", err)
		return failResult(e.ID, nil, ledgerFailure(err))
	}

	switch decision.Action {
	case db.ActionDuplicateSucceeded:
		slog.Info("duplicate delivery of succeeded event", "event_id", e.ID, "event_type", eventType)
		return okResult(e.ID, nil)

	case db.ActionDuplicateInProgress:
		slog.Warn("event already in progress", "event_id", e.ID, "event_type", eventType)
		return failResult(e.ID, nil, retryableFailure(CodeUnexpectedError, "webhook_event_in_progress", nil))

	case db.ActionDuplicateFailedTerminal:
		slog.Warn("duplicate delivery of terminally failed event",
			"event_id", e.ID, "event_type", eventType,
			"last_error_code", strOrEmpty(decision.LastErrorCode))
		f := terminalFailure(strOrDefault(decision.LastErrorCode, CodeUnexpectedError),
			strOrDefault(decision.LastErrorReason, "duplicate_failed_terminal"), nil)
		return failResult(e.ID, nil, f)
	}

	p.warnOnDedupeRecurrence(ctx, decision.DedupeKey, e.ID)

	paymentID, handlerErr := p.route(eventType)(ctx, e)
	if handlerErr == nil {
		if err := p.ledger.MarkLedgerSucceeded(ctx, e.ID); err != nil {
			slog.Error("failed to mark ledger succeeded", "event_id", e.ID, "error", err)
			return failResult(e.ID, paymentID, ledgerFailure(err))
		}
		return okResult(e.ID, paymentID)
	}

	failure := p.classifyHandlerError(handlerErr)

	// A ledger failure inside a handler means the ledger itself is unhealthy;
	// marking it failed would fail the same way.
	var lf *db.LedgerFailure
	if !errors.As(handlerErr, &lf) {
		if err := p.ledger.MarkLedgerFailed(ctx, e.ID, failure.Code, failure.Reason, failure.Terminal); err != nil {
			slog.Error("failed to mark ledger failed", "event_id", e.ID, "error", err)
		}
	}

	slog.Error("webhook processing failed",
		"event_id", e.ID,
		"event_type", eventType,
		"error_code", failure.Code,
		"reason", failure.Reason,
		"terminal", failure.Terminal,
		"error", handlerErr,
	)
	return failResult(e.ID, paymentID, failure)
}

// route maps an event type to its handler. Unrecognized types are
// acknowledged so the provider does not redeliver events we will never use.
func (p *Processor) route(eventType string) handlerFunc {
	switch eventType {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted
	case "checkout.session.expired":
		return p.handleCheckoutExpired
	case "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed":
		return p.handleCheckoutAsyncInfo

	case "payment_intent.succeeded":
		return p.handlePaymentIntentSucceeded
	case "payment_intent.payment_failed",
		"payment_intent.canceled":
		return p.handlePaymentIntentFailed

	case "charge.succeeded":
		return p.handleChargeSucceeded
	case "charge.failed":
		return p.handleChargeFailed
	case "charge.refunded":
		return p.handleChargeRefunded

	case "refund.created", "charge.refund.created":
		return p.handleRefundCreated
	case "refund.updated", "charge.refund.updated":
		return p.handleRefundUpdated
	case "refund.failed":
		return p.handleRefundFailed

	case "application_fee.refunded", "application_fee.refund.updated":
		return p.handleApplicationFeeRefund

	case "charge.dispute.created",
		"charge.dispute.closed",
		"charge.dispute.updated",
		"charge.dispute.funds_reinstated":
		return p.handleDispute

	case "transfer.created", "transfer.updated", "transfer.reversed":
		return ackIgnore(slog.LevelInfo)

	default:
		return ackIgnore(slog.LevelWarn)
	}
}

// ackIgnore acknowledges an event without touching any state.
func ackIgnore(level slog.Level) handlerFunc {
	return func(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
		slog.Log(ctx, level, "ignoring event type", "event_id", e.ID, "event_type", e.Type)
		return nil, nil
	}
}

// classifyHandlerError folds a handler error into the failure taxonomy.
func (p *Processor) classifyHandlerError(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var repoErr *db.RepositoryError
	if errors.As(err, &repoErr) {
		return &Failure{
			Code:     fmt.Sprintf("payment_repository_%s_%s_failed", repoErr.Op, repoErr.Category),
			Reason:   repoErr.Error(),
			Terminal: repoErr.Terminal,
			Err:      err,
		}
	}

	var lf *db.LedgerFailure
	if errors.As(err, &lf) {
		return ledgerFailure(err)
	}

	return retryableFailure(CodeUnexpectedError, "unexpected_error", err)
}

// ledgerFailure wraps a ledger-store error. Always retryable: the event is
// redelivered and the claim protocol re-run.
func ledgerFailure(err error) *Failure {
	reason := "ledger_error"
	var lf *db.LedgerFailure
	if errors.As(err, &lf) && lf.Code != "" {
		reason = lf.Code
	}
	return retryableFailure(CodeUnexpectedError, reason, err)
}

// warnOnDedupeRecurrence flags a provider re-emitting the same
// (event type, object id) under a fresh event id. Observability only.
func (p *Processor) warnOnDedupeRecurrence(ctx context.Context, dedupeKey, eventID string) {
	prior, err := p.ledger.FindLatestLedgerEntryByDedupeKey(ctx, dedupeKey, eventID)
	if err != nil {
		slog.Debug("dedupe key lookup failed", "dedupe_key", dedupeKey, "error", err)
		return
	}
	if prior != nil {
		slog.Warn("dedupe key seen under a different event id",
			"dedupe_key", dedupeKey,
			"event_id", eventID,
			"prior_event_id", prior.StripeEventID,
			"prior_status", prior.ProcessingStatus,
		)
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strOrDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
