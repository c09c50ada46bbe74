package webhook

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
)

// Ledger is the event ledger surface the processor drives. *db.DB satisfies it.
type Ledger interface {
	BeginProcessing(ctx context.Context, eventID, eventType, objectID string) (*db.BeginDecision, error)
	MarkLedgerSucceeded(ctx context.Context, eventID string) error
	MarkLedgerFailed(ctx context.Context, eventID, errorCode, reason string, terminal bool) error
	FindLatestLedgerEntryByDedupeKey(ctx context.Context, dedupeKey, excludingEventID string) (*db.LedgerEntry, error)
}

// PaymentStore is the payments-table surface the handlers use. *db.DB
// satisfies it.
type PaymentStore interface {
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*db.Payment, error)
	FindPaymentByPaymentIntentID(ctx context.Context, paymentIntentID string) (*db.Payment, error)
	FindPaymentByChargeID(ctx context.Context, chargeID string) (*db.Payment, error)
	FindPaymentByCheckoutSessionID(ctx context.Context, sessionID string) (*db.Payment, error)
	FindPaymentByApplicationFeeID(ctx context.Context, applicationFeeID string) (*db.Payment, error)

	SaveCheckoutSessionLink(ctx context.Context, p db.CheckoutLinkParams) error
	MarkPaidFromPaymentIntent(ctx context.Context, p db.PaidFromIntentParams) error
	MarkFailedFromPaymentIntent(ctx context.Context, paymentID uuid.UUID, paymentIntentID, eventID string) error
	MarkFailedFromCheckoutSession(ctx context.Context, paymentID uuid.UUID, sessionID, eventID string) error
	MarkPaidFromChargeSnapshot(ctx context.Context, p db.ChargeSnapshotParams) error
	MarkFailedFromCharge(ctx context.Context, paymentID uuid.UUID, chargeID, eventID string) error
	UpdateRefundAggregate(ctx context.Context, p db.RefundAggregateParams) error
	UpdateApplicationFeeRefundAggregate(ctx context.Context, paymentID uuid.UUID, amount int64, refundID *string, eventID string) error
	UpsertDispute(ctx context.Context, p db.DisputeParams) error
}

// ProviderFetcher retrieves authoritative provider state during processing.
// stripefetch.Service satisfies it.
type ProviderFetcher interface {
	RetrieveCharge(ctx context.Context, chargeID string) (*stripe.Charge, error)
	RetrievePaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error)
	SumApplicationFeeRefunds(ctx context.Context, applicationFeeID string) (int64, string, error)
}

// SideEffects schedules fire-and-forget work. Implementations must never
// block and never report failure to the caller. effects.Hub satisfies it.
type SideEffects interface {
	PaymentCompleted(paymentID uuid.UUID, attendanceID *uuid.UUID, amount int64, currency string)
	PaymentRefunded(paymentID uuid.UUID, attendanceID *uuid.UUID)
	TrackCheckout(gaClientID string, paymentID uuid.UUID, amount int64, currency string)
}
