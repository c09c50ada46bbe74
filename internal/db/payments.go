package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lessonpay/internal/status"
)

// Payment is the fixed projection of a payments row that webhook handlers
// operate on. Provider identifiers are nullable: they are filled in
// incrementally as events arrive.
type Payment struct {
	ID                           uuid.UUID
	Status                       status.Status
	Amount                       int64
	AttendanceID                 *uuid.UUID
	PaymentIntentID              *string
	ChargeID                     *string
	CheckoutSessionID            *string
	ApplicationFeeID             *string
	ApplicationFeeRefundID       *string
	ApplicationFeeRefundedAmount int64
}

const paymentProjection = `
	SELECT id, status, amount, attendance_id,
	       stripe_payment_intent_id, stripe_charge_id,
	       stripe_checkout_session_id, stripe_application_fee_id,
	       stripe_application_fee_refund_id, application_fee_refunded_amount
	FROM payments
`

// FindPaymentByID resolves a payment by its primary key.
// All finders return (nil, nil) when no row matches: absence is an expected
// outcome for out-of-order deliveries, not an error.
func (db *DB) FindPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return db.findPayment(ctx, "find_by_id", "id", id)
}

// FindPaymentByPaymentIntentID resolves a payment by provider payment intent id.
func (db *DB) FindPaymentByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Payment, error) {
	return db.findPayment(ctx, "find_by_payment_intent_id", "stripe_payment_intent_id", paymentIntentID)
}

// FindPaymentByChargeID resolves a payment by provider charge id.
func (db *DB) FindPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error) {
	return db.findPayment(ctx, "find_by_charge_id", "stripe_charge_id", chargeID)
}

// FindPaymentByCheckoutSessionID resolves a payment by checkout session id.
func (db *DB) FindPaymentByCheckoutSessionID(ctx context.Context, sessionID string) (*Payment, error) {
	return db.findPayment(ctx, "find_by_checkout_session_id", "stripe_checkout_session_id", sessionID)
}

// FindPaymentByApplicationFeeID resolves a payment by application fee id.
func (db *DB) FindPaymentByApplicationFeeID(ctx context.Context, applicationFeeID string) (*Payment, error) {
	return db.findPayment(ctx, "find_by_application_fee_id", "stripe_application_fee_id", applicationFeeID)
}

// findPayment runs the shared projection against one key column. It fetches
// up to two rows so a duplicate under a supposedly unique key surfaces as a
// cardinality error instead of silently picking one.
func (db *DB) findPayment(ctx context.Context, op, column string, value interface{}) (*Payment, error) {
	query := fmt.Sprintf("%s WHERE %s = $1 LIMIT 2", paymentProjection, column)

	rows, err := db.pool.Query(ctx, query, value)
	if err != nil {
		return nil, wrapRepoError(op, err)
	}
	defer rows.Close()

	var found []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrapRepoError(op, err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRepoError(op, err)
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, wrapRepoError(op, errCardinality)
	}
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.Status,
		&p.Amount,
		&p.AttendanceID,
		&p.PaymentIntentID,
		&p.ChargeID,
		&p.CheckoutSessionID,
		&p.ApplicationFeeID,
		&p.ApplicationFeeRefundID,
		&p.ApplicationFeeRefundedAmount,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CheckoutLinkParams carries the identifiers learned from a completed
// checkout session.
type CheckoutLinkParams struct {
	PaymentID         uuid.UUID
	CheckoutSessionID string
	PaymentIntentID   *string
	EventID           string
}

// SaveCheckoutSessionLink stores the checkout session / payment intent link
// on a payment. Status is untouched; completion is driven by the payment
// intent and charge events.
func (db *DB) SaveCheckoutSessionLink(ctx context.Context, p CheckoutLinkParams) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET stripe_checkout_session_id = $2,
		    stripe_payment_intent_id = COALESCE($3, stripe_payment_intent_id),
		    webhook_event_id = $4,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, p.PaymentID, p.CheckoutSessionID, p.PaymentIntentID, p.EventID)
	return db.checkUpdated("save_checkout_session_link", tag.RowsAffected(), err)
}

// PaidFromIntentParams carries the fields stamped by payment_intent.succeeded.
type PaidFromIntentParams struct {
	PaymentID       uuid.UUID
	PaymentIntentID string
	ChargeID        *string
	EventID         string
}

// MarkPaidFromPaymentIntent promotes a payment to paid off a succeeded
// payment intent. paid_at keeps its first value on idempotent re-stamps.
func (db *DB) MarkPaidFromPaymentIntent(ctx context.Context, p PaidFromIntentParams) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    stripe_payment_intent_id = $3,
		    stripe_charge_id = COALESCE($4, stripe_charge_id),
		    paid_at = COALESCE(paid_at, NOW()),
		    webhook_event_id = $5,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, p.PaymentID, status.Paid, p.PaymentIntentID, p.ChargeID, p.EventID)
	return db.checkUpdated("mark_paid_from_payment_intent", tag.RowsAffected(), err)
}

// MarkFailedFromPaymentIntent records a failed or canceled payment intent.
func (db *DB) MarkFailedFromPaymentIntent(ctx context.Context, paymentID uuid.UUID, paymentIntentID, eventID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    stripe_payment_intent_id = $3,
		    webhook_event_id = $4,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, paymentID, status.Failed, paymentIntentID, eventID)
	return db.checkUpdated("mark_failed_from_payment_intent", tag.RowsAffected(), err)
}

// MarkFailedFromCheckoutSession records an expired checkout session.
func (db *DB) MarkFailedFromCheckoutSession(ctx context.Context, paymentID uuid.UUID, sessionID, eventID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    stripe_checkout_session_id = $3,
		    webhook_event_id = $4,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, paymentID, status.Failed, sessionID, eventID)
	return db.checkUpdated("mark_failed_from_checkout_session", tag.RowsAffected(), err)
}

// ChargeSnapshotParams carries the full charge snapshot applied on
// charge.succeeded, including destination-charge settlement identifiers.
type ChargeSnapshotParams struct {
	PaymentID            uuid.UUID
	ChargeID             string
	PaymentIntentID      *string
	BalanceTransactionID *string
	FeeDetails           []byte // raw JSON, nil leaves the column untouched
	TransferID           *string
	ApplicationFeeID     *string
	EventID              string
}

// MarkPaidFromChargeSnapshot promotes a payment to paid with the charge's
// settlement identifiers.
func (db *DB) MarkPaidFromChargeSnapshot(ctx context.Context, p ChargeSnapshotParams) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    stripe_charge_id = $3,
		    stripe_payment_intent_id = COALESCE($4, stripe_payment_intent_id),
		    stripe_balance_transaction_id = COALESCE($5, stripe_balance_transaction_id),
		    fee_details = COALESCE($6, fee_details),
		    stripe_transfer_id = COALESCE($7, stripe_transfer_id),
		    stripe_application_fee_id = COALESCE($8, stripe_application_fee_id),
		    paid_at = COALESCE(paid_at, NOW()),
		    webhook_event_id = $9,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, p.PaymentID, status.Paid, p.ChargeID, p.PaymentIntentID,
		p.BalanceTransactionID, p.FeeDetails, p.TransferID, p.ApplicationFeeID, p.EventID)
	return db.checkUpdated("mark_paid_from_charge_snapshot", tag.RowsAffected(), err)
}

// MarkFailedFromCharge records a failed charge.
func (db *DB) MarkFailedFromCharge(ctx context.Context, paymentID uuid.UUID, chargeID, eventID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    stripe_charge_id = $3,
		    webhook_event_id = $4,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, paymentID, status.Failed, chargeID, eventID)
	return db.checkUpdated("mark_failed_from_charge", tag.RowsAffected(), err)
}

// RefundAggregateParams carries a reconciled refund snapshot. Nil application
// fee values preserve the prior column values (used when the provider could
// not be queried); non-nil values overwrite, including explicit zeros on
// refund reversal.
type RefundAggregateParams struct {
	PaymentID                    uuid.UUID
	Status                       status.Status
	RefundedAmount               int64
	ApplicationFeeRefundedAmount *int64
	ApplicationFeeRefundID       *string
	EventID                      string
}

// UpdateRefundAggregate persists the refund aggregate derived from the
// provider's authoritative charge snapshot.
func (db *DB) UpdateRefundAggregate(ctx context.Context, p RefundAggregateParams) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    refunded_amount = $3,
		    application_fee_refunded_amount = COALESCE($4, application_fee_refunded_amount),
		    stripe_application_fee_refund_id = COALESCE($5, stripe_application_fee_refund_id),
		    webhook_event_id = $6,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, p.PaymentID, p.Status, p.RefundedAmount,
		p.ApplicationFeeRefundedAmount, p.ApplicationFeeRefundID, p.EventID)
	return db.checkUpdated("update_refund_aggregate", tag.RowsAffected(), err)
}

// UpdateApplicationFeeRefundAggregate persists the application fee refund
// aggregate without touching payment status or refunded_amount.
func (db *DB) UpdateApplicationFeeRefundAggregate(ctx context.Context, paymentID uuid.UUID, amount int64, refundID *string, eventID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE payments
		SET application_fee_refunded_amount = $2,
		    stripe_application_fee_refund_id = COALESCE($3, stripe_application_fee_refund_id),
		    webhook_event_id = $4,
		    webhook_processed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, paymentID, amount, refundID, eventID)
	return db.checkUpdated("update_application_fee_refund_aggregate", tag.RowsAffected(), err)
}

// checkUpdated folds an updater's (tag, err) pair into the repository error
// taxonomy. Zero rows affected after a successful resolve means the row
// vanished mid-flight; surfaced as retryable so the redelivery re-resolves.
func (db *DB) checkUpdated(op string, rowsAffected int64, err error) error {
	if err != nil {
		return wrapRepoError(op, err)
	}
	if rowsAffected == 0 {
		return &RepositoryError{
			Op:       op,
			Category: CategoryUnknown,
			Terminal: false,
			Err:      errors.New("no payment row updated"),
		}
	}
	return nil
}
