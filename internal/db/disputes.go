package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DisputeParams is the upsert payload for a provider dispute. The provider
// dispute id is the natural key; repeated events for the same dispute update
// the row in place.
type DisputeParams struct {
	StripeDisputeID string
	PaymentID       *uuid.UUID
	ChargeID        *string
	PaymentIntentID *string
	Amount          int64
	Currency        string
	Reason          *string
	Status          string
	EvidenceDueBy   *time.Time
	StripeAccountID *string
	ClosedAt        *time.Time
}

// UpsertDispute inserts or refreshes a dispute record. Identifier links and
// closed_at only ever gain information: a later event without them never
// clears what an earlier event established.
func (db *DB) UpsertDispute(ctx context.Context, p DisputeParams) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO payment_disputes (
			id, stripe_dispute_id, payment_id, charge_id, payment_intent_id,
			amount, currency, reason, status, evidence_due_by,
			stripe_account_id, closed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (stripe_dispute_id) DO UPDATE SET
			payment_id        = COALESCE(EXCLUDED.payment_id, payment_disputes.payment_id),
			charge_id         = COALESCE(EXCLUDED.charge_id, payment_disputes.charge_id),
			payment_intent_id = COALESCE(EXCLUDED.payment_intent_id, payment_disputes.payment_intent_id),
			amount            = EXCLUDED.amount,
			currency          = EXCLUDED.currency,
			reason            = COALESCE(EXCLUDED.reason, payment_disputes.reason),
			status            = EXCLUDED.status,
			evidence_due_by   = COALESCE(EXCLUDED.evidence_due_by, payment_disputes.evidence_due_by),
			stripe_account_id = COALESCE(EXCLUDED.stripe_account_id, payment_disputes.stripe_account_id),
			closed_at         = COALESCE(EXCLUDED.closed_at, payment_disputes.closed_at),
			updated_at        = NOW()
	`, uuid.New(), p.StripeDisputeID, p.PaymentID, p.ChargeID, p.PaymentIntentID,
		p.Amount, p.Currency, p.Reason, p.Status, p.EvidenceDueBy,
		p.StripeAccountID, p.ClosedAt)
	return wrapRepoError("upsert_dispute", err)
}

// FindDisputeByStripeID returns a dispute row by provider id, or nil.
// Used by tests and the ops CLI.
func (db *DB) FindDisputeByStripeID(ctx context.Context, stripeDisputeID string) (*Dispute, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT stripe_dispute_id, payment_id, charge_id, payment_intent_id,
		       amount, currency, reason, status, evidence_due_by,
		       stripe_account_id, closed_at, updated_at
		FROM payment_disputes
		WHERE stripe_dispute_id = $1
	`, stripeDisputeID)
	if err != nil {
		return nil, wrapRepoError("find_dispute", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapRepoError("find_dispute", err)
		}
		return nil, nil
	}

	var d Dispute
	err = rows.Scan(
		&d.StripeDisputeID,
		&d.PaymentID,
		&d.ChargeID,
		&d.PaymentIntentID,
		&d.Amount,
		&d.Currency,
		&d.Reason,
		&d.Status,
		&d.EvidenceDueBy,
		&d.StripeAccountID,
		&d.ClosedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, wrapRepoError("find_dispute", err)
	}
	return &d, nil
}

// Dispute is a stored dispute record.
type Dispute struct {
	StripeDisputeID string
	PaymentID       *uuid.UUID
	ChargeID        *string
	PaymentIntentID *string
	Amount          int64
	Currency        string
	Reason          *string
	Status          string
	EvidenceDueBy   *time.Time
	StripeAccountID *string
	ClosedAt        *time.Time
	UpdatedAt       time.Time
}
