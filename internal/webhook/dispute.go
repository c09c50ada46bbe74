package webhook

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
)

// handleDispute upserts a dispute record keyed by the provider dispute id.
// The payment link is best-effort: a dispute on an unknown charge is still
// recorded, just without the back-reference.
func (p *Processor) handleDispute(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	dispute, err := decodeObject[stripe.Dispute](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_dispute", err)
	}
	if dispute.ID == "" {
		return nil, terminalFailure(CodeInvalidPayload, "missing_dispute_id", nil)
	}

	var piID, chargeID string
	if dispute.PaymentIntent != nil {
		piID = dispute.PaymentIntent.ID
	}
	if dispute.Charge != nil {
		chargeID = dispute.Charge.ID
	}

	payment, err := p.resolveForDispute(ctx, piID, chargeID)
	if err != nil {
		return nil, err
	}

	params := db.DisputeParams{
		StripeDisputeID: dispute.ID,
		Amount:          dispute.Amount,
		Currency:        disputeCurrency(dispute),
		Status:          disputeStatus(dispute),
	}
	if payment != nil {
		params.PaymentID = &payment.ID
	}
	if chargeID != "" {
		params.ChargeID = &chargeID
	}
	if piID != "" {
		params.PaymentIntentID = &piID
	}
	if dispute.Reason != "" {
		reason := string(dispute.Reason)
		params.Reason = &reason
	}
	if dispute.EvidenceDetails != nil && dispute.EvidenceDetails.DueBy > 0 {
		dueBy := time.Unix(dispute.EvidenceDetails.DueBy, 0).UTC()
		params.EvidenceDueBy = &dueBy
	}
	if e.Account != "" {
		params.StripeAccountID = &e.Account
	}
	if string(e.Type) == "charge.dispute.closed" {
		closedAt := time.Now().UTC()
		params.ClosedAt = &closedAt
	}

	if err := p.payments.UpsertDispute(ctx, params); err != nil {
		return paymentIDOrNil(payment), err
	}

	if payment != nil {
		// A dispute moves money; the settlement covering the attendance has
		// to be rebuilt.
		p.effects.PaymentRefunded(payment.ID, payment.AttendanceID)
		return &payment.ID, nil
	}

	slog.Info("dispute recorded without payment link",
		"event_id", e.ID, "dispute_id", dispute.ID, "charge_id", chargeID)
	return nil, nil
}

func disputeCurrency(d *stripe.Dispute) string {
	if d.Currency == "" {
		return "jpy"
	}
	return strings.ToLower(string(d.Currency))
}

func disputeStatus(d *stripe.Dispute) string {
	if d.Status == "" {
		return "needs_response"
	}
	return string(d.Status)
}

func paymentIDOrNil(p *db.Payment) *uuid.UUID {
	if p == nil {
		return nil
	}
	return &p.ID
}
