package webhook

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
	"lessonpay/internal/status"
)

// handlePaymentIntentSucceeded promotes the payment to paid after validating
// the intent against the recorded amount and currency.
func (p *Processor) handlePaymentIntentSucceeded(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	pi, err := decodeObject[stripe.PaymentIntent](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_payment_intent", err)
	}

	payment, err := p.resolveByPaymentIntentOrMetadata(ctx, pi.ID, metadataValue(e, "payment_id"))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for payment intent",
			"event_id", e.ID, "payment_intent_id", pi.ID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	// A mismatched amount or a non-JPY currency means the intent does not
	// belong to this payment. Redelivery cannot fix that.
	if pi.Amount != 0 && payment.Amount != 0 && pi.Amount != payment.Amount {
		return &payment.ID, terminalFailure(CodeInvalidPayload, "amount_currency_mismatch", nil)
	}
	if pi.Currency != "" && pi.Currency != stripe.CurrencyJPY {
		return &payment.ID, terminalFailure(CodeInvalidPayload, "amount_currency_mismatch", nil)
	}

	if !status.CanPromote(payment.Status, status.Paid) {
		slog.Info("payment intent success ignored, would demote",
			"event_id", e.ID, "payment_id", payment.ID, "status", payment.Status)
		return &payment.ID, nil
	}

	var chargeID *string
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		chargeID = &pi.LatestCharge.ID
	}

	if err := p.payments.MarkPaidFromPaymentIntent(ctx, db.PaidFromIntentParams{
		PaymentID:       payment.ID,
		PaymentIntentID: pi.ID,
		ChargeID:        chargeID,
		EventID:         e.ID,
	}); err != nil {
		return &payment.ID, err
	}
	return &payment.ID, nil
}

// handlePaymentIntentFailed covers payment_intent.payment_failed and
// payment_intent.canceled.
func (p *Processor) handlePaymentIntentFailed(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	pi, err := decodeObject[stripe.PaymentIntent](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_payment_intent", err)
	}

	payment, err := p.resolveByPaymentIntentOrMetadata(ctx, pi.ID, metadataValue(e, "payment_id"))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for failed payment intent",
			"event_id", e.ID, "payment_intent_id", pi.ID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	if !status.CanPromote(payment.Status, status.Failed) {
		slog.Info("payment intent failure ignored, payment already settled",
			"event_id", e.ID, "payment_id", payment.ID, "status", payment.Status)
		return &payment.ID, nil
	}

	if err := p.payments.MarkFailedFromPaymentIntent(ctx, payment.ID, pi.ID, e.ID); err != nil {
		return &payment.ID, err
	}
	return &payment.ID, nil
}
