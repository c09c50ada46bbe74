package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
	"lessonpay/internal/status"
)

// handleChargeSucceeded promotes the payment to paid with the charge's
// settlement snapshot. When the charge references a payment intent, the
// intent is re-fetched with its latest charge expanded so the snapshot
// carries balance transaction, transfer and application fee identifiers;
// fetch failures fall back to whatever the event itself carried.
func (p *Processor) handleChargeSucceeded(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	ch, err := decodeObject[stripe.Charge](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_charge", err)
	}

	enriched := ch
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		pi, fetchErr := p.fetcher.RetrievePaymentIntent(ctx, ch.PaymentIntent.ID)
		if fetchErr != nil {
			slog.Warn("payment intent enrichment failed, using event charge",
				"event_id", e.ID, "payment_intent_id", ch.PaymentIntent.ID, "error", fetchErr)
		} else if pi.LatestCharge != nil && pi.LatestCharge.ID == ch.ID {
			enriched = pi.LatestCharge
		}
	}

	payment, err := p.resolveByChargeOrFallback(ctx, paymentIntentID(ch), ch.ID, metadataValue(e, "payment_id"))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for charge",
			"event_id", e.ID, "charge_id", ch.ID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	if !status.CanPromote(payment.Status, status.Paid) {
		slog.Info("charge success ignored, would demote",
			"event_id", e.ID, "payment_id", payment.ID, "status", payment.Status)
		return &payment.ID, nil
	}

	params := db.ChargeSnapshotParams{
		PaymentID: payment.ID,
		ChargeID:  ch.ID,
		EventID:   e.ID,
	}
	if id := paymentIntentID(enriched); id != "" {
		params.PaymentIntentID = &id
	}
	if enriched.BalanceTransaction != nil && enriched.BalanceTransaction.ID != "" {
		params.BalanceTransactionID = &enriched.BalanceTransaction.ID
		if len(enriched.BalanceTransaction.FeeDetails) > 0 {
			if raw, err := json.Marshal(enriched.BalanceTransaction.FeeDetails); err == nil {
				params.FeeDetails = raw
			}
		}
	}
	if enriched.Transfer != nil && enriched.Transfer.ID != "" {
		params.TransferID = &enriched.Transfer.ID
	}
	if enriched.ApplicationFee != nil && enriched.ApplicationFee.ID != "" {
		params.ApplicationFeeID = &enriched.ApplicationFee.ID
	}

	if err := p.payments.MarkPaidFromChargeSnapshot(ctx, params); err != nil {
		return &payment.ID, err
	}

	// charge.succeeded is the canonical completion signal; notifying here
	// avoids double notices when payment_intent.succeeded also arrives.
	p.effects.PaymentCompleted(payment.ID, payment.AttendanceID, payment.Amount, "JPY")

	return &payment.ID, nil
}

// handleChargeFailed records a failed charge when the rank order allows it.
func (p *Processor) handleChargeFailed(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	ch, err := decodeObject[stripe.Charge](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_charge", err)
	}

	payment, err := p.resolveByChargeOrFallback(ctx, paymentIntentID(ch), ch.ID, metadataValue(e, "payment_id"))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for failed charge",
			"event_id", e.ID, "charge_id", ch.ID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	if !status.CanPromote(payment.Status, status.Failed) {
		slog.Info("charge failure ignored, payment already settled",
			"event_id", e.ID, "payment_id", payment.ID, "status", payment.Status)
		return &payment.ID, nil
	}

	if err := p.payments.MarkFailedFromCharge(ctx, payment.ID, ch.ID, e.ID); err != nil {
		return &payment.ID, err
	}
	return &payment.ID, nil
}

// handleChargeRefunded reconciles the refund aggregate against the charge's
// authoritative amount_refunded. The application fee aggregate is recomputed
// from the provider; if that query fails the prior stored values are kept
// rather than zeroed.
func (p *Processor) handleChargeRefunded(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	ch, err := decodeObject[stripe.Charge](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_charge", err)
	}

	payment, err := p.resolveByChargeOrFallback(ctx, paymentIntentID(ch), ch.ID, metadataValue(e, "payment_id"))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for refunded charge",
			"event_id", e.ID, "charge_id", ch.ID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	totalRefunded := ch.AmountRefunded

	var appFeeRefunded *int64
	var appFeeRefundID *string
	if ch.ApplicationFee != nil && ch.ApplicationFee.ID != "" {
		amount, latestRefundID, sumErr := p.fetcher.SumApplicationFeeRefunds(ctx, ch.ApplicationFee.ID)
		if sumErr != nil {
			slog.Warn("application fee refund sum failed, keeping stored aggregate",
				"event_id", e.ID, "application_fee_id", ch.ApplicationFee.ID, "error", sumErr)
		} else {
			appFeeRefunded = &amount
			if latestRefundID != "" {
				appFeeRefundID = &latestRefundID
			}
		}
	}

	target := payment.Status
	if totalRefunded >= payment.Amount {
		target = status.Refunded
	}
	if !status.CanPromote(payment.Status, target) {
		slog.Info("refund aggregate ignored, would demote",
			"event_id", e.ID, "payment_id", payment.ID, "status", payment.Status, "target", target)
		return &payment.ID, nil
	}

	if err := p.payments.UpdateRefundAggregate(ctx, db.RefundAggregateParams{
		PaymentID:                    payment.ID,
		Status:                       target,
		RefundedAmount:               totalRefunded,
		ApplicationFeeRefundedAmount: appFeeRefunded,
		ApplicationFeeRefundID:       appFeeRefundID,
		EventID:                      e.ID,
	}); err != nil {
		return &payment.ID, err
	}

	p.effects.PaymentRefunded(payment.ID, payment.AttendanceID)
	return &payment.ID, nil
}

// paymentIntentID extracts the intent id off a charge, tolerating both the
// id-only and the expanded representation.
func paymentIntentID(ch *stripe.Charge) string {
	if ch.PaymentIntent == nil {
		return ""
	}
	return ch.PaymentIntent.ID
}
