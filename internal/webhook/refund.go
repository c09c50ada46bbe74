package webhook

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
	"lessonpay/internal/status"
)

// handleRefundCreated only logs: charge.refunded carries the authoritative
// aggregate and arrives for the same refund.
func (p *Processor) handleRefundCreated(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	slog.Info("refund created", "event_id", e.ID, "event_type", e.Type)
	return nil, nil
}

// handleRefundUpdated resyncs the refund aggregate when a refund was
// canceled or failed after charge.refunded already applied it. Demotion
// (refunded back to paid) is explicitly allowed on this path.
func (p *Processor) handleRefundUpdated(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	refund, err := decodeObject[stripe.Refund](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_refund", err)
	}

	if refund.Status != stripe.RefundStatusCanceled && refund.Status != stripe.RefundStatusFailed {
		slog.Info("refund update needs no resync",
			"event_id", e.ID, "refund_id", refund.ID, "refund_status", refund.Status)
		return nil, nil
	}

	return p.resyncFromRefund(ctx, e, refund)
}

// handleRefundFailed is the failed counterpart of handleRefundUpdated.
func (p *Processor) handleRefundFailed(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	refund, err := decodeObject[stripe.Refund](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_refund", err)
	}
	return p.resyncFromRefund(ctx, e, refund)
}

func (p *Processor) resyncFromRefund(ctx context.Context, e *stripe.Event, refund *stripe.Refund) (*uuid.UUID, error) {
	if refund.Charge == nil || refund.Charge.ID == "" {
		return nil, terminalFailure(CodeInvalidPayload, "refund_missing_charge", nil)
	}
	return p.syncRefundAggregateByChargeID(ctx, refund.Charge.ID, e.ID, true)
}

// syncRefundAggregateByChargeID re-retrieves the charge and reapplies the
// refund aggregate from the provider's snapshot. allowDemotion authorizes the
// single legal demotion, refunded back to paid, when a previously applied
// refund was reversed. Fetch failures are retryable: the provider state is
// still authoritative, we just could not read it.
func (p *Processor) syncRefundAggregateByChargeID(ctx context.Context, chargeID, eventID string, allowDemotion bool) (*uuid.UUID, error) {
	ch, err := p.fetcher.RetrieveCharge(ctx, chargeID)
	if err != nil {
		return nil, retryableFailure(CodeUnexpectedError, "refund_resync_fetch_failed", err)
	}

	payment, err := p.resolveByChargeOrFallback(ctx, paymentIntentID(ch), ch.ID, ch.Metadata["payment_id"])
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for refund resync",
			"event_id", eventID, "charge_id", chargeID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	totalRefunded := ch.AmountRefunded

	// Unlike charge.refunded, the resync always writes the aggregate: a fee
	// id means recompute, no fee id means an explicit zero.
	var appFeeRefunded int64
	var appFeeRefundID *string
	if payment.ApplicationFeeID != nil && *payment.ApplicationFeeID != "" {
		amount, latestRefundID, sumErr := p.fetcher.SumApplicationFeeRefunds(ctx, *payment.ApplicationFeeID)
		if sumErr != nil {
			return &payment.ID, retryableFailure(CodeUnexpectedError, "refund_resync_fee_sum_failed", sumErr)
		}
		appFeeRefunded = amount
		if latestRefundID != "" {
			appFeeRefundID = &latestRefundID
		}
	}

	target := payment.Status
	switch {
	case totalRefunded >= payment.Amount:
		target = status.Refunded
	case allowDemotion && payment.Status == status.Refunded:
		target = status.Paid
	}

	if err := p.payments.UpdateRefundAggregate(ctx, db.RefundAggregateParams{
		PaymentID:                    payment.ID,
		Status:                       target,
		RefundedAmount:               totalRefunded,
		ApplicationFeeRefundedAmount: &appFeeRefunded,
		ApplicationFeeRefundID:       appFeeRefundID,
		EventID:                      eventID,
	}); err != nil {
		return &payment.ID, err
	}

	p.effects.PaymentRefunded(payment.ID, payment.AttendanceID)
	return &payment.ID, nil
}
