package webhook

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
)

// handleApplicationFeeRefund reconciles the application fee refund aggregate.
// The event object is either an application_fee or a fee_refund; both yield
// the fee id the payment is resolved by. The aggregate is recomputed from
// the provider; if that query fails the stored values are restamped
// unchanged rather than overwritten with zero.
func (p *Processor) handleApplicationFeeRefund(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	feeID := applicationFeeID(e)
	if feeID == "" {
		return nil, terminalFailure(CodeInvalidPayload, "missing_application_fee_id", nil)
	}

	payment, err := p.payments.FindPaymentByApplicationFeeID(ctx, feeID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for application fee",
			"event_id", e.ID, "application_fee_id", feeID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	amount := payment.ApplicationFeeRefundedAmount
	var refundID *string
	summed, latestRefundID, sumErr := p.fetcher.SumApplicationFeeRefunds(ctx, feeID)
	if sumErr != nil {
		slog.Warn("application fee refund sum failed, keeping stored aggregate",
			"event_id", e.ID, "application_fee_id", feeID, "error", sumErr)
	} else {
		amount = summed
		if latestRefundID != "" {
			refundID = &latestRefundID
		}
	}

	if err := p.payments.UpdateApplicationFeeRefundAggregate(ctx, payment.ID, amount, refundID, e.ID); err != nil {
		return &payment.ID, err
	}

	p.effects.PaymentRefunded(payment.ID, payment.AttendanceID)
	return &payment.ID, nil
}
