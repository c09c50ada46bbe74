package webhook

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"lessonpay/internal/db"
)

// Composite resolvers fix the identifier preference order per event family.
// Every resolver returns (nil, nil) when no strategy matched: out-of-order
// delivery before session creation is tolerated, not an error.

// resolveByPaymentIntentOrMetadata tries the payment intent id, then the
// payment id carried in provider metadata.
func (p *Processor) resolveByPaymentIntentOrMetadata(ctx context.Context, paymentIntentID, metaPaymentID string) (*db.Payment, error) {
	if paymentIntentID != "" {
		payment, err := p.payments.FindPaymentByPaymentIntentID(ctx, paymentIntentID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	return p.resolveByMetadata(ctx, metaPaymentID)
}

// resolveByChargeOrFallback tries payment intent, then charge id, then
// metadata.
func (p *Processor) resolveByChargeOrFallback(ctx context.Context, paymentIntentID, chargeID, metaPaymentID string) (*db.Payment, error) {
	if paymentIntentID != "" {
		payment, err := p.payments.FindPaymentByPaymentIntentID(ctx, paymentIntentID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if chargeID != "" {
		payment, err := p.payments.FindPaymentByChargeID(ctx, chargeID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	return p.resolveByMetadata(ctx, metaPaymentID)
}

// resolveCheckoutTarget tries the checkout session id, then metadata.
func (p *Processor) resolveCheckoutTarget(ctx context.Context, sessionID, metaPaymentID string) (*db.Payment, error) {
	if sessionID != "" {
		payment, err := p.payments.FindPaymentByCheckoutSessionID(ctx, sessionID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	return p.resolveByMetadata(ctx, metaPaymentID)
}

// resolveForDispute tries payment intent, then charge id. Disputes carry no
// metadata, so there is no final fallback.
func (p *Processor) resolveForDispute(ctx context.Context, paymentIntentID, chargeID string) (*db.Payment, error) {
	if paymentIntentID != "" {
		payment, err := p.payments.FindPaymentByPaymentIntentID(ctx, paymentIntentID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if chargeID != "" {
		return p.payments.FindPaymentByChargeID(ctx, chargeID)
	}
	return nil, nil
}

func (p *Processor) resolveByMetadata(ctx context.Context, metaPaymentID string) (*db.Payment, error) {
	if metaPaymentID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(metaPaymentID)
	if err != nil {
		slog.Warn("ignoring malformed payment_id metadata", "payment_id", metaPaymentID)
		return nil, nil
	}
	return p.payments.FindPaymentByID(ctx, id)
}
