package webhook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
	"lessonpay/internal/status"
)

// handleCheckoutCompleted links the checkout session and payment intent to
// the payment named by metadata.payment_id. Status is untouched here: the
// payment intent and charge events drive completion.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	session, err := decodeObject[stripe.CheckoutSession](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_checkout_session", err)
	}

	metaPaymentID := session.Metadata["payment_id"]
	if metaPaymentID == "" {
		return nil, terminalFailure(CodeInvalidPayload, "missing_payment_id_metadata", nil)
	}
	paymentID, err := uuid.Parse(metaPaymentID)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "malformed_payment_id_metadata", err)
	}

	payment, err := p.payments.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for checkout session",
			"event_id", e.ID, "payment_id", paymentID, "session_id", session.ID,
			"error_code", CodePaymentNotFound)
		return nil, nil
	}

	if payment.CheckoutSessionID != nil && *payment.CheckoutSessionID == session.ID {
		slog.Info("checkout session already linked", "event_id", e.ID, "payment_id", payment.ID)
		return &payment.ID, nil
	}

	var paymentIntentID *string
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentIntentID = &session.PaymentIntent.ID
	}

	if err := p.payments.SaveCheckoutSessionLink(ctx, db.CheckoutLinkParams{
		PaymentID:         payment.ID,
		CheckoutSessionID: session.ID,
		PaymentIntentID:   paymentIntentID,
		EventID:           e.ID,
	}); err != nil {
		return &payment.ID, err
	}

	if gaClientID := session.Metadata["ga_client_id"]; gaClientID != "" {
		p.effects.TrackCheckout(gaClientID, payment.ID, payment.Amount, "JPY")
	}

	return &payment.ID, nil
}

// handleCheckoutExpired fails the payment attached to an expired session,
// when the rank order allows it.
func (p *Processor) handleCheckoutExpired(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	session, err := decodeObject[stripe.CheckoutSession](e)
	if err != nil {
		return nil, terminalFailure(CodeInvalidPayload, "undecodable_checkout_session", err)
	}

	payment, err := p.resolveCheckoutTarget(ctx, session.ID, session.Metadata["payment_id"])
	if err != nil {
		return nil, err
	}
	if payment == nil {
		slog.Warn("payment not found for expired checkout session",
			"event_id", e.ID, "session_id", session.ID, "error_code", CodePaymentNotFound)
		return nil, nil
	}

	if !status.CanPromote(payment.Status, status.Failed) {
		slog.Info("checkout expiry ignored, payment already settled",
			"event_id", e.ID, "payment_id", payment.ID, "status", payment.Status)
		return &payment.ID, nil
	}

	if err := p.payments.MarkFailedFromCheckoutSession(ctx, payment.ID, session.ID, e.ID); err != nil {
		var repoErr *db.RepositoryError
		if errors.As(err, &repoErr) && repoErr.Terminal {
			return &payment.ID, &Failure{
				Code:     CodeCheckoutExpiredFailed,
				Reason:   repoErr.Error(),
				Terminal: true,
				Err:      err,
			}
		}
		return &payment.ID, err
	}
	return &payment.ID, nil
}

// handleCheckoutAsyncInfo logs async payment notifications. The matching
// payment_intent events carry the state change.
func (p *Processor) handleCheckoutAsyncInfo(ctx context.Context, e *stripe.Event) (*uuid.UUID, error) {
	slog.Info("checkout async payment notification", "event_id", e.ID, "event_type", e.Type)
	return nil, nil
}
