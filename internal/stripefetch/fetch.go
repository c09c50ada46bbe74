// Package stripefetch retrieves provider-side payment objects that webhook
// payloads reference but do not fully contain.
package stripefetch

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/applicationfee"
	"github.com/stripe/stripe-go/v82/charge"
	"github.com/stripe/stripe-go/v82/feerefund"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Service wraps the Stripe retrieval calls used during webhook processing.
// The API key is the package-global stripe.Key, set once at startup.
type Service struct{}

// New creates a fetch service.
func New() *Service {
	return &Service{}
}

// RetrieveCharge fetches a charge by id.
func (s *Service) RetrieveCharge(ctx context.Context, chargeID string) (*stripe.Charge, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx

	ch, err := charge.Get(chargeID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve charge %s: %w", chargeID, err)
	}
	return ch, nil
}

// RetrievePaymentIntent fetches a payment intent with its latest charge,
// balance transaction and transfer expanded, so a single round trip yields
// the settlement details the charge snapshot needs.
func (s *Service) RetrievePaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")
	params.AddExpand("latest_charge.transfer")

	pi, err := paymentintent.Get(paymentIntentID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", paymentIntentID, err)
	}
	return pi, nil
}

// RetrieveApplicationFee fetches an application fee by id.
func (s *Service) RetrieveApplicationFee(ctx context.Context, feeID string) (*stripe.ApplicationFee, error) {
	params := &stripe.ApplicationFeeParams{}
	params.Context = ctx

	fee, err := applicationfee.Get(feeID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve application fee %s: %w", feeID, err)
	}
	return fee, nil
}

// SumApplicationFeeRefunds pages through every refund of an application fee
// and returns the refunded total together with the most recent refund id.
// Stripe lists refunds newest first, so the first item is the latest.
func (s *Service) SumApplicationFeeRefunds(ctx context.Context, applicationFeeID string) (int64, string, error) {
	params := &stripe.FeeRefundListParams{
		ID: stripe.String(applicationFeeID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var (
		total          int64
		latestRefundID string
	)

	iter := feerefund.List(params)
	for iter.Next() {
		r := iter.FeeRefund()
		if latestRefundID == "" {
			latestRefundID = r.ID
		}
		total += r.Amount
	}
	if err := iter.Err(); err != nil {
		return 0, "", fmt.Errorf("failed to list refunds for application fee %s: %w", applicationFeeID, err)
	}

	return total, latestRefundID, nil
}
