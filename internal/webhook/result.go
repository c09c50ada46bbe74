// Package webhook turns verified payment-provider events into payments-table
// state transitions. The event ledger gives exactly-once-effective semantics,
// the status rank order keeps transitions monotonic, and every failure is
// classified as terminal (ACK, stop redelivering) or retryable.
package webhook

import (
	"fmt"

	"github.com/google/uuid"
)

// Stable error codes surfaced to the transport and stored in the ledger.
const (
	CodeInvalidPayload         = "WEBHOOK_INVALID_PAYLOAD"
	CodePaymentNotFound        = "WEBHOOK_PAYMENT_NOT_FOUND"
	CodeUnexpectedError        = "WEBHOOK_UNEXPECTED_ERROR"
	CodeCheckoutExpiredFailed  = "STRIPE_CHECKOUT_SESSION_EXPIRED_UPDATE_FAILED"
	CodeSettlementRegenFailed  = "SETTLEMENT_REGENERATE_FAILED"
	CodeGA4TrackingFailed      = "GA4_TRACKING_FAILED"
	CodeCompletionNotifyFailed = "PAYMENT_COMPLETION_NOTIFICATION_FAILED"
)

// Failure is a classified processing error. Terminal failures tell the
// transport to ACK so the provider stops redelivering; retryable failures
// request another delivery.
type Failure struct {
	Code        string
	Reason      string
	UserMessage string
	Terminal    bool
	Err         error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("webhook failure %s (%s): %v", f.Code, f.Reason, f.Err)
	}
	return fmt.Sprintf("webhook failure %s (%s)", f.Code, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable is the transport-facing inverse of Terminal.
func (f *Failure) Retryable() bool {
	return !f.Terminal
}

// Result is the outcome of one delivery.
type Result struct {
	Success   bool
	EventID   string
	PaymentID *uuid.UUID
	Failure   *Failure
}

func okResult(eventID string, paymentID *uuid.UUID) *Result {
	return &Result{Success: true, EventID: eventID, PaymentID: paymentID}
}

func failResult(eventID string, paymentID *uuid.UUID, f *Failure) *Result {
	return &Result{Success: false, EventID: eventID, PaymentID: paymentID, Failure: f}
}

func terminalFailure(code, reason string, err error) *Failure {
	return &Failure{Code: code, Reason: reason, Terminal: true, Err: err}
}

func retryableFailure(code, reason string, err error) *Failure {
	return &Failure{Code: code, Reason: reason, Terminal: false, Err: err}
}
