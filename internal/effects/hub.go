package effects

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Error codes logged when a side effect fails.
const (
	codeGA4TrackingFailed     = "GA4_TRACKING_FAILED"
	codeNotificationFailed    = "PAYMENT_COMPLETION_NOTIFICATION_FAILED"
	codeSettlementRegenFailed = "SETTLEMENT_REGENERATE_FAILED"
)

// Notifier delivers payment completion notices to teachers and students.
type Notifier interface {
	PaymentCompleted(ctx context.Context, paymentID uuid.UUID, amount int64, currency string) error
}

// SettlementRegenerator rebuilds the monthly settlement that covers an
// attendance after its payment state changes.
type SettlementRegenerator interface {
	Regenerate(ctx context.Context, attendanceID uuid.UUID) error
}

// LogNotifier is the default Notifier. It records the notice in the log;
// a mail or push integration replaces it in deployments that need one.
type LogNotifier struct{}

func (LogNotifier) PaymentCompleted(_ context.Context, paymentID uuid.UUID, amount int64, currency string) error {
	slog.Info("payment completed", "payment_id", paymentID, "amount", amount, "currency", currency)
	return nil
}

// LogSettlementRegenerator is the default SettlementRegenerator.
type LogSettlementRegenerator struct{}

func (LogSettlementRegenerator) Regenerate(_ context.Context, attendanceID uuid.UUID) error {
	slog.Info("settlement regeneration requested", "attendance_id", attendanceID)
	return nil
}

// Hub fans webhook side effects out to the dispatcher. Every method returns
// immediately; failures surface only in logs.
type Hub struct {
	dispatcher  *Dispatcher
	ga4         *GA4Client
	notifier    Notifier
	settlements SettlementRegenerator
}

// NewHub wires the side-effect executors to a dispatcher. Nil notifier or
// regenerator fall back to the log implementations.
func NewHub(d *Dispatcher, ga4 *GA4Client, notifier Notifier, settlements SettlementRegenerator) *Hub {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if settlements == nil {
		settlements = LogSettlementRegenerator{}
	}
	return &Hub{
		dispatcher:  d,
		ga4:         ga4,
		notifier:    notifier,
		settlements: settlements,
	}
}

// PaymentCompleted schedules the analytics event, the completion notice and,
// when the payment belongs to an attendance, a settlement rebuild.
func (h *Hub) PaymentCompleted(paymentID uuid.UUID, attendanceID *uuid.UUID, amount int64, currency string) {
	if h.ga4 != nil && h.ga4.Enabled() {
		h.dispatcher.Enqueue(Task{
			Name: codeGA4TrackingFailed,
			Run: func(ctx context.Context) error {
				return h.ga4.TrackPurchase(ctx, Purchase{
					ClientID:      paymentID.String(),
					TransactionID: paymentID.String(),
					Value:         amount,
					Currency:      currency,
				})
			},
		})
	}

	h.dispatcher.Enqueue(Task{
		Name: codeNotificationFailed,
		Run: func(ctx context.Context) error {
			return h.notifier.PaymentCompleted(ctx, paymentID, amount, currency)
		},
	})

	if attendanceID != nil {
		h.regenerate(*attendanceID)
	}
}

// TrackCheckout schedules an analytics event for a completed checkout,
// attributed to the browser client id carried in session metadata.
func (h *Hub) TrackCheckout(gaClientID string, paymentID uuid.UUID, amount int64, currency string) {
	if h.ga4 == nil || !h.ga4.Enabled() {
		return
	}
	h.dispatcher.Enqueue(Task{
		Name: codeGA4TrackingFailed,
		Run: func(ctx context.Context) error {
			return h.ga4.TrackPurchase(ctx, Purchase{
				ClientID:      gaClientID,
				TransactionID: paymentID.String(),
				Value:         amount,
				Currency:      currency,
			})
		},
	})
}

// PaymentRefunded schedules a settlement rebuild after a refund or refund
// reversal changed the payment's status.
func (h *Hub) PaymentRefunded(paymentID uuid.UUID, attendanceID *uuid.UUID) {
	if attendanceID == nil {
		slog.Debug("refund effect without attendance, nothing to regenerate", "payment_id", paymentID)
		return
	}
	h.regenerate(*attendanceID)
}

func (h *Hub) regenerate(attendanceID uuid.UUID) {
	h.dispatcher.Enqueue(Task{
		Name: codeSettlementRegenFailed,
		Run: func(ctx context.Context) error {
			return h.settlements.Regenerate(ctx, attendanceID)
		},
	})
}
