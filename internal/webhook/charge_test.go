package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
	"lessonpay/internal/status"
)

func TestChargeSucceededAppliesEnrichedSnapshot(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Pending, 8000)
	payment.PaymentIntentID = strPtr("pi_1")
	h.store.payments = []*db.Payment{payment}

	h.fetcher.pi = &stripe.PaymentIntent{
		ID: "pi_1",
		LatestCharge: &stripe.Charge{
			ID:            "ch_1",
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
			BalanceTransaction: &stripe.BalanceTransaction{
				ID:  "txn_1",
				Fee: 280,
				FeeDetails: []*stripe.BalanceTransactionFeeDetail{
					{Amount: 280, Type: "stripe_fee"},
				},
			},
			Transfer:       &stripe.Transfer{ID: "tr_1"},
			ApplicationFee: &stripe.ApplicationFee{ID: "fee_1"},
		},
	}

	event := makeEvent("evt_1", "charge.succeeded", map[string]interface{}{
		"id": "ch_1", "payment_intent": "pi_1",
	})

	res := h.proc.Process(context.Background(), event)
	require.True(t, res.Success)

	require.Len(t, h.store.chargeSnapshots, 1)
	snap := h.store.chargeSnapshots[0]
	assert.Equal(t, "ch_1", snap.ChargeID)
	require.NotNil(t, snap.BalanceTransactionID)
	assert.Equal(t, "txn_1", *snap.BalanceTransactionID)
	assert.NotEmpty(t, snap.FeeDetails)
	require.NotNil(t, snap.TransferID)
	assert.Equal(t, "tr_1", *snap.TransferID)
	require.NotNil(t, snap.ApplicationFeeID)
	assert.Equal(t, "fee_1", *snap.ApplicationFeeID)

	assert.Equal(t, []string{"evt_1"}, h.ledger.succeeded)
	assert.Equal(t, []string{payment.ID.String()}, ids(h.effects.completed))
}

func TestChargeSucceededFallsBackWhenEnrichmentFails(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Pending, 8000)
	payment.PaymentIntentID = strPtr("pi_1")
	h.store.payments = []*db.Payment{payment}
	h.fetcher.piErr = errors.New("stripe unavailable")

	event := makeEvent("evt_1", "charge.succeeded", map[string]interface{}{
		"id": "ch_1", "payment_intent": "pi_1",
	})

	res := h.proc.Process(context.Background(), event)
	require.True(t, res.Success, "enrichment failure must not fail the webhook")

	require.Len(t, h.store.chargeSnapshots, 1)
	snap := h.store.chargeSnapshots[0]
	assert.Equal(t, "ch_1", snap.ChargeID)
	assert.Nil(t, snap.BalanceTransactionID)
	assert.Nil(t, snap.TransferID)
}

func TestChargeSucceededBlockedOnRefunded(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Refunded, 8000)
	payment.ChargeID = strPtr("ch_1")
	h.store.payments = []*db.Payment{payment}

	event := makeEvent("evt_1", "charge.succeeded", map[string]interface{}{"id": "ch_1"})

	res := h.proc.Process(context.Background(), event)
	assert.True(t, res.Success)
	assert.Empty(t, h.store.chargeSnapshots)
	assert.Empty(t, h.effects.completed)
}

func TestChargeFailedPromotesPendingToFailed(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Pending, 8000)
	payment.ChargeID = strPtr("ch_1")
	h.store.payments = []*db.Payment{payment}

	event := makeEvent("evt_1", "charge.failed", map[string]interface{}{"id": "ch_1"})

	res := h.proc.Process(context.Background(), event)
	require.True(t, res.Success)
	assert.Equal(t, []string{"ch_1"}, h.store.failedCharges)
}

func TestChargeRefundedFullAmountSetsRefunded(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Paid, 3000)
	payment.ChargeID = strPtr("ch_1")
	payment.ApplicationFeeID = strPtr("af_1")
	h.store.payments = []*db.Payment{payment}
	h.fetcher.feeSum = 120
	h.fetcher.feeLatest = "fr_9"

	event := makeEvent("evt_1", "charge.refunded", map[string]interface{}{
		"id": "ch_1", "amount": 3000, "amount_refunded": 3000, "application_fee": "af_1",
	})

	res := h.proc.Process(context.Background(), event)
	require.True(t, res.Success)

	require.Len(t, h.store.refundUpdates, 1)
	up := h.store.refundUpdates[0]
	assert.Equal(t, status.Refunded, up.Status)
	assert.Equal(t, int64(3000), up.RefundedAmount)
	require.NotNil(t, up.ApplicationFeeRefundedAmount)
	assert.Equal(t, int64(120), *up.ApplicationFeeRefundedAmount)
	require.NotNil(t, up.ApplicationFeeRefundID)
	assert.Equal(t, "fr_9", *up.ApplicationFeeRefundID)
	assert.Equal(t, []string{payment.ID.String()}, ids(h.effects.refunded))
}

func TestChargeRefundedPartialKeepsStatus(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Paid, 3000)
	payment.ChargeID = strPtr("ch_1")
	h.store.payments = []*db.Payment{payment}

	event := makeEvent("evt_1", "charge.refunded", map[string]interface{}{
		"id": "ch_1", "amount": 3000, "amount_refunded": 2999,
	})

	res := h.proc.Process(context.Background(), event)
	require.True(t, res.Success)

	require.Len(t, h.store.refundUpdates, 1)
	up := h.store.refundUpdates[0]
	assert.Equal(t, status.Paid, up.Status)
	assert.Equal(t, int64(2999), up.RefundedAmount)
	assert.Nil(t, up.ApplicationFeeRefundedAmount, "no application fee on this charge")
}

func TestChargeRefundedFeeSumFailurePreservesStoredAggregate(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Paid, 3000)
	payment.ChargeID = strPtr("ch_1")
	payment.ApplicationFeeID = strPtr("af_1")
	payment.ApplicationFeeRefundedAmount = 80
	h.store.payments = []*db.Payment{payment}
	h.fetcher.feeErr = errors.New("stripe unavailable")

	event := makeEvent("evt_1", "charge.refunded", map[string]interface{}{
		"id": "ch_1", "amount": 3000, "amount_refunded": 3000, "application_fee": "af_1",
	})

	res := h.proc.Process(context.Background(), event)
	require.True(t, res.Success)

	require.Len(t, h.store.refundUpdates, 1)
	up := h.store.refundUpdates[0]
	assert.Nil(t, up.ApplicationFeeRefundedAmount, "nil keeps the stored value via COALESCE")
	assert.Nil(t, up.ApplicationFeeRefundID)
}

func TestChargeRefundedIdempotentRedelivery(t *testing.T) {
	h := newHarness()
	payment := newPayment(status.Paid, 3000)
	payment.ChargeID = strPtr("ch_1")
	h.store.payments = []*db.Payment{payment}

	event := makeEvent("evt_1", "charge.refunded", map[string]interface{}{
		"id": "ch_1", "amount": 3000, "amount_refunded": 3000,
	})

	res1 := h.proc.Process(context.Background(), event)
	require.True(t, res1.Success)

	// Same aggregate again: the provider snapshot is absolute, so the second
	// write lands on the identical state.
	payment.Status = status.Refunded
	res2 := h.proc.Process(context.Background(), event)
	require.True(t, res2.Success)

	require.Len(t, h.store.refundUpdates, 2)
	assert.Equal(t, h.store.refundUpdates[0].RefundedAmount, h.store.refundUpdates[1].RefundedAmount)
	assert.Equal(t, status.Refunded, h.store.refundUpdates[1].Status)
}

func ids(us []uuid.UUID) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.String()
	}
	return out
}
