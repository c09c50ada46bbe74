package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonpay/internal/db/testutil"
	"lessonpay/internal/status"
)

func TestUpsertDispute_InsertThenRefresh(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	intentID := testutil.RandomPaymentIntentID()
	paymentID := insertPayment(t, testDB.Pool, paymentFixture{
		Status:          status.Paid,
		Amount:          3000,
		PaymentIntentID: &intentID,
	})

	dueBy := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Second)
	err := db.UpsertDispute(ctx, DisputeParams{
		StripeDisputeID: "dp_1",
		PaymentID:       &paymentID,
		ChargeID:        strRef("ch_disp_1"),
		PaymentIntentID: &intentID,
		Amount:          3000,
		Currency:        "jpy",
		Reason:          strRef("fraudulent"),
		Status:          "needs_response",
		EvidenceDueBy:   &dueBy,
	})
	require.NoError(t, err)

	d, err := db.FindDisputeByStripeID(ctx, "dp_1")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NotNil(t, d.PaymentID)
	assert.Equal(t, paymentID, *d.PaymentID)
	assert.Equal(t, "needs_response", d.Status)
	require.NotNil(t, d.EvidenceDueBy)
	assert.True(t, dueBy.Equal(*d.EvidenceDueBy))
	assert.Nil(t, d.ClosedAt)

	// A closure event without links or reason must not erase them.
	closedAt := time.Now().Truncate(time.Second)
	err = db.UpsertDispute(ctx, DisputeParams{
		StripeDisputeID: "dp_1",
		Amount:          3000,
		Currency:        "jpy",
		Status:          "won",
		ClosedAt:        &closedAt,
	})
	require.NoError(t, err)

	d, err = db.FindDisputeByStripeID(ctx, "dp_1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "won", d.Status, "status always reflects the latest event")
	require.NotNil(t, d.PaymentID, "identifier links only ever gain information")
	assert.Equal(t, paymentID, *d.PaymentID)
	require.NotNil(t, d.Reason)
	assert.Equal(t, "fraudulent", *d.Reason)
	require.NotNil(t, d.ClosedAt)
	assert.True(t, closedAt.Equal(*d.ClosedAt))
}

func TestFindDisputeByStripeID_NilWhenAbsent(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}

	d, err := db.FindDisputeByStripeID(context.Background(), "dp_absent")
	require.NoError(t, err)
	assert.Nil(t, d)
}
