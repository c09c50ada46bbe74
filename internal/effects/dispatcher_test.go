package effects

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherExecutesTasks(t *testing.T) {
	d := NewDispatcher(8)
	d.Start(context.Background())

	var ran atomic.Int32
	done := make(chan struct{})
	ok := d.Enqueue(Task{
		Name: "TEST_TASK",
		Run: func(ctx context.Context) error {
			ran.Add(1)
			close(done)
			return nil
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	d.Stop()
	assert.Equal(t, int32(1), ran.Load())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// Not started: nothing consumes the queue.
	d := NewDispatcher(2)

	noop := Task{Name: "NOOP", Run: func(ctx context.Context) error { return nil }}
	assert.True(t, d.Enqueue(noop))
	assert.True(t, d.Enqueue(noop))
	assert.False(t, d.Enqueue(noop), "third enqueue should be dropped")
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	d := NewDispatcher(8)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		d.Enqueue(Task{Name: "DRAIN", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
	}

	d.Start(context.Background())
	d.Stop()
	assert.Equal(t, int32(5), ran.Load())
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) PaymentCompleted(context.Context, uuid.UUID, int64, string) error {
	n.calls.Add(1)
	return nil
}

type countingRegenerator struct {
	calls atomic.Int32
}

func (r *countingRegenerator) Regenerate(context.Context, uuid.UUID) error {
	r.calls.Add(1)
	return nil
}

func TestHubPaymentCompleted(t *testing.T) {
	d := NewDispatcher(8)
	notifier := &countingNotifier{}
	regen := &countingRegenerator{}
	// GA4 disabled: no credentials.
	hub := NewHub(d, nil, notifier, regen)

	attendanceID := uuid.New()
	hub.PaymentCompleted(uuid.New(), &attendanceID, 5000, "JPY")

	d.Start(context.Background())
	d.Stop()

	assert.Equal(t, int32(1), notifier.calls.Load())
	assert.Equal(t, int32(1), regen.calls.Load())
}

func TestHubPaymentRefundedWithoutAttendance(t *testing.T) {
	d := NewDispatcher(8)
	regen := &countingRegenerator{}
	hub := NewHub(d, nil, nil, regen)

	hub.PaymentRefunded(uuid.New(), nil)

	d.Start(context.Background())
	d.Stop()
	assert.Equal(t, int32(0), regen.calls.Load())
}
