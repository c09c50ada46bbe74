package testutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

var fixtureCounter atomic.Int64

// uniqueSuffix returns a process-unique suffix for provider identifiers so
// tests sharing a database never collide on unique indexes.
func uniqueSuffix() string {
	return fmt.Sprintf("%d_%d", time.Now().UnixNano(), fixtureCounter.Add(1))
}

// RandomEventID generates a Stripe-shaped event id for testing
func RandomEventID() string {
	return "evt_" + uniqueSuffix()
}

// RandomPaymentIntentID generates a Stripe-shaped payment intent id for testing
func RandomPaymentIntentID() string {
	return "pi_" + uniqueSuffix()
}

// RandomChargeID generates a Stripe-shaped charge id for testing
func RandomChargeID() string {
	return "ch_" + uniqueSuffix()
}
