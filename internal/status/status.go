// Package status defines the payment status set and its promotion rules.
package status

// Status represents the state of a payment record.
type Status string

const (
	Pending  Status = "pending"
	Failed   Status = "failed"
	Paid     Status = "paid"
	Received Status = "received"
	Waived   Status = "waived"
	Refunded Status = "refunded"
)

// ranks defines the total order used for monotonic promotion. Paid and
// received share a rank: either may be stamped over the other, but neither
// may ever regress to failed or pending.
var ranks = map[Status]int{
	Pending:  10,
	Failed:   15,
	Paid:     20,
	Received: 20,
	Waived:   25,
	Refunded: 40,
}

// Rank returns the promotion rank of s. Unknown statuses rank below every
// known status so a handler never overwrites a value it does not understand.
func Rank(s Status) int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known payment status.
func Valid(s Status) bool {
	_, ok := ranks[s]
	return ok
}

// CanPromote reports whether a handler may overwrite current with target.
// Equal ranks are allowed (idempotent re-stamps). Demotion is never allowed
// here; the refund resync path demotes through its own explicit flag and
// does not consult this function.
func CanPromote(current, target Status) bool {
	return Rank(target) >= Rank(current)
}
