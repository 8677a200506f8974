// Package roster defines the domain model for delayed crew membership
// changes: pending share grants (onboarding) and share revocations
// (offboarding) keyed by member address.
package roster

// Order is a pending membership change for a single member. At most one
// order exists per address at any time.
type Order struct {
	// Onboarding is true for a pending share grant, false for a pending
	// revocation.
	Onboarding bool `json:"onboarding"`
	// Until is the unix timestamp (seconds) at which the order matures.
	// Zero means no pending order; every stored order has Until > 0.
	Until uint64 `json:"until"`
	// Shares is the amount minted or burned when the order executes.
	Shares uint64 `json:"shares"`
}

// Pending reports whether the order represents a live pending change.
func (o Order) Pending() bool { return o.Until != 0 }

// Matured reports whether the order can be executed at the given time.
func (o Order) Matured(now uint64) bool { return o.Pending() && now >= o.Until }

// Direction returns a human-readable direction label.
func (o Order) Direction() string {
	if o.Onboarding {
		return "onboard"
	}
	return "offboard"
}

// Batch is the per-call result of a roster operation. Members, Amounts and
// Inbound are parallel slices indexed by input position; skipped positions
// carry a zero amount.
type Batch struct {
	Members []string `json:"members"`
	Amounts []uint64 `json:"amounts"`
	// Inbound marks positions where an onboarding order executed. Only
	// populated by quarter; false for offboarding and untouched positions.
	Inbound []bool `json:"inbound,omitempty"`
	// Deadline is the shared maturity timestamp assigned to every order
	// queued by this call. Only populated by onboard and offboard.
	Deadline uint64 `json:"deadline,omitempty"`
}
