// Package offer owns the escrow lifecycle: a party's declared intent plus
// payments becomes an active Offer record, participates in validated
// reallocations, and finally resolves into a payout.
//
// States: Pending (deposits in flight) -> Active (record created,
// reallocatable) -> Completed (removed from the table, payout future
// resolved). Completed is terminal; the table's create-once/delete-once
// semantics are what decide completion races.
package offer

import (
	"github.com/tessera-io/tessera/internal/custody"
	"github.com/tessera-io/tessera/internal/units"
)

// RuleKind classifies a payout rule.
type RuleKind string

const (
	// OfferExactly puts exactly the declared amount at risk.
	OfferExactly RuleKind = "offerExactly"

	// OfferAtMost puts up to the declared amount at risk.
	OfferAtMost RuleKind = "offerAtMost"

	// WantExactly requests exactly the declared amount.
	WantExactly RuleKind = "wantExactly"

	// WantAtLeast requests at least the declared amount.
	WantAtLeast RuleKind = "wantAtLeast"
)

// IsOffer reports whether the kind escrows value (an "offer" rule).
func (k RuleKind) IsOffer() bool {
	return k == OfferExactly || k == OfferAtMost
}

// IsWant reports whether the kind requests value (a "want" rule).
func (k RuleKind) IsWant() bool {
	return k == WantExactly || k == WantAtLeast
}

// Recognized reports whether the kind is one of the four rule kinds.
func (k RuleKind) Recognized() bool {
	return k.IsOffer() || k.IsWant()
}

// PayoutRule declares, for one asset kind, either an amount the party is
// putting at risk or an amount the party is requesting. Immutable once an
// Offer is created from it.
type PayoutRule struct {
	// Kind is one of the four recognized rule kinds. The zero value is
	// treated as a missing rule by the safety checker.
	Kind RuleKind

	// Asset names the rule's asset kind; it is resolved through the
	// asset-kind registry during escrow.
	Asset custody.Source

	// Units is the declared amount, scoped to the rule's asset kind.
	Units units.Units
}

// ExitKind classifies an exit rule.
type ExitKind string

const (
	// Waived: the party gives up unilateral exit.
	Waived ExitKind = "waived"

	// NoExit: the contract alone decides when the offer completes.
	NoExit ExitKind = "noExit"

	// OnDemand: the party receives a cancel capability.
	OnDemand ExitKind = "onDemand"

	// AfterDeadline: a timer completes the offer at the deadline unless
	// the contract got there first.
	AfterDeadline ExitKind = "afterDeadline"
)

// ExitRule governs whether and how a party may unilaterally force
// completion of their own offer before the contract does.
type ExitRule struct {
	Kind ExitKind

	// Deadline and Timer are set only for AfterDeadline.
	Deadline int64
	Timer    custody.Timer
}
