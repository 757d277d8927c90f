// Package units defines per-asset-kind amount values and the algebras
// that operate on them.
//
// A Units value is scoped to exactly one asset kind and is only ever
// combined or compared through that kind's Algebra. Cross-kind operations
// are undefined: mixing kinds is a programming error inside the engine,
// not a condition a caller can provoke, so the algebras panic rather than
// return an error.
//
// Two algebras ship: NatAlgebra for fungible amounts (uint256 naturals)
// and SetAlgebra for non-fungible amounts (sets of element identifiers).
package units

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Units is a sealed interface over amount values.
// Only Nat and Set implement it.
type Units interface {
	// Kind returns the asset-kind label the amount is scoped to.
	Kind() string

	// String renders the amount for logs, traces, and journal payloads.
	String() string

	units() // sealed
}

// Nat is a fungible amount: a natural number of indistinguishable units.
type Nat struct {
	kind   string
	amount uint256.Int
}

func (Nat) units() {}

// Kind returns the asset-kind label.
func (n Nat) Kind() string { return n.kind }

// Amount returns a copy of the underlying natural.
func (n Nat) Amount() *uint256.Int {
	return new(uint256.Int).Set(&n.amount)
}

// String renders the amount for logs and journal payloads.
func (n Nat) String() string {
	return fmt.Sprintf("%s %s", n.amount.Dec(), n.kind)
}

// NewNat builds a fungible amount of the given kind.
func NewNat(kind string, amount uint64) Nat {
	return Nat{kind: kind, amount: *uint256.NewInt(amount)}
}

// NewNatBig builds a fungible amount from a uint256 value.
func NewNatBig(kind string, amount *uint256.Int) Nat {
	return Nat{kind: kind, amount: *new(uint256.Int).Set(amount)}
}

// Set is a non-fungible amount: a set of distinct element identifiers.
// The element slice is kept sorted and deduplicated.
type Set struct {
	kind  string
	elems []string
}

func (Set) units() {}

// Kind returns the asset-kind label.
func (s Set) Kind() string { return s.kind }

// Elements returns a copy of the element identifiers in sorted order.
func (s Set) Elements() []string {
	out := make([]string, len(s.elems))
	copy(out, s.elems)
	return out
}

// String renders the set for logs and journal payloads.
func (s Set) String() string {
	return fmt.Sprintf("%v %s", s.elems, s.kind)
}

// NewSet builds a non-fungible amount of the given kind.
// Panics if elems contains duplicates.
func NewSet(kind string, elems ...string) Set {
	sorted := sortedUnique(elems)
	if len(sorted) != len(elems) {
		panic(fmt.Sprintf("units: duplicate elements in set of kind %q", kind))
	}
	return Set{kind: kind, elems: sorted}
}
