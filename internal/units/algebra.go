package units

import (
	"fmt"
	"slices"

	"github.com/holiman/uint256"

	"github.com/tessera-io/tessera/internal/enginerr"
)

// Algebra is the per-asset-kind operations over Units.
//
// With is commutative and associative; Includes is the kind's partial
// order (componentwise "at least as much as"). Every method panics when
// handed Units of a foreign kind or representation: that is a bug in the
// engine, never a recoverable caller error.
//
// Coerce is the one error-returning path. It validates amounts that come
// back from an untrusted custodian before the engine records them.
type Algebra interface {
	// Kind returns the asset-kind label this algebra is scoped to.
	Kind() string

	// Empty returns the identity amount for With.
	Empty() Units

	// With combines two amounts.
	With(a, b Units) Units

	// Equals reports whether two amounts are the same.
	Equals(a, b Units) bool

	// Includes reports whether a is at least as much as b.
	Includes(a, b Units) bool

	// Coerce validates an allegedly-matching amount from outside the
	// engine's trust boundary and returns it in canonical form.
	Coerce(allegedly any) (Units, error)
}

// Spec names an algebra implementation, as reported by an asset-kind
// metadata source. Name is one of "nat" or "set".
type Spec struct {
	Name string
	Args []string
}

// FromSpec constructs the algebra a metadata source described.
func FromSpec(spec Spec, kind string) (Algebra, error) {
	switch spec.Name {
	case "nat":
		return NewNatAlgebra(kind), nil
	case "set":
		return NewSetAlgebra(kind), nil
	default:
		return nil, fmt.Errorf("units: unknown algebra %q for kind %q", spec.Name, kind)
	}
}

// NatAlgebra operates on fungible Nat amounts: With is addition, Includes
// is >=. Addition that would overflow 256 bits panics; amounts originate
// from custodian deposits and never approach that bound in practice.
type NatAlgebra struct {
	kind string
}

// NewNatAlgebra returns the nat algebra for the given asset kind.
func NewNatAlgebra(kind string) NatAlgebra {
	return NatAlgebra{kind: kind}
}

// Kind returns the asset-kind label.
func (a NatAlgebra) Kind() string { return a.kind }

// Empty returns zero units of the kind.
func (a NatAlgebra) Empty() Units {
	return NewNat(a.kind, 0)
}

// With returns the sum of a and b.
func (alg NatAlgebra) With(a, b Units) Units {
	x, y := alg.nat(a), alg.nat(b)
	sum := new(uint256.Int)
	if _, overflow := sum.AddOverflow(&x.amount, &y.amount); overflow {
		panic(fmt.Sprintf("units: overflow combining %s and %s", x, y))
	}
	return Nat{kind: alg.kind, amount: *sum}
}

// Equals reports exact equality.
func (alg NatAlgebra) Equals(a, b Units) bool {
	x, y := alg.nat(a), alg.nat(b)
	return x.amount.Eq(&y.amount)
}

// Includes reports a >= b.
func (alg NatAlgebra) Includes(a, b Units) bool {
	x, y := alg.nat(a), alg.nat(b)
	return !x.amount.Lt(&y.amount)
}

// Coerce accepts a Nat of the same kind, a uint64, or a *uint256.Int.
func (alg NatAlgebra) Coerce(allegedly any) (Units, error) {
	switch v := allegedly.(type) {
	case Nat:
		if v.kind != alg.kind {
			return nil, enginerr.Newf(enginerr.CodeInvalidRecord,
				"amount of kind %q where %q expected", v.kind, alg.kind)
		}
		return v, nil
	case uint64:
		return NewNat(alg.kind, v), nil
	case *uint256.Int:
		return NewNatBig(alg.kind, v), nil
	default:
		return nil, enginerr.Newf(enginerr.CodeInvalidRecord,
			"cannot coerce %T to %q units", allegedly, alg.kind)
	}
}

func (alg NatAlgebra) nat(u Units) Nat {
	n, ok := u.(Nat)
	if !ok {
		panic(fmt.Sprintf("units: %T is not a nat amount", u))
	}
	if n.kind != alg.kind {
		panic(fmt.Sprintf("units: amount of kind %q given to algebra of kind %q", n.kind, alg.kind))
	}
	return n
}

// SetAlgebra operates on non-fungible Set amounts: With is disjoint
// union, Includes is the superset relation. Combining overlapping sets
// panics, because it would mean the same non-fungible element exists in
// two places at once.
type SetAlgebra struct {
	kind string
}

// NewSetAlgebra returns the set algebra for the given asset kind.
func NewSetAlgebra(kind string) SetAlgebra {
	return SetAlgebra{kind: kind}
}

// Kind returns the asset-kind label.
func (a SetAlgebra) Kind() string { return a.kind }

// Empty returns the empty set of the kind.
func (a SetAlgebra) Empty() Units {
	return Set{kind: a.kind}
}

// With returns the disjoint union of a and b.
func (alg SetAlgebra) With(a, b Units) Units {
	x, y := alg.set(a), alg.set(b)
	merged := make([]string, 0, len(x.elems)+len(y.elems))
	merged = append(merged, x.elems...)
	merged = append(merged, y.elems...)
	sorted := sortedUnique(merged)
	if len(sorted) != len(merged) {
		panic(fmt.Sprintf("units: overlapping sets combined for kind %q", alg.kind))
	}
	return Set{kind: alg.kind, elems: sorted}
}

// Equals reports set equality.
func (alg SetAlgebra) Equals(a, b Units) bool {
	x, y := alg.set(a), alg.set(b)
	return slices.Equal(x.elems, y.elems)
}

// Includes reports whether a is a superset of b.
func (alg SetAlgebra) Includes(a, b Units) bool {
	x, y := alg.set(a), alg.set(b)
	i := 0
	for _, want := range y.elems {
		for i < len(x.elems) && x.elems[i] < want {
			i++
		}
		if i >= len(x.elems) || x.elems[i] != want {
			return false
		}
		i++
	}
	return true
}

// Coerce accepts a Set of the same kind or a []string of element IDs.
func (alg SetAlgebra) Coerce(allegedly any) (Units, error) {
	switch v := allegedly.(type) {
	case Set:
		if v.kind != alg.kind {
			return nil, enginerr.Newf(enginerr.CodeInvalidRecord,
				"amount of kind %q where %q expected", v.kind, alg.kind)
		}
		return v, nil
	case []string:
		sorted := sortedUnique(v)
		if len(sorted) != len(v) {
			return nil, enginerr.Newf(enginerr.CodeInvalidRecord,
				"duplicate elements in alleged %q set", alg.kind)
		}
		return Set{kind: alg.kind, elems: sorted}, nil
	default:
		return nil, enginerr.Newf(enginerr.CodeInvalidRecord,
			"cannot coerce %T to %q units", allegedly, alg.kind)
	}
}

func (alg SetAlgebra) set(u Units) Set {
	s, ok := u.(Set)
	if !ok {
		panic(fmt.Sprintf("units: %T is not a set amount", u))
	}
	if s.kind != alg.kind {
		panic(fmt.Sprintf("units: amount of kind %q given to algebra of kind %q", s.kind, alg.kind))
	}
	return s
}

// sortedUnique returns a sorted copy of elems with duplicates removed.
func sortedUnique(elems []string) []string {
	out := make([]string, len(elems))
	copy(out, elems)
	slices.Sort(out)
	return slices.Compact(out)
}
