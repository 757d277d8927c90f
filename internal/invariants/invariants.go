// Package invariants implements the two global checks the engine runs
// before committing any reallocation: rights conservation and offer
// safety. Both are pure functions over unit matrices; they never touch
// engine state.
package invariants

import (
	"fmt"

	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/offer"
	"github.com/tessera-io/tessera/internal/units"
)

// Conserved reports whether the proposed reallocation preserves total
// value per asset kind.
//
// Both matrices are per-offer rows of per-kind columns and must have
// identical shape: same offers, same kind ordering. For each kind, the
// before column and the after column are folded with the kind's With and
// compared with Equals; conservation holds iff every kind's totals are
// equal. A shape mismatch is a caller error and panics — callers
// validate untrusted input shapes before reaching this check.
func Conserved(algebras []units.Algebra, before, after [][]units.Units) bool {
	if len(before) != len(after) {
		panic(fmt.Sprintf("invariants: %d before rows vs %d after rows", len(before), len(after)))
	}
	for i := range before {
		if len(before[i]) != len(algebras) || len(after[i]) != len(algebras) {
			panic(fmt.Sprintf("invariants: row %d does not span %d asset kinds", i, len(algebras)))
		}
	}

	// Transpose: fold each kind's column across offers.
	for k, alg := range algebras {
		beforeTotal := alg.Empty()
		afterTotal := alg.Empty()
		for i := range before {
			beforeTotal = alg.With(beforeTotal, before[i][k])
			afterTotal = alg.With(afterTotal, after[i][k])
		}
		if !alg.Equals(beforeTotal, afterTotal) {
			return false
		}
	}
	return true
}

// Safe reports whether final is a safe allocation for one offer's payout
// rules: a full refund, a full requested payout, or both — never an
// unsafe partial mix.
//
//   - refundOk: every offerExactly rule's final equals its declared
//     units; every offerAtMost rule's final includes its declared units;
//     want rules pass trivially.
//   - winningsOk: every wantExactly rule's final equals its declared
//     units; every wantAtLeast rule's final includes its declared units;
//     offer rules pass trivially.
//
// The result is refundOk OR winningsOk. An allocation satisfying both is
// deliberately safe (degenerate/no-op offers); the disjunction must not
// be narrowed to exactly-one.
//
// A missing (zero) rule fails with MissingRule; an unrecognized kind
// fails with UnrecognizedRuleKind.
func Safe(algebras []units.Algebra, rules []offer.PayoutRule, final []units.Units) (bool, error) {
	if len(rules) != len(algebras) || len(final) != len(algebras) {
		panic(fmt.Sprintf("invariants: %d rules, %d final units for %d asset kinds",
			len(rules), len(final), len(algebras)))
	}

	refundOk := true
	winningsOk := true
	for i, r := range rules {
		if r.Kind == "" {
			return false, enginerr.Newf(enginerr.CodeMissingRule, "offer rule %d is missing", i)
		}
		alg := algebras[i]
		switch r.Kind {
		case offer.OfferExactly:
			refundOk = refundOk && alg.Equals(final[i], r.Units)
		case offer.OfferAtMost:
			refundOk = refundOk && alg.Includes(final[i], r.Units)
		case offer.WantExactly:
			winningsOk = winningsOk && alg.Equals(final[i], r.Units)
		case offer.WantAtLeast:
			winningsOk = winningsOk && alg.Includes(final[i], r.Units)
		default:
			return false, enginerr.Newf(enginerr.CodeUnrecognizedRuleKind,
				"offer rule %d has kind %q", i, r.Kind)
		}
	}
	return refundOk || winningsOk, nil
}

// SafeForAll applies Safe to each offer of a batch and is true only if
// every offer individually passes.
func SafeForAll(algebras []units.Algebra, rules [][]offer.PayoutRule, final [][]units.Units) (bool, error) {
	if len(rules) != len(final) {
		panic(fmt.Sprintf("invariants: %d rule rows vs %d final rows", len(rules), len(final)))
	}
	for i := range rules {
		ok, err := Safe(algebras, rules[i], final[i])
		if err != nil {
			return false, fmt.Errorf("offer %d: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
