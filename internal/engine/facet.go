package engine

import (
	"context"

	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/invariants"
	"github.com/tessera-io/tessera/internal/journal"
	"github.com/tessera-io/tessera/internal/offer"
	"github.com/tessera-io/tessera/internal/registry"
	"github.com/tessera-io/tessera/internal/units"
)

// ContractFacet is the per-instance surface exposed to contract code and
// to nothing else. It is closed over its instance handle: a contract can
// only ever see, reallocate, or complete offers made into its own
// instance, and the invites it mints are stamped with its own instance
// handle whatever custom fields it supplies.
type ContractFacet struct {
	engine   *Engine
	instance handle.Handle
	kinds    []*registry.Record
}

// InstanceHandle returns the instance this facet is closed over.
func (f *ContractFacet) InstanceHandle() handle.Handle { return f.instance }

// Reallocate atomically reassigns units across the named offers.
//
// The proposed matrix is per-offer rows over the instance's asset kinds
// in instance order. Both invariant checks run against the loaded offers
// under the commit mutex; RightsNotConserved or OfferNotSafe rejects the
// entire batch with the offer table exactly as before the call. On
// success the new allocations commit as a single logical step.
func (f *ContractFacet) Reallocate(offerHandles []handle.Handle, newUnits [][]units.Units) error {
	// Shape- and kind-check the untrusted matrix before anything can
	// reach the checkers, which treat bad shapes as programming errors.
	if len(newUnits) != len(offerHandles) {
		return enginerr.Newf(enginerr.CodeInvalidRecord,
			"reallocate: %d allocations for %d offers", len(newUnits), len(offerHandles))
	}
	coerced := make([][]units.Units, len(newUnits))
	for i, row := range newUnits {
		if len(row) != len(f.kinds) {
			return enginerr.Newf(enginerr.CodeInvalidRecord,
				"reallocate: allocation %d spans %d kinds, instance has %d",
				i, len(row), len(f.kinds))
		}
		coerced[i] = make([]units.Units, len(row))
		for k, u := range row {
			cu, err := f.kinds[k].Algebra.Coerce(u)
			if err != nil {
				return err
			}
			coerced[i][k] = cu
		}
	}

	algebras := f.algebras()
	err := f.engine.offers.Reallocate(offerHandles, coerced, func(offers []*offer.Offer) error {
		before := make([][]units.Units, len(offers))
		rules := make([][]offer.PayoutRule, len(offers))
		for i, o := range offers {
			if o.Instance != f.instance {
				return enginerr.WithHandle(enginerr.CodeUnknownHandle,
					"offers: no such record", o.Handle.String())
			}
			if !f.spansInstanceKinds(o) {
				return enginerr.WithHandle(enginerr.CodeInvalidRecord,
					"reallocate: offer does not span the instance's asset kinds", o.Handle.String())
			}
			before[i] = o.Current
			rules[i] = o.Rules
		}

		if !invariants.Conserved(algebras, before, coerced) {
			return enginerr.New(enginerr.CodeRightsNotConserved,
				"reallocation creates or destroys value")
		}
		safe, err := invariants.SafeForAll(algebras, rules, coerced)
		if err != nil {
			return err
		}
		if !safe {
			return enginerr.New(enginerr.CodeOfferNotSafe,
				"reallocation is neither a full refund nor a full payout for some offer")
		}
		return nil
	})
	if err != nil {
		return err
	}

	handles := make([]any, len(offerHandles))
	for i, h := range offerHandles {
		handles[i] = h.String()
	}
	f.engine.appendJournal(context.Background(), journal.KindReallocate,
		f.instance.String(), map[string]any{
			"instance": f.instance.String(),
			"offers":   handles,
		})
	return nil
}

// Complete completes the named offers, resolving their payouts. Fails
// with AlreadyCompleted if any is already inactive; offers of other
// instances are invisible (UnknownHandle).
func (f *ContractFacet) Complete(ctx context.Context, offerHandles []handle.Handle) error {
	if err := f.engine.offers.CompleteOwned(ctx, offerHandles, f.instance); err != nil {
		return err
	}
	handles := make([]any, len(offerHandles))
	for i, h := range offerHandles {
		handles[i] = h.String()
	}
	f.engine.appendJournal(ctx, journal.KindComplete, f.instance.String(), map[string]any{
		"instance": f.instance.String(),
		"offers":   handles,
	})
	return nil
}

// MakeInvite mints a transferable capability token bound to seat. The
// returned handle doubles as the offer handle a redeemer will receive.
func (f *ContractFacet) MakeInvite(seat any, custom map[string]any) (*Invite, handle.Handle, error) {
	h := f.engine.minter.Mint()
	invite := newInvite(h, f.instance, custom)

	f.engine.seatsMu.Lock()
	f.engine.seats[h] = seat
	f.engine.seatsMu.Unlock()

	f.engine.appendJournal(context.Background(), journal.KindInvite,
		f.instance.String(), map[string]any{
			"instance": f.instance.String(),
			"invite":   h.String(),
		})
	return invite, h, nil
}

// Offers returns snapshots of the active offers for the given handles, in
// order. Offers of other instances are reported as UnknownHandle. The
// snapshots are the contract's to scribble on; allocations change only
// through Reallocate.
func (f *ContractFacet) Offers(offerHandles []handle.Handle) ([]*offer.Offer, error) {
	offers, err := f.engine.offers.Offers(offerHandles)
	if err != nil {
		return nil, err
	}
	out := make([]*offer.Offer, len(offers))
	for i, o := range offers {
		if o.Instance != f.instance {
			return nil, enginerr.WithHandle(enginerr.CodeUnknownHandle,
				"offers: no such record", o.Handle.String())
		}
		out[i] = o.Snapshot()
	}
	return out, nil
}

// IsOfferActive reports whether h names an active offer.
func (f *ContractFacet) IsOfferActive(h handle.Handle) bool {
	return f.engine.offers.IsActive(h)
}

// OfferStatuses splits handles into active and inactive sets.
func (f *ContractFacet) OfferStatuses(offerHandles []handle.Handle) (active, inactive []handle.Handle, err error) {
	return f.engine.offers.Statuses(offerHandles)
}

// Algebras returns the instance's per-kind unit algebras, in instance
// kind order.
func (f *ContractFacet) Algebras() []units.Algebra {
	return f.algebras()
}

// Kinds returns the instance's resolved asset-kind records.
func (f *ContractFacet) Kinds() []*registry.Record {
	out := make([]*registry.Record, len(f.kinds))
	copy(out, f.kinds)
	return out
}

func (f *ContractFacet) algebras() []units.Algebra {
	algs := make([]units.Algebra, len(f.kinds))
	for i, k := range f.kinds {
		algs[i] = k.Algebra
	}
	return algs
}

// spansInstanceKinds reports whether the offer's kind sequence is exactly
// the instance's kind sequence. Reallocation matrices are meaningful only
// over a shared kind ordering.
func (f *ContractFacet) spansInstanceKinds(o *offer.Offer) bool {
	if len(o.Kinds) != len(f.kinds) {
		return false
	}
	for i, k := range o.Kinds {
		if k != f.kinds[i] {
			return false
		}
	}
	return true
}
