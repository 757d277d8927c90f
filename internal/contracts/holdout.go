package contracts

import (
	"context"

	"github.com/tessera-io/tessera/internal/engine"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/units"
)

func init() {
	engine.RegisterContract("holdout", func() engine.Contract { return &Holdout{} })
}

// Holdout is a contract that takes no action of its own. Offers sit in
// escrow until a party exercises an exit rule, a deadline fires, or a
// seat holder drives the facet explicitly.
//
// The harness uses it to exercise engine behavior in isolation:
// refund-only completion, invalid reallocation proposals, cancellation
// and deadline races.
type Holdout struct{}

// Start implements engine.Contract.
func (c *Holdout) Start(facet *engine.ContractFacet, terms engine.Terms) (engine.StartResult, error) {
	seat := &HoldoutSeat{facet: facet}
	invite, h, err := facet.MakeInvite(seat, map[string]any{"role": "holder"})
	if err != nil {
		return engine.StartResult{}, err
	}
	seat.offer = h
	return engine.StartResult{Invite: invite, Terms: terms}, nil
}

// HoldoutSeat exposes the facet's verbs to whoever redeemed the invite.
type HoldoutSeat struct {
	facet *engine.ContractFacet
	offer handle.Handle
}

// OfferHandle returns the handle of the offer this seat was redeemed
// into.
func (s *HoldoutSeat) OfferHandle() handle.Handle { return s.offer }

// NewInvite admits another party with a fresh holdout seat.
func (s *HoldoutSeat) NewInvite() (*engine.Invite, error) {
	next := &HoldoutSeat{facet: s.facet}
	invite, h, err := s.facet.MakeInvite(next, map[string]any{"role": "holder"})
	if err != nil {
		return nil, err
	}
	next.offer = h
	return invite, nil
}

// Reallocate proposes a reallocation across the given offers.
func (s *HoldoutSeat) Reallocate(handles []handle.Handle, newUnits [][]units.Units) error {
	return s.facet.Reallocate(handles, newUnits)
}

// Complete completes the given offers.
func (s *HoldoutSeat) Complete(ctx context.Context, handles []handle.Handle) error {
	return s.facet.Complete(ctx, handles)
}
