// Package contracts ships the contract plug-ins used by the conformance
// harness, the demo CLI, and the engine's own tests.
//
// Contracts register themselves by name in the engine's constructor
// table, in the manner of database/sql drivers; importing this package
// is what makes them installable. Everything here is untrusted code from
// the engine's point of view: the invariant checkers, not these
// implementations, are what protect parties.
package contracts

import (
	"context"
	"fmt"

	"github.com/tessera-io/tessera/internal/engine"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/units"
)

func init() {
	engine.RegisterContract("atomicswap", func() engine.Contract { return &AtomicSwap{} })
}

// AtomicSwap is a two-party swap across the instance's asset kinds.
//
// The first party redeems the instance invite with its offer and want
// rules, then asks its seat for a matching invite. The second party
// redeems that invite with mirrored rules and triggers the match: the
// contract reallocates each party's wants to them and completes both
// offers. If the two sides do not mirror each other the engine rejects
// the reallocation and both parties keep their refunds.
type AtomicSwap struct{}

// Start implements engine.Contract.
func (c *AtomicSwap) Start(facet *engine.ContractFacet, terms engine.Terms) (engine.StartResult, error) {
	seat := &FirstSwapSeat{facet: facet}
	invite, h, err := facet.MakeInvite(seat, map[string]any{"role": "first"})
	if err != nil {
		return engine.StartResult{}, err
	}
	seat.offer = h
	return engine.StartResult{Invite: invite, Terms: terms}, nil
}

// FirstSwapSeat is the seat bound to the instance's first invite.
type FirstSwapSeat struct {
	facet *engine.ContractFacet
	offer handle.Handle
}

// MakeMatchingInvite mints the counterparty invite. The first party's
// offer must be escrowed (the invite redeemed) before a counterparty can
// be admitted.
func (s *FirstSwapSeat) MakeMatchingInvite() (*engine.Invite, error) {
	if !s.facet.IsOfferActive(s.offer) {
		return nil, fmt.Errorf("atomicswap: first offer not escrowed yet")
	}
	second := &SecondSwapSeat{facet: s.facet, counterpart: s.offer}
	invite, h, err := s.facet.MakeInvite(second, map[string]any{"role": "second"})
	if err != nil {
		return nil, err
	}
	second.offer = h
	return invite, nil
}

// SecondSwapSeat is the seat bound to a matching invite.
type SecondSwapSeat struct {
	facet       *engine.ContractFacet
	counterpart handle.Handle
	offer       handle.Handle
}

// Match reallocates each party's wanted amounts to them and completes
// both offers. The engine's checkers decide whether the proposed trade
// is conserving and safe; Match just proposes it.
func (s *SecondSwapSeat) Match(ctx context.Context) error {
	handles := []handle.Handle{s.counterpart, s.offer}
	offers, err := s.facet.Offers(handles)
	if err != nil {
		return err
	}
	algebras := s.facet.Algebras()

	matrix := make([][]units.Units, len(offers))
	for i, o := range offers {
		row := make([]units.Units, len(algebras))
		for k, rule := range o.Rules {
			if rule.Kind.IsWant() {
				row[k] = rule.Units
			} else {
				row[k] = algebras[k].Empty()
			}
		}
		matrix[i] = row
	}

	if err := s.facet.Reallocate(handles, matrix); err != nil {
		return err
	}
	return s.facet.Complete(ctx, handles)
}
