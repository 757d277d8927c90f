package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/internal/custody"
	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/journal"
	"github.com/tessera-io/tessera/internal/offer"
	"github.com/tessera-io/tessera/internal/testutil"
	"github.com/tessera-io/tessera/internal/units"
)

// stubContract hands its facet to the test and mints one first invite,
// trying to spoof the engine-authored description fields while at it.
type stubContract struct {
	facet *ContractFacet
}

type stubSeat struct {
	role string
}

var lastStub *stubContract

func init() {
	RegisterContract("stubswap", func() Contract {
		c := &stubContract{}
		lastStub = c
		return c
	})
}

func (c *stubContract) Start(facet *ContractFacet, terms Terms) (StartResult, error) {
	c.facet = facet
	invite, _, err := facet.MakeInvite(&stubSeat{role: "first"}, map[string]any{
		"role":     "first",
		"handle":   "spoofed",
		"instance": "spoofed",
	})
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Invite: invite, PublicAPI: "stub-api", Terms: terms}, nil
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithMinter(testutil.NewSequenceMinter("h")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func installStub(t *testing.T, e *Engine) handle.Handle {
	t.Helper()
	h, err := e.Install(context.Background(), ContractCode{Format: FormatRegistered, Name: "stubswap"})
	require.NoError(t, err)
	return h
}

func awaitPayout(t *testing.T, future *offer.PayoutFuture) []custody.Payment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payments, err := future.Await(ctx)
	require.NoError(t, err)
	return payments
}

func amountOf(t *testing.T, pmt custody.Payment) string {
	t.Helper()
	mp, ok := pmt.(*custody.MemoryPayment)
	require.True(t, ok)
	return mp.Amount().String()
}

func TestInstallRejectsUnknownFormat(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Install(context.Background(), ContractCode{Format: "wasm", Name: "stubswap"})
	assert.True(t, enginerr.HasCode(err, enginerr.CodeUnsupportedModuleFormat))
}

func TestInstallRejectsUnregisteredName(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Install(context.Background(), ContractCode{Format: FormatRegistered, Name: "nope"})
	assert.True(t, enginerr.HasCode(err, enginerr.CodeUnsupportedModuleFormat))
}

func TestMakeInstanceUnknownInstallation(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.MakeInstance(context.Background(), handle.ForTesting("h-404"), Terms{})
	assert.True(t, enginerr.IsUnknownHandle(err))
}

func TestMakeInstanceReturnsFirstInvite(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	moola := custody.NewNatLedger("moola")

	installation := installStub(t, e)
	invite, err := e.MakeInstance(ctx, installation, Terms{Assets: []custody.Source{moola.Source()}})
	require.NoError(t, err)
	require.NotNil(t, invite)

	// Engine-authored description fields win over the contract's spoof.
	desc := invite.Description()
	assert.Equal(t, invite.Handle().String(), desc["handle"])
	assert.Equal(t, invite.Instance().String(), desc["instance"])
	assert.Equal(t, "first", desc["role"])

	inst, err := e.GetInstance(invite.Instance())
	require.NoError(t, err)
	assert.Equal(t, installation, inst.Installation)
	require.Len(t, inst.Kinds, 1)
	assert.Equal(t, "moola", inst.Kinds[0].Label)
	assert.Equal(t, "stub-api", inst.PublicAPI)
}

func TestRedeemBindsSeatAndReusesHandle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	moola := custody.NewNatLedger("moola")

	installation := installStub(t, e)
	invite, err := e.MakeInstance(ctx, installation, Terms{Assets: []custody.Source{moola.Source()}})
	require.NoError(t, err)

	rules := []offer.PayoutRule{
		{Kind: offer.OfferExactly, Asset: moola.Source(), Units: units.NewNat("moola", 3)},
	}
	payments := []custody.Payment{moola.MintPayment(units.NewNat("moola", 3))}

	res, err := e.Redeem(ctx, invite, rules, offer.ExitRule{Kind: offer.Waived}, payments)
	require.NoError(t, err)

	seat, ok := res.Seat.(*stubSeat)
	require.True(t, ok)
	assert.Equal(t, "first", seat.role)
	assert.Equal(t, invite.Handle(), res.OfferHandle)
	assert.True(t, e.IsOfferActive(res.OfferHandle))
	assert.False(t, res.Payout.Settled())

	future, err := e.PayoutFutureFor(res.OfferHandle)
	require.NoError(t, err)
	assert.Same(t, res.Payout, future)
}

func TestRedeemNilInvite(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Redeem(context.Background(), nil, nil, offer.ExitRule{Kind: offer.Waived}, nil)
	assert.True(t, enginerr.IsInvalidInvite(err))
}

func TestRedeemBurnsInvite(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	moola := custody.NewNatLedger("moola")

	installation := installStub(t, e)
	invite, err := e.MakeInstance(ctx, installation, Terms{Assets: []custody.Source{moola.Source()}})
	require.NoError(t, err)

	rules := []offer.PayoutRule{
		{Kind: offer.WantExactly, Asset: moola.Source(), Units: units.NewNat("moola", 3)},
	}
	_, err = e.Redeem(ctx, invite, rules, offer.ExitRule{Kind: offer.Waived}, []custody.Payment{nil})
	require.NoError(t, err)

	_, err = e.Redeem(ctx, invite, rules, offer.ExitRule{Kind: offer.Waived}, []custody.Payment{nil})
	assert.True(t, enginerr.IsInvalidInvite(err))
}

func TestEscrowOutsideAnyInstance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	moola := custody.NewNatLedger("moola")

	rules := []offer.PayoutRule{
		{Kind: offer.OfferExactly, Asset: moola.Source(), Units: units.NewNat("moola", 5)},
	}
	payments := []custody.Payment{moola.MintPayment(units.NewNat("moola", 5))}

	res, err := e.Escrow(ctx, rules, offer.ExitRule{Kind: offer.OnDemand}, payments)
	require.NoError(t, err)
	require.NotNil(t, res.Canceler)
	assert.True(t, e.IsOfferActive(res.OfferHandle))

	require.NoError(t, res.Canceler.Cancel(ctx))
	assert.False(t, e.IsOfferActive(res.OfferHandle))

	paid := awaitPayout(t, res.Payout)
	require.Len(t, paid, 1)
	assert.Equal(t, "5 moola", amountOf(t, paid[0]))
}

// swapFixture is a two-party, two-kind instance with both offers escrowed:
// alice puts in 3 moola wanting 7 bucks, bob mirrors it.
type swapFixture struct {
	engine *Engine
	facet  *ContractFacet
	moola  *custody.Ledger
	bucks  *custody.Ledger
	alice  *RedeemResult
	bob    *RedeemResult
}

func newSwapFixture(t *testing.T) *swapFixture {
	t.Helper()
	ctx := context.Background()
	f := &swapFixture{
		engine: newTestEngine(t),
		moola:  custody.NewNatLedger("moola"),
		bucks:  custody.NewNatLedger("bucks"),
	}

	installation := installStub(t, f.engine)
	first, err := f.engine.MakeInstance(ctx, installation,
		Terms{Assets: []custody.Source{f.moola.Source(), f.bucks.Source()}})
	require.NoError(t, err)
	f.facet = lastStub.facet

	aliceRules := []offer.PayoutRule{
		{Kind: offer.OfferExactly, Asset: f.moola.Source(), Units: units.NewNat("moola", 3)},
		{Kind: offer.WantExactly, Asset: f.bucks.Source(), Units: units.NewNat("bucks", 7)},
	}
	f.alice, err = f.engine.Redeem(ctx, first, aliceRules, offer.ExitRule{Kind: offer.Waived},
		[]custody.Payment{f.moola.MintPayment(units.NewNat("moola", 3)), nil})
	require.NoError(t, err)

	second, _, err := f.facet.MakeInvite(&stubSeat{role: "second"}, nil)
	require.NoError(t, err)
	bobRules := []offer.PayoutRule{
		{Kind: offer.WantExactly, Asset: f.moola.Source(), Units: units.NewNat("moola", 3)},
		{Kind: offer.OfferExactly, Asset: f.bucks.Source(), Units: units.NewNat("bucks", 7)},
	}
	f.bob, err = f.engine.Redeem(ctx, second, bobRules, offer.ExitRule{Kind: offer.Waived},
		[]custody.Payment{nil, f.bucks.MintPayment(units.NewNat("bucks", 7))})
	require.NoError(t, err)
	return f
}

func (f *swapFixture) handles() []handle.Handle {
	return []handle.Handle{f.alice.OfferHandle, f.bob.OfferHandle}
}

func row(moola, bucks uint64) []units.Units {
	return []units.Units{units.NewNat("moola", moola), units.NewNat("bucks", bucks)}
}

func TestReallocateRejectsBadShapes(t *testing.T) {
	f := newSwapFixture(t)

	err := f.facet.Reallocate(f.handles(), [][]units.Units{row(0, 7)})
	assert.True(t, enginerr.IsInvalidRecord(err))

	err = f.facet.Reallocate(f.handles(), [][]units.Units{
		{units.NewNat("moola", 0)},
		{units.NewNat("moola", 3)},
	})
	assert.True(t, enginerr.IsInvalidRecord(err))
}

func TestReallocateEnforcesConservation(t *testing.T) {
	f := newSwapFixture(t)

	// Mints a moola out of thin air.
	err := f.facet.Reallocate(f.handles(), [][]units.Units{row(1, 7), row(3, 0)})
	assert.True(t, enginerr.IsRightsNotConserved(err))
}

func TestReallocateEnforcesOfferSafety(t *testing.T) {
	f := newSwapFixture(t)

	// Conserving, but alice gets neither her refund nor her winnings.
	err := f.facet.Reallocate(f.handles(), [][]units.Units{row(2, 3), row(1, 4)})
	assert.True(t, enginerr.IsOfferNotSafe(err))

	// The rejected batch left allocations untouched.
	offers, oerr := f.facet.Offers(f.handles())
	require.NoError(t, oerr)
	alg := f.facet.Algebras()
	assert.True(t, alg[0].Equals(offers[0].Current[0], units.NewNat("moola", 3)))
	assert.True(t, alg[1].Equals(offers[1].Current[1], units.NewNat("bucks", 7)))
}

func TestReallocateAndCompleteSwap(t *testing.T) {
	f := newSwapFixture(t)
	ctx := context.Background()

	require.NoError(t, f.facet.Reallocate(f.handles(), [][]units.Units{row(0, 7), row(3, 0)}))

	offers, err := f.facet.Offers(f.handles())
	require.NoError(t, err)
	alg := f.facet.Algebras()
	assert.True(t, alg[1].Equals(offers[0].Current[1], units.NewNat("bucks", 7)))
	assert.True(t, alg[0].Equals(offers[1].Current[0], units.NewNat("moola", 3)))

	require.NoError(t, f.facet.Complete(ctx, f.handles()))

	alicePaid := awaitPayout(t, f.alice.Payout)
	assert.Equal(t, "0 moola", amountOf(t, alicePaid[0]))
	assert.Equal(t, "7 bucks", amountOf(t, alicePaid[1]))

	bobPaid := awaitPayout(t, f.bob.Payout)
	assert.Equal(t, "3 moola", amountOf(t, bobPaid[0]))
	assert.Equal(t, "0 bucks", amountOf(t, bobPaid[1]))

	err = f.facet.Complete(ctx, f.handles())
	assert.True(t, enginerr.IsAlreadyCompleted(err))
}

func TestOfferReadsAreSnapshots(t *testing.T) {
	f := newSwapFixture(t)
	ctx := context.Background()

	offers, err := f.facet.Offers(f.handles())
	require.NoError(t, err)

	// A misbehaving contract writes straight through the records it read,
	// granting bob alice's escrow without any reallocation.
	offers[1].Current[0] = units.NewNat("moola", 3)
	offers[1].Rules[0].Units = units.NewNat("moola", 0)

	// The table never saw the writes.
	reread, err := f.facet.Offers(f.handles())
	require.NoError(t, err)
	alg := f.facet.Algebras()
	assert.True(t, alg[0].Equals(reread[1].Current[0], units.NewNat("moola", 0)))
	assert.True(t, alg[0].Equals(reread[1].Rules[0].Units, units.NewNat("moola", 3)))

	require.NoError(t, f.facet.Complete(ctx, f.handles()))
	bobPaid := awaitPayout(t, f.bob.Payout)
	assert.Equal(t, "0 moola", amountOf(t, bobPaid[0]))
	assert.Equal(t, "7 bucks", amountOf(t, bobPaid[1]))
	alicePaid := awaitPayout(t, f.alice.Payout)
	assert.Equal(t, "3 moola", amountOf(t, alicePaid[0]))
}

func TestFacetCannotTouchForeignOffers(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	moola := custody.NewNatLedger("moola")
	installation := installStub(t, e)

	inviteA, err := e.MakeInstance(ctx, installation, Terms{Assets: []custody.Source{moola.Source()}})
	require.NoError(t, err)

	_, err = e.MakeInstance(ctx, installation, Terms{Assets: []custody.Source{moola.Source()}})
	require.NoError(t, err)
	facetB := lastStub.facet
	require.NotEqual(t, inviteA.Instance(), facetB.InstanceHandle())

	rules := []offer.PayoutRule{
		{Kind: offer.OfferExactly, Asset: moola.Source(), Units: units.NewNat("moola", 3)},
	}
	res, err := e.Redeem(ctx, inviteA, rules, offer.ExitRule{Kind: offer.Waived},
		[]custody.Payment{moola.MintPayment(units.NewNat("moola", 3))})
	require.NoError(t, err)

	// Instance B's facet sees A's offer as if it did not exist.
	err = facetB.Complete(ctx, []handle.Handle{res.OfferHandle})
	assert.True(t, enginerr.IsUnknownHandle(err))

	_, err = facetB.Offers([]handle.Handle{res.OfferHandle})
	assert.True(t, enginerr.IsUnknownHandle(err))

	err = facetB.Reallocate([]handle.Handle{res.OfferHandle},
		[][]units.Units{{units.NewNat("moola", 3)}})
	assert.True(t, enginerr.IsUnknownHandle(err))

	// Untouched: the offer is still active in instance A.
	assert.True(t, e.IsOfferActive(res.OfferHandle))
}

func TestJournalRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	e := newTestEngine(t, WithJournal(j))
	moola := custody.NewNatLedger("moola")

	installation := installStub(t, e)
	invite, err := e.MakeInstance(ctx, installation, Terms{Assets: []custody.Source{moola.Source()}})
	require.NoError(t, err)
	facet := lastStub.facet

	rules := []offer.PayoutRule{
		{Kind: offer.OfferExactly, Asset: moola.Source(), Units: units.NewNat("moola", 3)},
	}
	res, err := e.Redeem(ctx, invite, rules, offer.ExitRule{Kind: offer.Waived},
		[]custody.Payment{moola.MintPayment(units.NewNat("moola", 3))})
	require.NoError(t, err)
	require.NoError(t, facet.Complete(ctx, []handle.Handle{res.OfferHandle}))

	events, err := j.ReadAll(ctx)
	require.NoError(t, err)
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	// The first invite is minted while the contract starts, before the
	// instance record commits.
	assert.Equal(t, []string{
		journal.KindInstall,
		journal.KindInvite,
		journal.KindInstantiate,
		journal.KindRedeem,
		journal.KindComplete,
	}, kinds)

	assert.Equal(t, "stubswap", events[0].Payload["name"])
	assert.Equal(t, "", events[0].Flow)

	flow := invite.Instance().String()
	scoped, err := j.ReadFlow(ctx, flow)
	require.NoError(t, err)
	require.Len(t, scoped, 4)
	for _, ev := range scoped {
		assert.Equal(t, flow, ev.Flow)
	}
}
