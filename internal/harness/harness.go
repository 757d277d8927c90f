// Package harness runs scripted conformance scenarios against a real
// engine and records a deterministic trace of every step's outcome.
//
// Scenarios are YAML fixtures; traces are canonical JSON compared
// against golden files. Determinism comes from three fixtures: a
// sequence minter for handles, a manual timer for deadlines, and
// in-memory ledgers as custodians.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tessera-io/tessera/internal/contracts"
	"github.com/tessera-io/tessera/internal/custody"
	"github.com/tessera-io/tessera/internal/engine"
	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/journal"
	"github.com/tessera-io/tessera/internal/offer"
	"github.com/tessera-io/tessera/internal/testutil"
	"github.com/tessera-io/tessera/internal/units"
)

// awaitTimeout bounds await_payout so a scenario bug (awaiting a payout
// that can never settle) fails the run instead of hanging it.
const awaitTimeout = 5 * time.Second

// Runner executes one scenario against a fresh engine.
type Runner struct {
	scenario *Scenario

	engine *engine.Engine
	timer  *testutil.ManualTimer

	// ledgers in scenario asset order, plus a label index.
	ledgers  []*custody.Ledger
	byLabel  map[string]*custody.Ledger
	invites  map[string]*engine.Invite
	seats    map[string]any
	offers   map[string]handle.Handle
	payouts  map[string]*offer.PayoutFuture
	cancelrs map[string]*offer.Canceler

	trace []map[string]any
}

// Option configures a Runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	logger  *slog.Logger
	journal *journal.Journal
}

// WithLogger sets the engine's logger. Tests default to a discarded one
// so scenario output stays quiet.
func WithLogger(l *slog.Logger) Option {
	return func(c *runnerConfig) { c.logger = l }
}

// WithJournal attaches an audit journal to the scenario's engine.
func WithJournal(j *journal.Journal) Option {
	return func(c *runnerConfig) { c.journal = j }
}

// NewRunner wires a fresh engine for the scenario.
func NewRunner(s *Scenario, opts ...Option) (*Runner, error) {
	cfg := &runnerConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	engineOpts := []engine.Option{
		engine.WithMinter(testutil.NewSequenceMinter("h")),
		engine.WithLogger(cfg.logger),
	}
	if cfg.journal != nil {
		engineOpts = append(engineOpts, engine.WithJournal(cfg.journal))
	}
	eng, err := engine.New(engineOpts...)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		scenario: s,
		engine:   eng,
		timer:    testutil.NewManualTimer(),
		byLabel:  make(map[string]*custody.Ledger),
		invites:  make(map[string]*engine.Invite),
		seats:    make(map[string]any),
		offers:   make(map[string]handle.Handle),
		payouts:  make(map[string]*offer.PayoutFuture),
		cancelrs: make(map[string]*offer.Canceler),
	}
	for _, a := range s.Assets {
		var l *custody.Ledger
		if a.Algebra == "set" {
			l = custody.NewSetLedger(a.Label)
		} else {
			l = custody.NewNatLedger(a.Label)
		}
		r.ledgers = append(r.ledgers, l)
		r.byLabel[a.Label] = l
	}
	return r, nil
}

// Run installs the contract, instantiates it, then executes every step.
// The returned trace has one event per step plus the setup events. A
// step whose outcome disagrees with its Expect field fails the run.
func (r *Runner) Run(ctx context.Context) ([]map[string]any, error) {
	installation, err := r.engine.Install(ctx, engine.ContractCode{
		Format: engine.FormatRegistered,
		Name:   r.scenario.Contract,
	})
	if err != nil {
		return nil, fmt.Errorf("harness: install %q: %w", r.scenario.Contract, err)
	}
	r.record("install", "", "ok", map[string]any{
		"contract":     r.scenario.Contract,
		"installation": installation.String(),
	})

	sources := make([]custody.Source, len(r.ledgers))
	for i, l := range r.ledgers {
		sources[i] = l.Source()
	}
	invite, err := r.engine.MakeInstance(ctx, installation, engine.Terms{Assets: sources})
	if err != nil {
		return nil, fmt.Errorf("harness: instantiate %q: %w", r.scenario.Contract, err)
	}
	r.invites["first"] = invite
	r.record("instantiate", "", "ok", map[string]any{
		"instance": invite.Instance().String(),
	})

	for i, step := range r.scenario.Steps {
		detail, err := r.runStep(ctx, step)
		outcome := "ok"
		if err != nil {
			if code := enginerr.CodeOf(err); code != "" {
				outcome = string(code)
			} else {
				outcome = "error"
			}
		}
		if detail == nil {
			detail = map[string]any{}
		}
		r.record(step.Op, step.Party, outcome, detail)

		switch {
		case step.Expect == "" && err != nil:
			return nil, fmt.Errorf("harness: step %d (%s): unexpected error: %w", i, step.Op, err)
		case step.Expect != "" && err == nil:
			return nil, fmt.Errorf("harness: step %d (%s): expected %s, got success", i, step.Op, step.Expect)
		case step.Expect != "" && outcome != step.Expect:
			return nil, fmt.Errorf("harness: step %d (%s): expected %s, got %s: %w",
				i, step.Op, step.Expect, outcome, err)
		}
	}
	return r.trace, nil
}

func (r *Runner) runStep(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Op {
	case "redeem":
		return r.stepRedeem(ctx, step)
	case "second_invite":
		return r.stepSecondInvite(step)
	case "new_invite":
		return r.stepNewInvite(step)
	case "match":
		return r.stepMatch(ctx, step)
	case "reallocate":
		return r.stepReallocate(step)
	case "complete":
		return r.stepComplete(ctx, step)
	case "cancel":
		return r.stepCancel(ctx, step)
	case "advance_time":
		r.timer.AdvanceTo(step.Time)
		return map[string]any{"time": step.Time}, nil
	case "await_payout":
		return r.stepAwaitPayout(ctx, step)
	default:
		return nil, fmt.Errorf("harness: unknown op %q", step.Op)
	}
}

func (r *Runner) stepRedeem(ctx context.Context, step Step) (map[string]any, error) {
	// The invite stays in the map after use; a scripted double redemption
	// must reach the engine and fail there, not here.
	invite, ok := r.invites[step.Invite]
	if !ok {
		return nil, fmt.Errorf("harness: no saved invite %q", step.Invite)
	}

	rules := make([]offer.PayoutRule, len(step.Rules))
	payments := make([]custody.Payment, len(step.Rules))
	for i, rs := range step.Rules {
		ledger, ok := r.byLabel[rs.Asset]
		if !ok {
			return nil, fmt.Errorf("harness: rule %d names unknown asset %q", i, rs.Asset)
		}
		amount := r.amount(ledger, rs.Amount, rs.Elements)
		kind := offer.RuleKind(rs.Kind)
		rules[i] = offer.PayoutRule{Kind: kind, Asset: ledger.Source(), Units: amount}
		if kind.IsOffer() {
			payments[i] = ledger.MintPayment(amount)
		}
	}

	exit := offer.ExitRule{Kind: offer.Waived}
	if step.Exit != "" {
		exit.Kind = offer.ExitKind(step.Exit)
	}
	if exit.Kind == offer.AfterDeadline {
		exit.Deadline = step.Deadline
		exit.Timer = r.timer
	}

	res, err := r.engine.Redeem(ctx, invite, rules, exit, payments)
	if err != nil {
		return nil, err
	}
	r.seats[step.Party] = res.Seat
	r.offers[step.Party] = res.OfferHandle
	r.payouts[step.Party] = res.Payout
	if res.Canceler != nil {
		r.cancelrs[step.Party] = res.Canceler
	}
	return map[string]any{"offer": res.OfferHandle.String()}, nil
}

func (r *Runner) stepSecondInvite(step Step) (map[string]any, error) {
	seat, err := r.seatOf(step.Party)
	if err != nil {
		return nil, err
	}
	first, ok := seat.(*contracts.FirstSwapSeat)
	if !ok {
		return nil, fmt.Errorf("harness: %s holds a %T, not a first swap seat", step.Party, seat)
	}
	invite, err := first.MakeMatchingInvite()
	if err != nil {
		return nil, err
	}
	r.saveInvite(step.SaveInvite, invite)
	return map[string]any{"invite": invite.Handle().String()}, nil
}

func (r *Runner) stepNewInvite(step Step) (map[string]any, error) {
	seat, err := r.seatOf(step.Party)
	if err != nil {
		return nil, err
	}
	holder, ok := seat.(*contracts.HoldoutSeat)
	if !ok {
		return nil, fmt.Errorf("harness: %s holds a %T, not a holdout seat", step.Party, seat)
	}
	invite, err := holder.NewInvite()
	if err != nil {
		return nil, err
	}
	r.saveInvite(step.SaveInvite, invite)
	return map[string]any{"invite": invite.Handle().String()}, nil
}

func (r *Runner) stepMatch(ctx context.Context, step Step) (map[string]any, error) {
	seat, err := r.seatOf(step.Party)
	if err != nil {
		return nil, err
	}
	second, ok := seat.(*contracts.SecondSwapSeat)
	if !ok {
		return nil, fmt.Errorf("harness: %s holds a %T, not a second swap seat", step.Party, seat)
	}
	return nil, second.Match(ctx)
}

func (r *Runner) stepReallocate(step Step) (map[string]any, error) {
	seat, err := r.seatOf(step.Party)
	if err != nil {
		return nil, err
	}
	holder, ok := seat.(*contracts.HoldoutSeat)
	if !ok {
		return nil, fmt.Errorf("harness: %s holds a %T, not a holdout seat", step.Party, seat)
	}
	handles, err := r.offerHandles(step.Offers)
	if err != nil {
		return nil, err
	}
	matrix := make([][]units.Units, len(step.Allocations))
	for i, row := range step.Allocations {
		cells := make([]units.Units, len(row))
		for k, cell := range row {
			ledger, ok := r.byLabel[cell.Asset]
			if !ok {
				return nil, fmt.Errorf("harness: allocation names unknown asset %q", cell.Asset)
			}
			cells[k] = r.amount(ledger, cell.Amount, cell.Elements)
		}
		matrix[i] = cells
	}
	return nil, holder.Reallocate(handles, matrix)
}

func (r *Runner) stepComplete(ctx context.Context, step Step) (map[string]any, error) {
	seat, err := r.seatOf(step.Party)
	if err != nil {
		return nil, err
	}
	holder, ok := seat.(*contracts.HoldoutSeat)
	if !ok {
		return nil, fmt.Errorf("harness: %s holds a %T, not a holdout seat", step.Party, seat)
	}
	handles, err := r.offerHandles(step.Offers)
	if err != nil {
		return nil, err
	}
	return nil, holder.Complete(ctx, handles)
}

func (r *Runner) stepCancel(ctx context.Context, step Step) (map[string]any, error) {
	canceler, ok := r.cancelrs[step.Party]
	if !ok {
		return nil, fmt.Errorf("harness: %s holds no cancel capability", step.Party)
	}
	return nil, canceler.Cancel(ctx)
}

func (r *Runner) stepAwaitPayout(ctx context.Context, step Step) (map[string]any, error) {
	future, ok := r.payouts[step.Party]
	if !ok {
		return nil, fmt.Errorf("harness: %s has no payout future", step.Party)
	}
	ctx, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()
	payments, err := future.Await(ctx)
	if err != nil {
		return nil, err
	}

	amounts := make([]any, len(payments))
	byKind := make(map[string]units.Units)
	for i, pmt := range payments {
		mp, ok := pmt.(*custody.MemoryPayment)
		if !ok {
			return nil, fmt.Errorf("harness: payout payment %d is a %T", i, pmt)
		}
		amounts[i] = mp.Amount().String()
		byKind[mp.Amount().Kind()] = mp.Amount()
	}

	for _, want := range step.Payout {
		ledger, ok := r.byLabel[want.Asset]
		if !ok {
			return nil, fmt.Errorf("harness: expected payout names unknown asset %q", want.Asset)
		}
		got, ok := byKind[want.Asset]
		if !ok {
			return nil, fmt.Errorf("harness: payout for %s has no %s payment", step.Party, want.Asset)
		}
		expected := r.amount(ledger, want.Amount, want.Elements)
		if !ledger.Algebra().Equals(got, expected) {
			return nil, fmt.Errorf("harness: %s payout of %s: got %v, want %v",
				step.Party, want.Asset, got, expected)
		}
	}
	return map[string]any{"amounts": amounts}, nil
}

// amount builds a Units value for a ledger from the scenario's numeric
// or element form.
func (r *Runner) amount(l *custody.Ledger, amount uint64, elems []string) units.Units {
	if _, ok := l.Algebra().Empty().(units.Set); ok {
		return units.NewSet(l.Label(), elems...)
	}
	return units.NewNat(l.Label(), amount)
}

func (r *Runner) seatOf(party string) (any, error) {
	seat, ok := r.seats[party]
	if !ok {
		return nil, fmt.Errorf("harness: %s holds no seat", party)
	}
	return seat, nil
}

func (r *Runner) offerHandles(parties []string) ([]handle.Handle, error) {
	out := make([]handle.Handle, len(parties))
	for i, p := range parties {
		h, ok := r.offers[p]
		if !ok {
			return nil, fmt.Errorf("harness: %s holds no offer", p)
		}
		out[i] = h
	}
	return out, nil
}

func (r *Runner) saveInvite(name string, invite *engine.Invite) {
	if name == "" {
		name = "invite"
	}
	r.invites[name] = invite
}

func (r *Runner) record(op, party, outcome string, detail map[string]any) {
	ev := map[string]any{
		"step":    len(r.trace),
		"op":      op,
		"outcome": outcome,
	}
	if party != "" {
		ev["party"] = party
	}
	for k, v := range detail {
		ev[k] = v
	}
	r.trace = append(r.trace, ev)
}
