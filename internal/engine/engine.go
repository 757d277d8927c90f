// Package engine is the trusted settlement mediator.
//
// Mutually distrusting parties escrow assets with the engine, delegate
// match-making to untrusted contract code, and receive assets back
// according to rules they agreed to in advance. Independent of anything
// the contract does, the engine guarantees two global properties across
// every reallocation:
//
//   - rights conservation: no value is created or destroyed for any
//     asset kind;
//   - offer safety: every party ends up with a full refund of what they
//     put in, a full satisfaction of what they asked for, or both —
//     never an unsafe partial mix.
//
// Concurrency model: there is no global lock beyond one commit mutex.
// Every table-touching invariant-check-and-commit segment runs under it
// as a non-preemptible logical step; legs that cross into collaborators
// (custodian deposits and withdrawals, metadata queries, contract entry
// points) run outside it and may interleave freely. Completion races are
// decided by the offer table's create-once/delete-once semantics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tessera-io/tessera/internal/custody"
	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/journal"
	"github.com/tessera-io/tessera/internal/offer"
	"github.com/tessera-io/tessera/internal/registry"
	"github.com/tessera-io/tessera/internal/table"
)

// Engine is the public settlement service.
type Engine struct {
	commitMu sync.Mutex
	minter   handle.Minter
	logger   *slog.Logger
	journal  *journal.Journal

	registry      *registry.Registry
	offers        *offer.Manager
	installations *table.Table[*Installation]
	instances     *table.Table[*Instance]

	seatsMu sync.Mutex
	seats   map[handle.Handle]any
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	minter  handle.Minter
	logger  *slog.Logger
	journal *journal.Journal
}

// WithMinter overrides the handle minter. Tests use a deterministic
// minter for stable golden traces.
func WithMinter(m handle.Minter) Option {
	return func(c *config) { c.minter = m }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithJournal attaches a settlement journal. Every state-changing verb
// appends one event; journaling failures are logged, never propagated,
// because the journal is an audit surface, not a decision input.
func WithJournal(j *journal.Journal) Option {
	return func(c *config) { c.journal = j }
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	cfg := &config{
		minter: handle.UUIDv7Minter{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{
		minter:  cfg.minter,
		logger:  cfg.logger,
		journal: cfg.journal,
		seats:   make(map[handle.Handle]any),
	}

	reg, err := registry.New(cfg.minter, cfg.logger)
	if err != nil {
		return nil, err
	}
	e.registry = reg

	offers, err := offer.NewManager(&e.commitMu, cfg.minter, reg, cfg.logger)
	if err != nil {
		return nil, err
	}
	e.offers = offers

	e.installations, err = table.New[*Installation]("installations", installationSchema, "#Installation")
	if err != nil {
		return nil, err
	}
	e.instances, err = table.New[*Instance]("instances", instanceSchema, "#Instance")
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Install registers contract code and returns its installation handle.
// Fails with UnsupportedModuleFormat for unrecognized code formats or
// unregistered contract names.
func (e *Engine) Install(ctx context.Context, code ContractCode) (handle.Handle, error) {
	if code.Format != FormatRegistered {
		return handle.Handle{}, enginerr.Newf(enginerr.CodeUnsupportedModuleFormat,
			"install: unrecognized code format %q", code.Format)
	}
	if _, ok := lookupContract(code.Name); !ok {
		return handle.Handle{}, enginerr.Newf(enginerr.CodeUnsupportedModuleFormat,
			"install: no registered contract %q", code.Name)
	}

	h := e.minter.Mint()
	rec := &Installation{Handle: h, Code: code}

	e.commitMu.Lock()
	err := e.installations.Create(h, rec)
	e.commitMu.Unlock()
	if err != nil {
		return handle.Handle{}, err
	}

	e.appendJournal(ctx, journal.KindInstall, "", map[string]any{
		"installation": h.String(),
		"name":         code.Name,
	})
	e.logger.Info("contract installed", "installation", h.String(), "name", code.Name)
	return h, nil
}

// MakeInstance instantiates installed contract code against the asset
// kinds named by terms and returns the contract's first invite.
//
// The instance's asset kinds are resolved through the registry, the
// contract's entry point runs exactly once with a fresh contract facet,
// and the returned public API and terms are persisted as the Instance
// record.
func (e *Engine) MakeInstance(ctx context.Context, installation handle.Handle, terms Terms) (*Invite, error) {
	inst, err := e.installations.Get(installation)
	if err != nil {
		return nil, err
	}
	ctor, ok := lookupContract(inst.Code.Name)
	if !ok {
		return nil, enginerr.Newf(enginerr.CodeUnsupportedModuleFormat,
			"instantiate: contract %q no longer registered", inst.Code.Name)
	}

	kinds, err := e.registry.ResolveAll(ctx, terms.Assets)
	if err != nil {
		return nil, err
	}

	instanceHandle := e.minter.Mint()
	facet := &ContractFacet{engine: e, instance: instanceHandle, kinds: kinds}

	// The contract entry point is untrusted collaborator code; it runs
	// outside the commit mutex and may call back into the facet.
	result, err := ctor().Start(facet, terms)
	if err != nil {
		return nil, fmt.Errorf("instantiate %q: %w", inst.Code.Name, err)
	}
	if result.Invite == nil {
		return nil, fmt.Errorf("instantiate %q: contract returned no invite", inst.Code.Name)
	}

	rec := &Instance{
		Handle:       instanceHandle,
		Installation: installation,
		Kinds:        kinds,
		Terms:        result.Terms,
		PublicAPI:    result.PublicAPI,
	}
	e.commitMu.Lock()
	err = e.instances.Create(instanceHandle, rec)
	e.commitMu.Unlock()
	if err != nil {
		return nil, err
	}

	labels := make([]any, len(kinds))
	for i, k := range kinds {
		labels[i] = k.Label
	}
	e.appendJournal(ctx, journal.KindInstantiate, instanceHandle.String(), map[string]any{
		"instance":     instanceHandle.String(),
		"installation": installation.String(),
		"kinds":        labels,
	})
	e.logger.Info("contract instantiated",
		"instance", instanceHandle.String(), "name", inst.Code.Name)
	return result.Invite, nil
}

// GetInstance returns the instance record. Pure lookup; fails with
// UnknownHandle.
func (e *Engine) GetInstance(h handle.Handle) (*Instance, error) {
	return e.instances.Get(h)
}

// EscrowResult is what the public escrow verbs hand back.
type EscrowResult struct {
	OfferHandle handle.Handle
	Payout      *offer.PayoutFuture

	// Canceler is non-nil only for OnDemand exit rules.
	Canceler *offer.Canceler
}

// Escrow deposits payments against payout rules and creates an offer not
// bound to any instance seat.
func (e *Engine) Escrow(ctx context.Context, rules []offer.PayoutRule, exit offer.ExitRule, payments []custody.Payment) (*EscrowResult, error) {
	res, err := e.offers.Escrow(ctx, rules, exit, payments, handle.Handle{}, handle.Handle{})
	if err != nil {
		return nil, err
	}
	e.journalEscrow(ctx, journal.KindEscrow, res.OfferHandle, handle.Handle{}, rules)
	return &EscrowResult{OfferHandle: res.OfferHandle, Payout: res.Payout, Canceler: res.Canceler}, nil
}

// RedeemResult is what a successful invite redemption hands back.
type RedeemResult struct {
	Seat        any
	OfferHandle handle.Handle
	Payout      *offer.PayoutFuture
	Canceler    *offer.Canceler
}

// Redeem burns the invite, escrows payments against the payout rules,
// and returns the seat bound to the invite at mint time. The invite's
// handle is reused as the offer handle. Fails with InvalidInvite if the
// invite's handle is unrecognized or already redeemed.
func (e *Engine) Redeem(ctx context.Context, invite *Invite, rules []offer.PayoutRule, exit offer.ExitRule, payments []custody.Payment) (*RedeemResult, error) {
	if invite == nil {
		return nil, enginerr.New(enginerr.CodeInvalidInvite, "redeem: nil invite")
	}

	// Burn first: the handle-to-seat binding is removed before escrow,
	// so a racing second redemption of the same invite fails here.
	e.seatsMu.Lock()
	seat, ok := e.seats[invite.handle]
	if ok {
		delete(e.seats, invite.handle)
	}
	e.seatsMu.Unlock()
	if !ok {
		return nil, enginerr.WithHandle(enginerr.CodeInvalidInvite,
			"redeem: invite unrecognized or already redeemed", invite.handle.String())
	}

	res, err := e.offers.Escrow(ctx, rules, exit, payments, invite.instance, invite.handle)
	if err != nil {
		return nil, err
	}
	e.journalEscrow(ctx, journal.KindRedeem, res.OfferHandle, invite.instance, rules)
	return &RedeemResult{
		Seat:        seat,
		OfferHandle: res.OfferHandle,
		Payout:      res.Payout,
		Canceler:    res.Canceler,
	}, nil
}

// PayoutFutureFor returns the payout future for an offer handle a party
// holds, whether the offer is still active or already completed.
func (e *Engine) PayoutFutureFor(h handle.Handle) (*offer.PayoutFuture, error) {
	return e.offers.PayoutFutureFor(h)
}

// IsOfferActive reports whether h names an active offer.
func (e *Engine) IsOfferActive(h handle.Handle) bool {
	return e.offers.IsActive(h)
}

func (e *Engine) journalEscrow(ctx context.Context, kind string, offerHandle, instance handle.Handle, rules []offer.PayoutRule) {
	ruleDocs := make([]any, len(rules))
	for i, r := range rules {
		ruleDocs[i] = map[string]any{
			"kind":  string(r.Kind),
			"units": fmt.Sprintf("%v", r.Units),
		}
	}
	e.appendJournal(ctx, kind, instance.String(), map[string]any{
		"offer":    offerHandle.String(),
		"instance": instance.String(),
		"rules":    ruleDocs,
	})
}

// appendJournal records an audit event. Failures are logged and
// swallowed: the journal never gates settlement.
func (e *Engine) appendJournal(ctx context.Context, kind, flow string, payload map[string]any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, kind, flow, payload); err != nil {
		e.logger.Error("journal append failed", "kind", kind, "err", err)
	}
}
