package offer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tessera-io/tessera/internal/custody"
	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/registry"
	"github.com/tessera-io/tessera/internal/table"
	"github.com/tessera-io/tessera/internal/units"
)

//go:embed offers.cue
var offerSchema string

// Manager owns the offer table and the escrow/completion state machine.
//
// Every table-touching segment (record creation, reallocation commit,
// completion removal, reads that must see a consistent multi-offer view)
// runs under one commit mutex, so no two such segments ever interleave.
// Custodian deposits and withdrawals run outside the mutex: they may
// suspend on the collaborator without blocking commits of unrelated
// calls.
type Manager struct {
	commitMu *sync.Mutex
	minter   handle.Minter
	registry *registry.Registry
	table    *table.Table[*Offer]
	logger   *slog.Logger

	futuresMu sync.Mutex
	futures   map[handle.Handle]*PayoutFuture
}

// NewManager creates a lifecycle manager sharing the engine's commit
// mutex.
func NewManager(commitMu *sync.Mutex, minter handle.Minter, reg *registry.Registry, logger *slog.Logger) (*Manager, error) {
	tbl, err := table.New[*Offer]("offers", offerSchema, "#Offer")
	if err != nil {
		return nil, fmt.Errorf("offer: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		commitMu: commitMu,
		minter:   minter,
		registry: reg,
		table:    tbl,
		logger:   logger,
		futures:  make(map[handle.Handle]*PayoutFuture),
	}, nil
}

// EscrowResult is what a successful escrow hands back to the party.
type EscrowResult struct {
	OfferHandle handle.Handle
	Payout      *PayoutFuture

	// Canceler is non-nil only for OnDemand exit rules.
	Canceler *Canceler
}

// Escrow turns payout rules plus payments into an active Offer.
//
// Payments align with rules by index and the whole shape is checked
// before the first deposit: an offer rule must carry a payment, a want
// rule must not (UnexpectedPayment), so a rejected escrow never consumes
// anything. An "offer" rule deposits its payment for exactly the declared
// amount and records the coerced result as the initial allocation; a
// "want" rule starts at the algebra's empty value.
//
// The Offer record and its payout future are created only after every
// deposit settles, so creation is all-or-nothing across asset kinds: an
// escrow that fails mid-deposit never creates an Offer. If reuse is a
// non-zero handle (the invite-redemption path) it becomes the offer
// handle; otherwise a fresh handle is minted.
func (m *Manager) Escrow(ctx context.Context, rules []PayoutRule, exit ExitRule, payments []custody.Payment, instance handle.Handle, reuse handle.Handle) (*EscrowResult, error) {
	if err := validateRules(rules, payments); err != nil {
		return nil, err
	}

	// Resolve every rule's asset kind up front. De-duplication in the
	// registry makes repeats cheap.
	kinds := make([]*registry.Record, len(rules))
	for i, r := range rules {
		rec, err := m.registry.Resolve(ctx, r.Asset)
		if err != nil {
			return nil, err
		}
		kinds[i] = rec
	}

	// Deposit leg: may suspend on the custodian, runs outside the
	// commit mutex.
	current := make([]units.Units, len(rules))
	for i, r := range rules {
		alg := kinds[i].Algebra
		declared, err := alg.Coerce(r.Units)
		if err != nil {
			return nil, err
		}
		if r.Kind.IsOffer() {
			actual, err := kinds[i].Purse.DepositExactly(ctx, declared, payments[i])
			if err != nil {
				return nil, fmt.Errorf("escrow: deposit %v: %w", declared, err)
			}
			coerced, err := alg.Coerce(actual)
			if err != nil {
				return nil, fmt.Errorf("escrow: custodian returned bad amount: %w", err)
			}
			if !alg.Equals(coerced, declared) {
				return nil, fmt.Errorf("escrow: custodian deposited %v, declared %v", coerced, declared)
			}
			current[i] = coerced
		} else {
			current[i] = alg.Empty()
		}
	}

	h := reuse
	if h.IsZero() {
		h = m.minter.Mint()
	}
	o := &Offer{
		Handle:   h,
		Instance: instance,
		Kinds:    kinds,
		Rules:    rules,
		Exit:     exit,
		Current:  current,
	}

	future := NewPayoutFuture()

	m.commitMu.Lock()
	err := m.table.Create(h, o)
	if err == nil {
		m.futuresMu.Lock()
		m.futures[h] = future
		m.futuresMu.Unlock()
	}
	m.commitMu.Unlock()
	if err != nil {
		return nil, err
	}

	result := &EscrowResult{OfferHandle: h, Payout: future}
	switch exit.Kind {
	case OnDemand:
		result.Canceler = &Canceler{manager: m, offer: h}
	case AfterDeadline:
		m.registerDeadline(o)
	}

	m.logger.Debug("offer escrowed", "offer", h.String(), "instance", instance.String())
	return result, nil
}

// Complete removes the given offers from the active table and resolves
// their payout futures with withdrawn payments.
//
// The whole batch is validated first: if any handle is already inactive
// the call fails with AlreadyCompleted (UnknownHandle for handles never
// escrowed) and no offer is touched. Table removal happens before any
// withdrawal; once removed, no reallocation can ever target the offer
// again, even if a withdrawal stalls or fails. A custodian failure during
// one offer's withdrawal rejects that offer's future only.
func (m *Manager) Complete(ctx context.Context, handles []handle.Handle) error {
	return m.complete(ctx, handles, nil)
}

// CompleteOwned is Complete restricted to offers belonging to one
// instance. A contract facet uses it so that contract code can never
// complete another instance's offers; a foreign handle is reported as
// UnknownHandle, exactly as if it did not exist.
func (m *Manager) CompleteOwned(ctx context.Context, handles []handle.Handle, instance handle.Handle) error {
	return m.complete(ctx, handles, func(o *Offer) error {
		if o.Instance != instance {
			return enginerr.WithHandle(enginerr.CodeUnknownHandle,
				"offers: no such record", o.Handle.String())
		}
		return nil
	})
}

func (m *Manager) complete(ctx context.Context, handles []handle.Handle, check func(*Offer) error) error {
	m.commitMu.Lock()
	offers := make([]*Offer, len(handles))
	for i, h := range handles {
		o, err := m.table.Get(h)
		if err != nil {
			m.commitMu.Unlock()
			if m.table.WasCreated(h) {
				return enginerr.WithHandle(enginerr.CodeAlreadyCompleted,
					"offer already completed", h.String())
			}
			return err
		}
		if check != nil {
			if err := check(o); err != nil {
				m.commitMu.Unlock()
				return err
			}
		}
		offers[i] = o
	}
	for _, h := range handles {
		m.table.Delete(h)
	}
	m.commitMu.Unlock()

	// Withdrawal leg: per-offer, independent, outside the mutex.
	for _, o := range offers {
		m.payOut(ctx, o)
	}
	return nil
}

// payOut withdraws one completed offer's current allocation and settles
// its payout future.
func (m *Manager) payOut(ctx context.Context, o *Offer) {
	future := m.future(o.Handle)
	payments := make([]custody.Payment, len(o.Kinds))
	for i, kind := range o.Kinds {
		tag := fmt.Sprintf("payout %s %s", o.Handle.String(), kind.Label)
		pmt, err := kind.Purse.Withdraw(ctx, o.Current[i], tag)
		if err != nil {
			m.logger.Warn("payout withdrawal failed",
				"offer", o.Handle.String(), "kind", kind.Label, "err", err)
			future.reject(fmt.Errorf("payout %s: %w", kind.Label, err))
			return
		}
		payments[i] = pmt
	}
	future.resolve(payments)
	m.logger.Debug("offer completed", "offer", o.Handle.String())
}

// registerDeadline schedules the one-shot wakeup for an AfterDeadline
// exit. The wakeup races with voluntary contract completion; whichever
// reaches the table first wins, and the loser's AlreadyCompleted is
// expected and swallowed.
func (m *Manager) registerDeadline(o *Offer) {
	h := o.Handle
	o.Exit.Timer.SetWakeup(o.Exit.Deadline, custody.WakerFunc(func() {
		if err := m.Complete(context.Background(), []handle.Handle{h}); err != nil {
			if enginerr.IsAlreadyCompleted(err) {
				m.logger.Debug("deadline fired after completion", "offer", h.String())
				return
			}
			m.logger.Warn("deadline completion failed", "offer", h.String(), "err", err)
		}
	}))
}

// Reallocate atomically replaces the current allocations of the named
// offers with newUnits, provided validate accepts the loaded batch.
//
// Loading, validation, and commit all run under the commit mutex as one
// logical step: either every named offer's allocation is replaced or none
// is, and no other operation observes an intermediate state. validate is
// called with the offers in handle order and must be pure.
func (m *Manager) Reallocate(handles []handle.Handle, newUnits [][]units.Units, validate func(offers []*Offer) error) error {
	if len(newUnits) != len(handles) {
		return enginerr.Newf(enginerr.CodeInvalidRecord,
			"reallocate: %d allocations for %d offers", len(newUnits), len(handles))
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	offers := make([]*Offer, len(handles))
	for i, h := range handles {
		o, err := m.table.Get(h)
		if err != nil {
			if m.table.WasCreated(h) {
				return enginerr.WithHandle(enginerr.CodeAlreadyCompleted,
					"reallocation names a completed offer", h.String())
			}
			return err
		}
		offers[i] = o
	}

	if err := validate(offers); err != nil {
		return err
	}

	for i, h := range handles {
		row := newUnits[i]
		if err := m.table.Update(h, func(o **Offer) {
			updated := **o
			updated.Current = row
			*o = &updated
		}); err != nil {
			// Validation re-ran against the schema; with a validated
			// batch this is unreachable, but surface it loudly if a
			// schema/documents mismatch ever slips in.
			return fmt.Errorf("reallocate: commit %s: %w", h.String(), err)
		}
	}
	return nil
}

// Get returns the active offer for h.
func (m *Manager) Get(h handle.Handle) (*Offer, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	return m.table.Get(h)
}

// Offers returns the active offers for handles, in order.
func (m *Manager) Offers(handles []handle.Handle) ([]*Offer, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	out := make([]*Offer, len(handles))
	for i, h := range handles {
		o, err := m.table.Get(h)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

// IsActive reports whether h names an active offer.
func (m *Manager) IsActive(h handle.Handle) bool {
	return m.table.Has(h)
}

// Statuses splits handles into active and inactive sets. A handle that
// was never escrowed fails with UnknownHandle.
func (m *Manager) Statuses(handles []handle.Handle) (active, inactive []handle.Handle, err error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	for _, h := range handles {
		switch {
		case m.table.Has(h):
			active = append(active, h)
		case m.table.WasCreated(h):
			inactive = append(inactive, h)
		default:
			return nil, nil, enginerr.WithHandle(enginerr.CodeUnknownHandle,
				"offers: no such record", h.String())
		}
	}
	return active, inactive, nil
}

// PayoutFutureFor returns the payout future for an offer handle, active
// or completed. Fails with UnknownHandle for handles never escrowed.
func (m *Manager) PayoutFutureFor(h handle.Handle) (*PayoutFuture, error) {
	m.futuresMu.Lock()
	defer m.futuresMu.Unlock()
	f, ok := m.futures[h]
	if !ok {
		return nil, enginerr.WithHandle(enginerr.CodeUnknownHandle,
			"offers: no payout future", h.String())
	}
	return f, nil
}

// future returns the settled-or-not future for a known handle.
func (m *Manager) future(h handle.Handle) *PayoutFuture {
	m.futuresMu.Lock()
	defer m.futuresMu.Unlock()
	return m.futures[h]
}

// Canceler is the capability an OnDemand escrow hands back: it completes
// exactly one offer on the party's demand. A second cancel, or a cancel
// after the contract completed the offer, fails with AlreadyCompleted —
// expected for intentional racers.
type Canceler struct {
	manager *Manager
	offer   handle.Handle
}

// Cancel completes the offer, resolving its payout to whatever the
// party's current allocation is (the original deposit if no reallocation
// happened).
func (c *Canceler) Cancel(ctx context.Context) error {
	return c.manager.Complete(ctx, []handle.Handle{c.offer})
}

// validateRules rejects malformed rule and payment lists up front. Shape
// errors must fail before the first deposit: a rejected escrow never
// consumes any payment.
func validateRules(rules []PayoutRule, payments []custody.Payment) error {
	if len(payments) != len(rules) {
		return enginerr.Newf(enginerr.CodeInvalidRecord,
			"escrow: %d payments for %d rules", len(payments), len(rules))
	}
	for i, r := range rules {
		if r.Kind == "" {
			return enginerr.Newf(enginerr.CodeMissingRule, "escrow: rule %d is missing", i)
		}
		if !r.Kind.Recognized() {
			return enginerr.Newf(enginerr.CodeUnrecognizedRuleKind,
				"escrow: rule %d has kind %q", i, r.Kind)
		}
		if r.Asset == nil {
			return enginerr.Newf(enginerr.CodeInvalidRecord, "escrow: rule %d names no asset kind", i)
		}
		if r.Units == nil {
			return enginerr.Newf(enginerr.CodeInvalidRecord, "escrow: rule %d has no units", i)
		}
		if r.Kind.IsOffer() && payments[i] == nil {
			return enginerr.Newf(enginerr.CodeInvalidRecord,
				"escrow: rule %d (%s) has no payment to deposit", i, r.Kind)
		}
		if r.Kind.IsWant() && payments[i] != nil {
			return enginerr.Newf(enginerr.CodeUnexpectedPayment,
				"escrow: rule %d (%s) does not escrow, but a payment was supplied", i, r.Kind)
		}
	}
	return nil
}
