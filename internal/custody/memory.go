package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/tessera-io/tessera/internal/units"
)

// Ledger is an in-memory mint for one asset kind. It issues payments,
// keeps purse balances, and enforces that a payment is spent at most
// once. Tests, the conformance harness, and the demo CLI use it as the
// custodian; the engine only ever sees the Source/Purse interfaces.
type Ledger struct {
	label string
	spec  units.Spec
	alg   units.Algebra

	mu     sync.Mutex
	source *ledgerSource
}

// NewNatLedger creates a ledger for a fungible asset kind.
func NewNatLedger(label string) *Ledger {
	return newLedger(label, units.Spec{Name: "nat"}, units.NewNatAlgebra(label))
}

// NewSetLedger creates a ledger for a non-fungible asset kind.
func NewSetLedger(label string) *Ledger {
	return newLedger(label, units.Spec{Name: "set"}, units.NewSetAlgebra(label))
}

func newLedger(label string, spec units.Spec, alg units.Algebra) *Ledger {
	l := &Ledger{label: label, spec: spec, alg: alg}
	l.source = &ledgerSource{ledger: l}
	return l
}

// Label returns the asset-kind label.
func (l *Ledger) Label() string { return l.label }

// Algebra returns the ledger's unit algebra.
func (l *Ledger) Algebra() units.Algebra { return l.alg }

// Source returns the metadata source parties hand to the engine to name
// this asset kind. The same *Ledger always returns the same Source, so
// registry de-duplication keys on it correctly.
func (l *Ledger) Source() Source { return l.source }

// MintPayment issues a fresh payment for the given amount.
// Panics if amount is of a foreign kind (programming error in fixtures).
func (l *Ledger) MintPayment(amount units.Units) *MemoryPayment {
	if amount.Kind() != l.label {
		panic(fmt.Sprintf("custody: minting %q payment on %q ledger", amount.Kind(), l.label))
	}
	return &MemoryPayment{ledger: l, amount: amount}
}

// MemoryPayment is a single-use claim issued by a Ledger.
type MemoryPayment struct {
	ledger *Ledger

	mu     sync.Mutex
	amount units.Units
	spent  bool
}

func (*MemoryPayment) payment() {}

// Amount returns the payment's face value. Harness assertions use this;
// the engine never does.
func (p *MemoryPayment) Amount() units.Units {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amount
}

// take consumes the payment, failing if it was already spent or belongs
// to another ledger.
func (p *MemoryPayment) take(l *Ledger) (units.Units, error) {
	if p.ledger != l {
		return nil, fmt.Errorf("custody: payment from foreign ledger %q", p.ledger.label)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spent {
		return nil, fmt.Errorf("custody: payment already spent")
	}
	p.spent = true
	return p.amount, nil
}

// ledgerSource implements Source for a Ledger.
type ledgerSource struct {
	ledger *Ledger
}

func (s *ledgerSource) Label(ctx context.Context) (string, error) {
	return s.ledger.label, nil
}

func (s *ledgerSource) AlgebraSpec(ctx context.Context) (units.Spec, error) {
	return s.ledger.spec, nil
}

func (s *ledgerSource) MakeEmptyPurse(ctx context.Context) (Purse, error) {
	return &memoryPurse{ledger: s.ledger, balance: s.ledger.alg.Empty()}, nil
}

// memoryPurse holds a balance for one ledger.
type memoryPurse struct {
	ledger *Ledger

	mu      sync.Mutex
	balance units.Units
}

// DepositExactly consumes pmt and credits the purse. The payment's face
// value must equal the declared amount; a mismatch is surfaced as the
// custodian's error before anything is consumed.
func (p *memoryPurse) DepositExactly(ctx context.Context, declared units.Units, pmt Payment) (any, error) {
	mp, ok := pmt.(*MemoryPayment)
	if !ok {
		return nil, fmt.Errorf("custody: %T is not a ledger payment", pmt)
	}
	// Provenance before amounts: a foreign payment's face value may not
	// even be of this ledger's kind.
	if mp.ledger != p.ledger {
		return nil, fmt.Errorf("custody: payment from foreign ledger %q", mp.ledger.label)
	}
	alg := p.ledger.alg
	if !alg.Equals(mp.Amount(), declared) {
		return nil, fmt.Errorf("custody: payment of %v does not match declared %v", mp.Amount(), declared)
	}
	amount, err := mp.take(p.ledger)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.balance = alg.With(p.balance, amount)
	p.mu.Unlock()
	return amount, nil
}

// Withdraw debits the purse and issues a payment for the amount.
func (p *memoryPurse) Withdraw(ctx context.Context, amount units.Units, tag string) (Payment, error) {
	alg := p.ledger.alg
	p.mu.Lock()
	defer p.mu.Unlock()
	if !alg.Includes(p.balance, amount) {
		return nil, fmt.Errorf("custody: purse balance %v cannot cover %v (%s)", p.balance, amount, tag)
	}
	rest, err := subtract(p.balance, amount)
	if err != nil {
		return nil, fmt.Errorf("custody: %s: %w", tag, err)
	}
	p.balance = rest
	return &MemoryPayment{ledger: p.ledger, amount: amount}, nil
}

// Balance returns the purse's current holding. Test-only introspection.
func (p *memoryPurse) Balance() units.Units {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// subtract is the ledger's internal inverse of With. The algebras do not
// expose subtraction because the engine never needs it; only the
// custodian's own bookkeeping does.
func subtract(total, part units.Units) (units.Units, error) {
	switch tv := total.(type) {
	case units.Nat:
		pv := part.(units.Nat)
		diff := new(uint256.Int)
		if _, underflow := diff.SubOverflow(tv.Amount(), pv.Amount()); underflow {
			return nil, fmt.Errorf("underflow subtracting %v from %v", part, total)
		}
		return units.NewNatBig(tv.Kind(), diff), nil
	case units.Set:
		pv := part.(units.Set)
		remaining := tv.Elements()
		for _, elem := range pv.Elements() {
			idx := -1
			for i, have := range remaining {
				if have == elem {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("element %q not held", elem)
			}
			remaining = append(remaining[:idx], remaining[idx+1:]...)
		}
		return units.NewSet(tv.Kind(), remaining...), nil
	default:
		return nil, fmt.Errorf("unsupported units %T", total)
	}
}
