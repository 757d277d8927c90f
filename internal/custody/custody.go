// Package custody declares the collaborator contracts the engine consumes:
// asset custody (purses), asset-kind metadata sources, and the timer used
// for deadline-based exits.
//
// The engine never implements asset creation or balance durability itself;
// it calls these interfaces and propagates their failures verbatim to
// whoever initiated the operation. A memory-backed implementation for
// tests, the conformance harness, and the demo CLI lives in memory.go.
package custody

import (
	"context"

	"github.com/tessera-io/tessera/internal/units"
)

// Payment is an opaque claim on escrowed value, issued and redeemed only
// by a custodian. The engine stores and forwards payments; it never
// inspects them.
type Payment interface {
	payment()
}

// Purse holds escrowed value for one asset kind.
type Purse interface {
	// DepositExactly deposits pmt for exactly the declared amount. The
	// returned amount must equal declared; the engine coerces it through
	// the kind's algebra and rejects mismatches, but does not otherwise
	// second-guess the custodian.
	DepositExactly(ctx context.Context, declared units.Units, pmt Payment) (any, error)

	// Withdraw removes amount from the purse and returns a payment for
	// it. The tag is a human-readable label for the custodian's records.
	Withdraw(ctx context.Context, amount units.Units, tag string) (Payment, error)
}

// Source is an asset-kind metadata source: the external reference a party
// supplies to name an asset kind. Sources must be comparable by identity
// (pointer-implemented); the registry keys its cache and in-flight map on
// that identity.
type Source interface {
	// Label returns the kind's human-readable label.
	Label(ctx context.Context) (string, error)

	// AlgebraSpec returns the descriptor of the kind's unit algebra.
	AlgebraSpec(ctx context.Context) (units.Spec, error)

	// MakeEmptyPurse opens a fresh custody purse for the kind.
	MakeEmptyPurse(ctx context.Context) (Purse, error)
}

// Waker is the timer callback. Wake is called at most once per wakeup.
type Waker interface {
	Wake()
}

// Timer schedules one-shot wakeups. The engine has no retry or timeout
// logic of its own; deadlines are delegated entirely to the timer
// collaborator.
type Timer interface {
	SetWakeup(deadline int64, waker Waker)
}

// WakerFunc adapts a function to the Waker interface.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }
