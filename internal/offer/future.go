package offer

import (
	"context"
	"sync"

	"github.com/tessera-io/tessera/internal/custody"
)

// PayoutFuture is a single-resolution future for one offer's payout.
// It is created alongside the Offer record and settled exactly once, to
// the array of withdrawn payments (one per asset kind, in the offer's
// kind order) or to the custodian error that prevented withdrawal.
type PayoutFuture struct {
	done chan struct{}
	once sync.Once

	payments []custody.Payment
	err      error
}

// NewPayoutFuture creates an unsettled future.
func NewPayoutFuture() *PayoutFuture {
	return &PayoutFuture{done: make(chan struct{})}
}

// Await blocks until the future settles or ctx is done.
func (f *PayoutFuture) Await(ctx context.Context) ([]custody.Payment, error) {
	select {
	case <-f.done:
		return f.payments, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the future has resolved or rejected.
func (f *PayoutFuture) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// resolve settles the future with payments. First settlement wins; later
// calls are no-ops.
func (f *PayoutFuture) resolve(payments []custody.Payment) {
	f.once.Do(func() {
		f.payments = payments
		close(f.done)
	})
}

// reject settles the future with an error.
func (f *PayoutFuture) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
