// Package testutil provides deterministic fixtures for engine tests and
// the conformance harness: a sequence-based handle minter and a manually
// fired timer.
package testutil

import (
	"fmt"
	"sync"

	"github.com/tessera-io/tessera/internal/handle"
)

// SequenceMinter mints predictable handles ("h-1", "h-2", ...) so
// scenario traces and golden files are stable across runs.
//
// Thread-safe. Reset allows reuse across subtests with identical output.
type SequenceMinter struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequenceMinter creates a minter with the given prefix.
// The first minted handle is "<prefix>-1".
func NewSequenceMinter(prefix string) *SequenceMinter {
	return &SequenceMinter{prefix: prefix}
}

// Mint returns the next handle in sequence.
func (m *SequenceMinter) Mint() handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return handle.ForTesting(fmt.Sprintf("%s-%d", m.prefix, m.next))
}

// Reset restarts the sequence. The next Mint returns "<prefix>-1" again.
func (m *SequenceMinter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = 0
}
