// Package handle provides opaque, unforgeable capability handles.
//
// A Handle is the only form of authority the engine hands out: knowing a
// handle is what lets a caller refer to an installation, an instance, an
// offer, or an invite. Handles expose nothing beyond equality and a string
// form for diagnostics; they are never derivable from other data and are
// minted only through a Minter.
package handle

import "github.com/google/uuid"

// Handle is an opaque comparable identifier. The zero Handle is invalid
// and rejected by every table.
type Handle struct {
	id string
}

// IsZero reports whether h is the invalid zero handle.
func (h Handle) IsZero() bool {
	return h.id == ""
}

// String returns the handle's identifier for logs and journal entries.
// Possession of the string does not confer authority: engine entry points
// take Handle values, and a Handle cannot be rebuilt from its string form
// outside this package.
func (h Handle) String() string {
	return h.id
}

// Minter mints fresh handles.
// Implemented by UUIDv7Minter (production) and testutil.SequenceMinter
// (deterministic tests).
type Minter interface {
	Mint() Handle
}

// UUIDv7Minter mints time-sortable UUIDv7 handles.
//
// UUIDv7 embeds a timestamp in the most significant bits, so handles sort
// by creation time in the journal. Stateless and safe for concurrent use.
type UUIDv7Minter struct{}

// Mint returns a fresh handle.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Minter) Mint() Handle {
	return Handle{id: uuid.Must(uuid.NewV7()).String()}
}

// ForTesting builds a handle with a fixed identifier.
//
// Only deterministic fixtures should use this; production code mints
// through a Minter so that handles stay unguessable.
func ForTesting(id string) Handle {
	if id == "" {
		panic("handle: empty test identifier")
	}
	return Handle{id: id}
}
