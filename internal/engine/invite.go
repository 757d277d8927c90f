package engine

import (
	"github.com/tessera-io/tessera/internal/handle"
)

// Invite is a transferable, burn-once capability token granting the right
// to redeem one seat in a contract instance. Its description merges
// contract-authored fields with the engine-authored handle and instance
// fields; the engine fields always win on key collision, so a contract
// cannot spoof another instance's identity.
//
// An Invite can only be built inside this package: possessing one is the
// authority it represents. Redeeming it burns the handle-to-seat binding,
// and the invite's handle is reused as the resulting offer's handle, so
// one unforgeable handle threads invite -> seat -> offer -> payout.
type Invite struct {
	handle   handle.Handle
	instance handle.Handle
	desc     map[string]any
}

// Handle returns the invite's handle.
func (i *Invite) Handle() handle.Handle { return i.handle }

// Instance returns the instance the invite admits into.
func (i *Invite) Instance() handle.Handle { return i.instance }

// Description returns a copy of the invite's description.
func (i *Invite) Description() map[string]any {
	out := make(map[string]any, len(i.desc))
	for k, v := range i.desc {
		out[k] = v
	}
	return out
}

// descKeyHandle and descKeyInstance are the engine-authored description
// fields. Contract-supplied custom fields under these keys are
// overwritten.
const (
	descKeyHandle   = "handle"
	descKeyInstance = "instance"
)

// newInvite builds the invite for a freshly minted handle.
func newInvite(h, instance handle.Handle, custom map[string]any) *Invite {
	desc := make(map[string]any, len(custom)+2)
	for k, v := range custom {
		desc[k] = v
	}
	desc[descKeyHandle] = h.String()
	desc[descKeyInstance] = instance.String()
	return &Invite{handle: h, instance: instance, desc: desc}
}
