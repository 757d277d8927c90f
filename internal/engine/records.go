package engine

import (
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/registry"
)

// Installation is one registered piece of contract code. Immutable; never
// deleted.
type Installation struct {
	Handle handle.Handle
	Code   ContractCode
}

// Doc implements table.Record.
func (r *Installation) Doc() map[string]any {
	return map[string]any{
		"handle": r.Handle.String(),
		"format": r.Code.Format,
		"name":   r.Code.Name,
	}
}

// Instance is one running contract instance. Immutable once created.
type Instance struct {
	Handle       handle.Handle
	Installation handle.Handle
	Kinds        []*registry.Record
	Terms        Terms
	PublicAPI    any
}

// Doc implements table.Record. Terms fields and the public API are
// contract-authored and unconstrained, so only the engine-authored parts
// are schema-validated.
func (r *Instance) Doc() map[string]any {
	kinds := make([]any, len(r.Kinds))
	for i, k := range r.Kinds {
		kinds[i] = k.Label
	}
	return map[string]any{
		"handle":       r.Handle.String(),
		"installation": r.Installation.String(),
		"kinds":        kinds,
	}
}
