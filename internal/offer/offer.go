package offer

import (
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/registry"
	"github.com/tessera-io/tessera/internal/units"
)

// Offer is one party's escrowed position within one contract instance.
//
// Current[i] is the party's present allocation for Kinds[i], initialized
// to the deposited amounts (or the algebra's empty value for want rules)
// and mutated only by validated reallocation commits. The record leaves
// the active table, irrevocably, when the offer completes.
type Offer struct {
	Handle   handle.Handle
	Instance handle.Handle
	Kinds    []*registry.Record
	Rules    []PayoutRule
	Exit     ExitRule
	Current  []units.Units
}

// Algebras returns the offer's per-kind unit algebras in kind order.
func (o *Offer) Algebras() []units.Algebra {
	algs := make([]units.Algebra, len(o.Kinds))
	for i, k := range o.Kinds {
		algs[i] = k.Algebra
	}
	return algs
}

// Snapshot returns a copy of the record for untrusted readers. Writes
// through the copy's Rules or Current slices never reach the table-held
// record; allocations change only through validated reallocation commits.
func (o *Offer) Snapshot() *Offer {
	cp := *o
	cp.Kinds = append([]*registry.Record(nil), o.Kinds...)
	cp.Rules = append([]PayoutRule(nil), o.Rules...)
	cp.Current = append([]units.Units(nil), o.Current...)
	return &cp
}

// Doc implements table.Record.
func (o *Offer) Doc() map[string]any {
	kinds := make([]any, len(o.Kinds))
	for i, k := range o.Kinds {
		kinds[i] = k.Label
	}
	rules := make([]any, len(o.Rules))
	for i, r := range o.Rules {
		rules[i] = map[string]any{
			"kind":  string(r.Kind),
			"units": unitsDoc(r.Units),
		}
	}
	current := make([]any, len(o.Current))
	for i, u := range o.Current {
		current[i] = unitsDoc(u)
	}
	return map[string]any{
		"handle":   o.Handle.String(),
		"instance": o.Instance.String(),
		"kinds":    kinds,
		"rules":    rules,
		"exit":     string(o.Exit.Kind),
		"current":  current,
	}
}

func unitsDoc(u units.Units) string {
	if u == nil {
		return ""
	}
	return u.String()
}
