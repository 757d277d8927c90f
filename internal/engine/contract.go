package engine

import (
	"fmt"
	"sync"

	"github.com/tessera-io/tessera/internal/custody"
)

// Contract is the statically-typed plug-in boundary contract code must
// implement. Start is the single entry point, called exactly once per
// MakeInstance with a facet closed over the new instance.
//
// Contract code is untrusted: nothing it does through the facet can
// violate rights conservation or offer safety, because every reallocation
// is checked before commit. Dynamic source evaluation is deliberately not
// reproduced here; contracts compile in and register by name.
type Contract interface {
	Start(facet *ContractFacet, terms Terms) (StartResult, error)
}

// Terms parameterize one contract instance.
type Terms struct {
	// Assets names the asset kinds the instance trades over, in the
	// order offers and reallocations will use.
	Assets []custody.Source

	// Fields carries contract-specific parameters the engine does not
	// interpret.
	Fields map[string]any
}

// StartResult is what a contract's entry point returns.
type StartResult struct {
	// Invite admits the first party. Required.
	Invite *Invite

	// PublicAPI is the contract's instance-wide query surface; the
	// engine stores and returns it without inspection. May be nil.
	PublicAPI any

	// Terms echoes the instance terms, possibly refined by the
	// contract. Persisted on the instance record.
	Terms Terms
}

// ContractCode names installable contract code. Only the "registered"
// format is supported: Name must match a constructor registered with
// RegisterContract.
type ContractCode struct {
	Format string
	Name   string
}

// FormatRegistered is the only recognized contract code format.
const FormatRegistered = "registered"

var (
	contractsMu   sync.RWMutex
	contractCtors = make(map[string]func() Contract)
)

// RegisterContract makes a contract constructor installable under name.
// Typically called from a contract package's init. Panics on duplicate
// registration, like database/sql driver registration does.
func RegisterContract(name string, ctor func() Contract) {
	contractsMu.Lock()
	defer contractsMu.Unlock()
	if ctor == nil {
		panic("engine: RegisterContract with nil constructor")
	}
	if _, dup := contractCtors[name]; dup {
		panic(fmt.Sprintf("engine: RegisterContract called twice for %q", name))
	}
	contractCtors[name] = ctor
}

// lookupContract returns the registered constructor for name.
func lookupContract(name string) (func() Contract, bool) {
	contractsMu.RLock()
	defer contractsMu.RUnlock()
	ctor, ok := contractCtors[name]
	return ctor, ok
}

// RegisteredContracts returns the names of all registered constructors,
// for diagnostics.
func RegisteredContracts() []string {
	contractsMu.RLock()
	defer contractsMu.RUnlock()
	names := make([]string, 0, len(contractCtors))
	for name := range contractCtors {
		names = append(names, name)
	}
	return names
}
