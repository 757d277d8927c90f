// Package registry lazily resolves external asset-kind references into
// local records.
//
// A party names an asset kind by handing the engine a custody.Source. The
// first resolution for a source queries it for its label and algebra
// descriptor, opens a custody purse, and caches the resulting record for
// the process lifetime. Concurrent resolutions for the same source share
// one in-flight future, so at most one external query sequence is ever
// outstanding per distinct source, and every caller observes the same
// record pointer.
package registry

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tessera-io/tessera/internal/custody"
	"github.com/tessera-io/tessera/internal/handle"
	"github.com/tessera-io/tessera/internal/table"
	"github.com/tessera-io/tessera/internal/units"
)

//go:embed assetkind.cue
var assetKindSchema string

// Record is one asset kind known to the engine: its custody purse, unit
// algebra, and label. Immutable after creation.
type Record struct {
	Handle  handle.Handle
	Source  custody.Source
	Label   string
	Algebra units.Algebra
	Purse   custody.Purse
}

// Doc implements table.Record.
func (r *Record) Doc() map[string]any {
	doc := map[string]any{
		"handle": r.Handle.String(),
		"label":  r.Label,
	}
	switch r.Algebra.(type) {
	case units.NatAlgebra:
		doc["algebra"] = "nat"
	case units.SetAlgebra:
		doc["algebra"] = "set"
	}
	return doc
}

// resolution is the shared future for one in-flight resolve.
type resolution struct {
	done chan struct{}
	rec  *Record
	err  error
}

// Registry resolves and caches asset-kind records.
type Registry struct {
	minter handle.Minter
	table  *table.Table[*Record]
	logger *slog.Logger

	mu       sync.Mutex
	cache    map[custody.Source]*Record
	inflight map[custody.Source]*resolution
}

// New creates a registry. The minter supplies handles for new records.
func New(minter handle.Minter, logger *slog.Logger) (*Registry, error) {
	tbl, err := table.New[*Record]("assetkinds", assetKindSchema, "#AssetKind")
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		minter:   minter,
		table:    tbl,
		logger:   logger,
		cache:    make(map[custody.Source]*Record),
		inflight: make(map[custody.Source]*resolution),
	}, nil
}

// Resolve returns the record for src, resolving it on first use.
//
// Callers racing on the same source attach to the pending resolution and
// all receive the same record pointer. A failed resolution is not cached:
// the next caller retries from scratch.
func (r *Registry) Resolve(ctx context.Context, src custody.Source) (*Record, error) {
	r.mu.Lock()
	if rec, ok := r.cache[src]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	if res, ok := r.inflight[src]; ok {
		r.mu.Unlock()
		select {
		case <-res.done:
			return res.rec, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	res := &resolution{done: make(chan struct{})}
	r.inflight[src] = res
	r.mu.Unlock()

	rec, err := r.resolve(ctx, src)

	r.mu.Lock()
	if err == nil {
		r.cache[src] = rec
	}
	delete(r.inflight, src)
	r.mu.Unlock()

	res.rec, res.err = rec, err
	close(res.done)
	return rec, err
}

// resolve performs the external queries and builds the record.
// Collaborator failures propagate verbatim.
func (r *Registry) resolve(ctx context.Context, src custody.Source) (*Record, error) {
	label, err := src.Label(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: query label: %w", err)
	}
	spec, err := src.AlgebraSpec(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: query algebra for %q: %w", label, err)
	}
	alg, err := units.FromSpec(spec, label)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	purse, err := src.MakeEmptyPurse(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: open purse for %q: %w", label, err)
	}

	rec := &Record{
		Handle:  r.minter.Mint(),
		Source:  src,
		Label:   label,
		Algebra: alg,
		Purse:   purse,
	}
	if err := r.table.Create(rec.Handle, rec); err != nil {
		return nil, err
	}
	r.logger.Debug("asset kind resolved", "label", label, "handle", rec.Handle.String())
	return rec, nil
}

// ResolveAll resolves each source, preserving input order in the result.
// Resolution runs concurrently; the first error wins and is returned
// after every resolution settles.
func (r *Registry) ResolveAll(ctx context.Context, srcs []custody.Source) ([]*Record, error) {
	recs := make([]*Record, len(srcs))
	errs := make([]error, len(srcs))
	var wg sync.WaitGroup
	for i, src := range srcs {
		wg.Add(1)
		go func(i int, src custody.Source) {
			defer wg.Done()
			recs[i], errs[i] = r.Resolve(ctx, src)
		}(i, src)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Table exposes the asset-kind table for read-only inspection.
func (r *Registry) Table() *table.Table[*Record] { return r.table }
