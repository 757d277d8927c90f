// Package table provides a schema-validated, handle-keyed record store.
//
// The engine keeps four independent tables (installations, instances,
// offers, asset kinds). Each table validates records against a CUE schema
// before they are inserted or updated, so a malformed record is rejected
// before it can corrupt engine state. There is no cross-table foreign-key
// enforcement: callers are responsible for handle validity.
//
// A table remembers every handle it has ever accepted. Delete removes the
// active row but leaves the handle recognized by WasCreated, which is what
// lets the engine distinguish "completed offer" from "never existed".
package table

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
)

// Record is implemented by row types. Doc returns the projection of the
// record that is validated against the table's CUE schema and written to
// the journal; it must contain only strings, ints, bools, slices, and
// nested maps of the same.
type Record interface {
	Doc() map[string]any
}

// Table is a handle-keyed store of T with schema validation on every
// mutation. Safe for concurrent use.
type Table[T Record] struct {
	name   string
	schema cue.Value
	ctx    *cue.Context

	mu      sync.RWMutex
	rows    map[handle.Handle]T
	created map[handle.Handle]struct{}
}

// New creates a table named name, validating records against the CUE
// definition at defPath (e.g. "#Offer") within schemaSrc.
//
// Definitions are closed structs in CUE, so a record carrying fields the
// schema does not declare fails validation.
func New[T Record](name, schemaSrc, defPath string) (*Table[T], error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(schemaSrc, cue.Filename(name+".cue"))
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("table %s: compile schema: %w", name, err)
	}
	schema := compiled.LookupPath(cue.ParsePath(defPath))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("table %s: schema path %s: %w", name, defPath, err)
	}
	return &Table[T]{
		name:    name,
		schema:  schema,
		ctx:     ctx,
		rows:    make(map[handle.Handle]T),
		created: make(map[handle.Handle]struct{}),
	}, nil
}

// Name returns the table's name (used in error messages and logs).
func (t *Table[T]) Name() string { return t.name }

// Create validates rec and inserts it under h.
// Fails with DuplicateHandle if h was ever used before, or InvalidRecord
// if validation fails. The record is not inserted on failure.
func (t *Table[T]) Create(h handle.Handle, rec T) error {
	if h.IsZero() {
		return enginerr.Newf(enginerr.CodeInvalidRecord, "%s: zero handle", t.name)
	}
	if err := t.validate(rec); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.created[h]; ok {
		return enginerr.WithHandle(enginerr.CodeDuplicateHandle,
			t.name+": handle already used", h.String())
	}
	t.rows[h] = rec
	t.created[h] = struct{}{}
	return nil
}

// Get returns the active record for h.
// Fails with UnknownHandle if there is no active row; a deleted handle is
// indistinguishable from one that never existed (use WasCreated for the
// distinction).
func (t *Table[T]) Get(h handle.Handle) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.rows[h]
	if !ok {
		var zero T
		return zero, enginerr.WithHandle(enginerr.CodeUnknownHandle,
			t.name+": no such record", h.String())
	}
	return rec, nil
}

// Has reports whether h has an active row. Never fails.
func (t *Table[T]) Has(h handle.Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[h]
	return ok
}

// WasCreated reports whether h was ever accepted by Create, including
// handles whose rows have since been deleted.
func (t *Table[T]) WasCreated(h handle.Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.created[h]
	return ok
}

// Update applies mutate to a copy of the record, re-validates it, and
// stores the result. Fails with UnknownHandle or InvalidRecord; the row
// is untouched on failure.
func (t *Table[T]) Update(h handle.Handle, mutate func(*T)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.rows[h]
	if !ok {
		return enginerr.WithHandle(enginerr.CodeUnknownHandle,
			t.name+": no such record", h.String())
	}
	updated := rec
	mutate(&updated)
	if err := t.validate(updated); err != nil {
		return err
	}
	t.rows[h] = updated
	return nil
}

// Delete removes the active row for h. Idempotent; deleting an absent or
// never-created handle is a no-op. The handle stays recognized by
// WasCreated.
func (t *Table[T]) Delete(h handle.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, h)
}

// Len returns the number of active rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// validate unifies the record's document projection with the table
// schema. Unification or validation failure is an InvalidRecord error.
func (t *Table[T]) validate(rec T) error {
	doc := rec.Doc()
	encoded := t.ctx.Encode(doc)
	if err := encoded.Err(); err != nil {
		return enginerr.Newf(enginerr.CodeInvalidRecord, "%s: encode record: %v", t.name, err)
	}
	unified := t.schema.Unify(encoded)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return enginerr.Newf(enginerr.CodeInvalidRecord, "%s: %v", t.name, err)
	}
	return nil
}
