package table

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/internal/enginerr"
	"github.com/tessera-io/tessera/internal/handle"
)

const widgetSchema = `
#Widget: {
	handle: string & !=""
	label:  string & !=""
	count:  int & >=0
}
`

type widget struct {
	Handle handle.Handle
	Label  string
	Count  int
}

func (w *widget) Doc() map[string]any {
	return map[string]any{
		"handle": w.Handle.String(),
		"label":  w.Label,
		"count":  w.Count,
	}
}

func newWidgetTable(t *testing.T) *Table[*widget] {
	t.Helper()
	tbl, err := New[*widget]("widgets", widgetSchema, "#Widget")
	require.NoError(t, err)
	return tbl
}

func TestCreateAndGet(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")

	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 2}))

	got, err := tbl.Get(h)
	require.NoError(t, err)
	assert.Equal(t, "gear", got.Label)
	assert.True(t, tbl.Has(h))
	assert.True(t, tbl.WasCreated(h))
	assert.Equal(t, 1, tbl.Len())
}

func TestCreateRejectsZeroHandle(t *testing.T) {
	tbl := newWidgetTable(t)
	err := tbl.Create(handle.Handle{}, &widget{Label: "gear", Count: 1})
	assert.True(t, enginerr.IsInvalidRecord(err))
}

func TestCreateRejectsDuplicate(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")
	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1}))

	err := tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1})
	assert.True(t, enginerr.IsDuplicateHandle(err))
}

func TestDeletedHandleStaysUsed(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")
	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1}))

	tbl.Delete(h)
	assert.False(t, tbl.Has(h))
	assert.True(t, tbl.WasCreated(h))

	_, err := tbl.Get(h)
	assert.True(t, enginerr.IsUnknownHandle(err))

	// The handle can never be reused, even after deletion.
	err = tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1})
	assert.True(t, enginerr.IsDuplicateHandle(err))
}

func TestCreateRejectsInvalidRecord(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")

	err := tbl.Create(h, &widget{Handle: h, Label: "", Count: 1})
	assert.True(t, enginerr.IsInvalidRecord(err))

	err = tbl.Create(h, &widget{Handle: h, Label: "gear", Count: -1})
	assert.True(t, enginerr.IsInvalidRecord(err))

	// Rejected records are not inserted and do not burn the handle.
	assert.False(t, tbl.WasCreated(h))
	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 0}))
}

func TestUpdate(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")
	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1}))

	require.NoError(t, tbl.Update(h, func(w **widget) {
		updated := **w
		updated.Count = 5
		*w = &updated
	}))
	got, err := tbl.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Count)
}

func TestUpdateRevalidates(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")
	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1}))

	err := tbl.Update(h, func(w **widget) {
		updated := **w
		updated.Count = -3
		*w = &updated
	})
	assert.True(t, enginerr.IsInvalidRecord(err))

	// Row untouched on failure.
	got, getErr := tbl.Get(h)
	require.NoError(t, getErr)
	assert.Equal(t, 1, got.Count)
}

func TestUpdateUnknownHandle(t *testing.T) {
	tbl := newWidgetTable(t)
	err := tbl.Update(handle.ForTesting("w-404"), func(w **widget) {})
	assert.True(t, enginerr.IsUnknownHandle(err))
}

func TestDeleteIsIdempotent(t *testing.T) {
	tbl := newWidgetTable(t)
	h := handle.ForTesting("w-1")
	require.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: 1}))

	tbl.Delete(h)
	tbl.Delete(h)
	tbl.Delete(handle.ForTesting("w-404"))
	assert.Equal(t, 0, tbl.Len())
}

func TestSchemaRejectsUndeclaredFields(t *testing.T) {
	tbl, err := New[*openWidget]("widgets", widgetSchema, "#Widget")
	require.NoError(t, err)

	h := handle.ForTesting("w-1")
	err = tbl.Create(h, &openWidget{handle: h})
	assert.True(t, enginerr.IsInvalidRecord(err))
}

// openWidget projects a field the schema does not declare.
type openWidget struct {
	handle handle.Handle
}

func (w *openWidget) Doc() map[string]any {
	return map[string]any{
		"handle":  w.handle.String(),
		"label":   "gear",
		"count":   1,
		"stashed": true,
	}
}

func TestBadSchemaPath(t *testing.T) {
	_, err := New[*widget]("widgets", widgetSchema, "#Nope")
	assert.Error(t, err)
}

func TestConcurrentCreates(t *testing.T) {
	tbl := newWidgetTable(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := handle.ForTesting(fmt.Sprintf("w-%d", i))
			assert.NoError(t, tbl.Create(h, &widget{Handle: h, Label: "gear", Count: i}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, tbl.Len())
}
