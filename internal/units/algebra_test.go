package units

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/internal/enginerr"
)

func TestNatAlgebra(t *testing.T) {
	alg := NewNatAlgebra("moola")

	assert.Equal(t, "moola", alg.Kind())
	assert.True(t, alg.Equals(alg.Empty(), NewNat("moola", 0)))

	sum := alg.With(NewNat("moola", 3), NewNat("moola", 4))
	assert.True(t, alg.Equals(sum, NewNat("moola", 7)))

	// With is commutative.
	assert.True(t, alg.Equals(
		alg.With(NewNat("moola", 3), NewNat("moola", 4)),
		alg.With(NewNat("moola", 4), NewNat("moola", 3)),
	))

	assert.True(t, alg.Includes(NewNat("moola", 7), NewNat("moola", 7)))
	assert.True(t, alg.Includes(NewNat("moola", 8), NewNat("moola", 7)))
	assert.False(t, alg.Includes(NewNat("moola", 6), NewNat("moola", 7)))
}

func TestNatAlgebraOverflowPanics(t *testing.T) {
	alg := NewNatAlgebra("moola")
	max := NewNatBig("moola", new(uint256.Int).Not(uint256.NewInt(0)))
	assert.Panics(t, func() {
		alg.With(max, NewNat("moola", 1))
	})
}

func TestNatAlgebraForeignKindPanics(t *testing.T) {
	alg := NewNatAlgebra("moola")
	assert.Panics(t, func() {
		alg.With(NewNat("moola", 1), NewNat("bucks", 1))
	})
	assert.Panics(t, func() {
		alg.Equals(NewNat("moola", 1), NewSet("moola", "a"))
	})
}

func TestNatCoerce(t *testing.T) {
	alg := NewNatAlgebra("moola")

	got, err := alg.Coerce(NewNat("moola", 5))
	require.NoError(t, err)
	assert.True(t, alg.Equals(got, NewNat("moola", 5)))

	got, err = alg.Coerce(uint64(9))
	require.NoError(t, err)
	assert.True(t, alg.Equals(got, NewNat("moola", 9)))

	got, err = alg.Coerce(uint256.NewInt(11))
	require.NoError(t, err)
	assert.True(t, alg.Equals(got, NewNat("moola", 11)))

	_, err = alg.Coerce(NewNat("bucks", 5))
	assert.True(t, enginerr.IsInvalidRecord(err))

	_, err = alg.Coerce("five")
	assert.True(t, enginerr.IsInvalidRecord(err))
}

func TestSetAlgebra(t *testing.T) {
	alg := NewSetAlgebra("art")

	assert.True(t, alg.Equals(alg.Empty(), NewSet("art")))

	union := alg.With(NewSet("art", "a", "c"), NewSet("art", "b"))
	assert.True(t, alg.Equals(union, NewSet("art", "a", "b", "c")))

	assert.True(t, alg.Includes(NewSet("art", "a", "b", "c"), NewSet("art", "a", "c")))
	assert.True(t, alg.Includes(NewSet("art", "a"), NewSet("art")))
	assert.False(t, alg.Includes(NewSet("art", "a"), NewSet("art", "b")))
	assert.False(t, alg.Includes(NewSet("art"), NewSet("art", "a")))
}

func TestSetAlgebraOverlapPanics(t *testing.T) {
	alg := NewSetAlgebra("art")
	assert.Panics(t, func() {
		alg.With(NewSet("art", "a"), NewSet("art", "a"))
	})
}

func TestSetCoerce(t *testing.T) {
	alg := NewSetAlgebra("art")

	got, err := alg.Coerce([]string{"b", "a"})
	require.NoError(t, err)
	assert.True(t, alg.Equals(got, NewSet("art", "a", "b")))

	_, err = alg.Coerce([]string{"a", "a"})
	assert.True(t, enginerr.IsInvalidRecord(err))

	_, err = alg.Coerce(NewSet("stamps", "a"))
	assert.True(t, enginerr.IsInvalidRecord(err))

	_, err = alg.Coerce(42)
	assert.True(t, enginerr.IsInvalidRecord(err))
}

func TestFromSpec(t *testing.T) {
	alg, err := FromSpec(Spec{Name: "nat"}, "moola")
	require.NoError(t, err)
	assert.IsType(t, NatAlgebra{}, alg)

	alg, err = FromSpec(Spec{Name: "set"}, "art")
	require.NoError(t, err)
	assert.IsType(t, SetAlgebra{}, alg)

	_, err = FromSpec(Spec{Name: "ring"}, "moola")
	assert.Error(t, err)
}

func TestUnitsString(t *testing.T) {
	assert.Equal(t, "3 moola", NewNat("moola", 3).String())
	assert.Equal(t, "[a b] art", NewSet("art", "b", "a").String())
	assert.Equal(t, "[] art", NewSet("art").String())

	// Amounts render through the interface too: traces and journal
	// payloads hold Units values, not the concrete types.
	var u Units = NewNat("moola", 3)
	assert.Equal(t, "3 moola", u.String())
	u = NewSet("art", "a")
	assert.Equal(t, "[a] art", u.String())
}

func TestNewSetRejectsDuplicates(t *testing.T) {
	assert.Panics(t, func() { NewSet("art", "a", "a") })
}

func TestSetElementsIsACopy(t *testing.T) {
	s := NewSet("art", "a", "b")
	elems := s.Elements()
	elems[0] = "z"
	assert.Equal(t, []string{"a", "b"}, s.Elements())
}
