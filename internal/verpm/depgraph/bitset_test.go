package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitSetSetClearTest(t *testing.T) {
	b := NewBitSet(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)

	require.True(t, b.Test(0))
	require.True(t, b.Test(64))
	require.True(t, b.Test(129))
	require.False(t, b.Test(1))

	b.Clear(64)
	require.False(t, b.Test(64))
}

func TestBitSetAndOr(t *testing.T) {
	a := NewBitSet(64)
	b := NewBitSet(64)
	a.Set(1)
	a.Set(2)
	b.Set(2)
	b.Set(3)

	or := a.Clone()
	or.Or(b)
	require.True(t, or.Test(1))
	require.True(t, or.Test(2))
	require.True(t, or.Test(3))

	and := a.Clone()
	and.And(b)
	require.False(t, and.Test(1))
	require.True(t, and.Test(2))
	require.False(t, and.Test(3))
}

func TestBitSetPopCountAny(t *testing.T) {
	b := NewBitSet(10)
	require.False(t, b.Any())
	require.Equal(t, 0, b.PopCount())

	b.Set(3)
	b.Set(7)
	require.True(t, b.Any())
	require.Equal(t, 2, b.PopCount())
}

func TestBitSetFirstLastSet(t *testing.T) {
	b := NewBitSet(10)
	require.Equal(t, -1, b.FirstSet(10))
	require.Equal(t, -1, b.LastSet(10))

	b.Set(2)
	b.Set(5)
	require.Equal(t, 2, b.FirstSet(10))
	require.Equal(t, 5, b.LastSet(10))
}
