package fifo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	require.Equal(t, 5, q.Len())
	for i := 0; i < 5; i++ {
		v, ok := q.ShiftMaybe()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	require.True(t, q.IsEmpty())
}

func TestQueueUnshiftPrepends(t *testing.T) {
	q := New[string]()
	q.Push("b")
	q.Push("c")
	q.Unshift("a")

	v, ok := q.ShiftMaybe()
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok = q.ShiftMaybe()
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestQueueShiftMaybeOnEmpty(t *testing.T) {
	q := New[int]()
	_, ok := q.ShiftMaybe()
	require.False(t, ok)
}

func TestQueueGrowsAndShrinks(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		q.Push(i)
	}
	require.Equal(t, 1000, q.Len())

	for i := 0; i < 990; i++ {
		v, ok := q.ShiftMaybe()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	require.Equal(t, 10, q.Len())
	require.GreaterOrEqual(t, len(q.buf), initialCapacity)

	// drain fully and confirm order holds across the resizes
	for i := 990; i < 1000; i++ {
		v, ok := q.ShiftMaybe()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	q := New[int]()
	q.Push(7)

	v, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, 7, v)
	require.Equal(t, 1, q.Len())
}
