package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveFileTable_IncrementDecrement(t *testing.T) {
	t.Run("increment creates and grows entries", func(t *testing.T) {
		table := NewActiveFileTable()

		require.NoError(t, table.Increment(17))
		require.NoError(t, table.Increment(17))
		require.NoError(t, table.Increment(9))

		assert.Equal(t, uint32(2), table.Count(17))
		assert.Equal(t, uint32(1), table.Count(9))
		assert.Equal(t, 2, table.Len())
	})

	t.Run("decrement to zero removes the entry", func(t *testing.T) {
		table := NewActiveFileTable()
		require.NoError(t, table.Increment(5))
		require.NoError(t, table.Increment(5))

		table.Decrement(5)
		assert.Equal(t, uint32(1), table.Count(5))

		table.Decrement(5)
		assert.Equal(t, uint32(0), table.Count(5))
		assert.Equal(t, 0, table.Len())
	})

	t.Run("decrement of unknown fileID panics with an invariant violation", func(t *testing.T) {
		table := NewActiveFileTable()
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			var invariant *InvariantError
			assert.True(t, errors.As(err, &invariant))
		}()
		table.Decrement(42)
	})

	t.Run("increment past MaxActiveLogs fails", func(t *testing.T) {
		table := NewActiveFileTable()
		for i := 0; i < MaxActiveLogs; i++ {
			require.NoError(t, table.Increment(uint32(i)))
		}
		err := table.Increment(uint32(MaxActiveLogs))
		assert.ErrorIs(t, err, ErrTooManyActiveLogs)
	})
}

func TestActiveFileTable_EncodeDecodeSlots(t *testing.T) {
	table := NewActiveFileTable()
	require.NoError(t, table.Increment(3))
	require.NoError(t, table.Increment(3))
	require.NoError(t, table.Increment(3))
	require.NoError(t, table.Increment(100))

	slots := table.encodeSlots()

	reloaded := NewActiveFileTable()
	reloaded.loadSlots(slots[:])

	assert.Equal(t, uint32(3), reloaded.Count(3))
	assert.Equal(t, uint32(1), reloaded.Count(100))
	assert.ElementsMatch(t, []uint32{3, 100}, reloaded.FileIDs())
}
