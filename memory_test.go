package mplex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullMemoryManagerGrantsEverything(t *testing.T) {
	m := &nullMemoryManager{}
	require.NoError(t, m.ReserveMemory(1<<30, 255))
	m.ReleaseMemory(1 << 30)
}

func TestBoundedMemoryManagerRejectsOverLimit(t *testing.T) {
	m := NewBoundedMemoryManager(100)

	require.NoError(t, m.ReserveMemory(60, 255))
	require.Equal(t, int64(60), m.Reserved())

	err := m.ReserveMemory(50, 192)
	require.ErrorIs(t, err, ErrMemoryLimitExceeded)
	require.Equal(t, int64(60), m.Reserved())

	require.NoError(t, m.ReserveMemory(40, 192))
	require.Equal(t, int64(100), m.Reserved())

	m.ReleaseMemory(100)
	require.Equal(t, int64(0), m.Reserved())
}

func TestBoundedMemoryManagerReleaseNeverGoesNegative(t *testing.T) {
	m := NewBoundedMemoryManager(100)
	m.ReleaseMemory(50)
	require.Equal(t, int64(0), m.Reserved())
}

func TestBoundedMemoryManagerZeroLimitIsUnbounded(t *testing.T) {
	m := NewBoundedMemoryManager(0)
	require.NoError(t, m.ReserveMemory(1<<40, 255))
}
