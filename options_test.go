package mplex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	require.Equal(t, MaxMessageSize, o.maxMessageSize)
	require.Equal(t, MaxBuffers, o.maxBuffers)
	require.Equal(t, ReceiveTimeout, o.receiveTimeout)
	require.Equal(t, ResetStreamTimeout, o.resetStreamTimeout)
	require.IsType(t, &nullMemoryManager{}, o.memoryManager)
}

func TestOptionsRejectInvalidValues(t *testing.T) {
	cases := []Option{
		WithMaxMessageSize(0),
		WithMaxMessageSize(-1),
		WithMaxBuffers(0),
		WithReceiveTimeout(0),
		WithResetStreamTimeout(-time.Second),
		WithMemoryManager(nil),
	}
	for _, opt := range cases {
		o := defaultOptions()
		require.Error(t, opt(o))
	}
}

func TestOptionsApplyOverrides(t *testing.T) {
	o := defaultOptions()
	mm := NewBoundedMemoryManager(1024)

	for _, opt := range []Option{
		WithMaxMessageSize(4096),
		WithMaxBuffers(2),
		WithReceiveTimeout(time.Second),
		WithResetStreamTimeout(10 * time.Second),
		WithMemoryManager(mm),
	} {
		require.NoError(t, opt(o))
	}

	require.Equal(t, 4096, o.maxMessageSize)
	require.Equal(t, 2, o.maxBuffers)
	require.Equal(t, time.Second, o.receiveTimeout)
	require.Equal(t, 10*time.Second, o.resetStreamTimeout)
	require.Same(t, mm, o.memoryManager.(*BoundedMemoryManager))
}
