package mplex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagRoundsOfLocalInitiator(t *testing.T) {
	cases := []struct {
		flag Flag
		want bool
	}{
		{NewStream, false},
		{MessageReceiver, true},
		{MessageInitiator, false},
		{CloseReceiver, true},
		{CloseInitiator, false},
		{ResetReceiver, true},
		{ResetInitiator, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, localInitiatorFor(c.flag), c.flag.String())
	}
}

func TestStreamIDFlagSelection(t *testing.T) {
	initiatorSide := streamID{id: 7, initiator: true}
	require.Equal(t, MessageInitiator, initiatorSide.messageFlag())
	require.Equal(t, CloseInitiator, initiatorSide.closeFlag())
	require.Equal(t, ResetInitiator, initiatorSide.resetFlag())

	receiverSide := streamID{id: 7, initiator: false}
	require.Equal(t, MessageReceiver, receiverSide.messageFlag())
	require.Equal(t, CloseReceiver, receiverSide.closeFlag())
	require.Equal(t, ResetReceiver, receiverSide.resetFlag())
}

func TestStreamIDHeaderEncoding(t *testing.T) {
	sid := streamID{id: 5}
	require.Equal(t, uint64((5<<3)|7), sid.header(7))
}
