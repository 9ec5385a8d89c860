package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
)

func TestBroadcastDeliversToOtherPeersOnly(t *testing.T) {
	net := NewNetwork()
	a := common.BytesToAddress([]byte{0x01})
	b := common.BytesToAddress([]byte{0x02})

	nodeA := net.Join(a)
	nodeB := net.Join(b)

	var receivedByB []Envelope
	nodeB.OnMessage(func(e Envelope) { receivedByB = append(receivedByB, e) })

	var receivedByA []Envelope
	nodeA.OnMessage(func(e Envelope) { receivedByA = append(receivedByA, e) })

	require.NoError(t, nodeA.Broadcast(KindBlock, "payload"))

	require.Len(t, receivedByB, 1)
	require.Equal(t, a, receivedByB[0].From)
	require.Empty(t, receivedByA)
}
