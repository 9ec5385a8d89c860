// Package broadcast implements C7: the message-kind taxonomy and an
// in-memory reference adapter satisfying the out-of-scope transport's
// contract (§6 "Broadcast adapter API"). Real wire transport (gossip,
// libp2p, whatever a deployment picks) is explicitly out of scope; this
// package gives the rest of the node something concrete to compile and
// test against, grounded on the teacher's SignerFn-style narrow-callback
// idiom in consensus/dpos.go.
package broadcast

import (
	"sync"

	"github.com/chainforge/poaledger/common"
)

// Kind enumerates the message kinds C5/C6 exchange (§6).
type Kind string

const (
	KindBlock        Kind = "BLOCK"
	KindVote         Kind = "VOTE"
	KindHeartbeat    Kind = "HEARTBEAT"
	KindAccusation   Kind = "ACCUSATION"
	KindSyncRequest  Kind = "SYNC_REQUEST"
	KindSyncResponse Kind = "SYNC_RESPONSE"
)

// Envelope binds a payload to an authenticated sender identity, the shape
// onMessage delivers to its subscriber (§6: "callback with authenticated
// sender identity").
type Envelope struct {
	Kind Kind
	From common.Address
	Payload interface{}
}

// Handler is invoked for every message the adapter delivers.
type Handler func(Envelope)

// Adapter is the narrow transport contract C5/C6 depend on.
type Adapter interface {
	Broadcast(kind Kind, payload interface{}) error
	OnMessage(h Handler)
	RequestSync(peer string, fromBlock, toBlock uint64) (<-chan interface{}, error)
}

// peer is one node registered on a Network.
type peer struct {
	id      common.Address
	handler Handler
}

// Network is an in-process reference adapter wiring every registered peer
// together directly, with no real transport. It exists so the rest of the
// node has something to run against in tests and in a single-process
// deployment; a production deployment replaces it with a real gossip
// layer implementing the same Adapter interface.
type Network struct {
	mu    sync.RWMutex
	peers map[common.Address]*peer
}

// NewNetwork builds an empty in-process network.
func NewNetwork() *Network {
	return &Network{peers: make(map[common.Address]*peer)}
}

// NodeAdapter is the per-node view of a Network, implementing Adapter.
type NodeAdapter struct {
	net  *Network
	self common.Address
}

// Join registers self on net and returns its Adapter handle.
func (n *Network) Join(self common.Address) *NodeAdapter {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[self] = &peer{id: self}
	return &NodeAdapter{net: n, self: self}
}

// OnMessage registers the handler invoked for every message from another
// peer. Only one handler is kept; callers needing to fan out do so inside
// their own handler.
func (a *NodeAdapter) OnMessage(h Handler) {
	a.net.mu.Lock()
	defer a.net.mu.Unlock()
	if p, ok := a.net.peers[a.self]; ok {
		p.handler = h
	}
}

// Broadcast delivers payload to every other registered peer synchronously.
// Delivery order across peers is unspecified; callers must not depend on
// it, matching a real gossip transport's lack of ordering guarantees
// across distinct receivers.
func (a *NodeAdapter) Broadcast(kind Kind, payload interface{}) error {
	a.net.mu.RLock()
	defer a.net.mu.RUnlock()
	env := Envelope{Kind: kind, From: a.self, Payload: payload}
	for id, p := range a.net.peers {
		if id == a.self || p.handler == nil {
			continue
		}
		p.handler(env)
	}
	return nil
}

// RequestSync is unimplemented on the in-process adapter: single-process
// deployments never diverge, so nothing needs to be synced. A real
// transport implementation streams blocks [fromBlock, toBlock] from peer.
func (a *NodeAdapter) RequestSync(peer string, fromBlock, toBlock uint64) (<-chan interface{}, error) {
	ch := make(chan interface{})
	close(ch)
	return ch, nil
}
