package node

import (
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/broadcast"
	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/consensus/poa"
	"github.com/chainforge/poaledger/crypto"
	"github.com/chainforge/poaledger/events"
	"github.com/chainforge/poaledger/faulttolerance"
	"github.com/chainforge/poaledger/ledger"
	"github.com/chainforge/poaledger/mempool"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validate"
	"github.com/chainforge/poaledger/validator"
)

func singleNodeSetup(t *testing.T) (*Node, *ledger.Ledger, *mempool.Mempool) {
	t.Helper()
	th := validate.DefaultThresholds()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := key.Address()

	genesis := &types.Genesis{
		Timestamp:  1,
		GasLimit:   8_000_000,
		Validators: []common.Address{addr},
		Alloc: types.GenesisAlloc{
			addr: types.AccountState{Balance: common.NewU256(1_000_000)},
		},
	}

	set, err := validator.NewSet([]common.Address{addr}, 1)
	require.NoError(t, err)
	l, err := ledger.New(genesis, addr, th, 100)
	require.NoError(t, err)
	mp := mempool.New(mempool.DefaultConfig(), th)

	net := broadcast.NewNetwork()
	bc := net.Join(addr)
	bus := events.New()
	mockClock := clock.NewMock()
	mockClock.Add(time.Hour) // past genesis's Timestamp=1ms and any tx's min-time band

	n := New(key, set, l, mp, bc, bus, mockClock, poa.DefaultConfig(), faulttolerance.DefaultConfig(), DefaultConfig())
	return n, l, mp
}

func TestStartCommitsGenesisNextBlockAsSoleValidator(t *testing.T) {
	n, l, _ := singleNodeSetup(t)
	require.NoError(t, n.Start())
	require.Equal(t, uint64(1), l.Latest().Number)
}

func TestOnHeartbeatRearmsWithoutPanicking(t *testing.T) {
	n, _, _ := singleNodeSetup(t)
	require.NoError(t, n.Start())
	require.NotPanics(t, func() { n.onHeartbeat() })
}

func TestStopCancelsTimers(t *testing.T) {
	n, _, _ := singleNodeSetup(t)
	require.NoError(t, n.Start())
	require.NotPanics(t, func() { n.Stop() })
}

func TestRecoveryResumesRoundWhenNoPeerDataAvailable(t *testing.T) {
	n, _, _ := singleNodeSetup(t)
	require.NoError(t, n.Start())

	n.maybeEnterRecovery(errNoopCause{})
	require.True(t, n.inRecovery)

	n.attemptRecovery()
	require.False(t, n.inRecovery)
}

type errNoopCause struct{}

func (errNoopCause) Error() string { return "synthetic recovery trigger" }

// TestEquivocatingValidatorIsJailedAndExcluded drives a double-signing
// validator through the full locally-observed path: engine.HandleVote
// detects the conflicting votes and raises EventAccusation on the bus,
// node.go's drainAccusations applies it to the detector, and once enough
// accusations land within the evidence window the offender is jailed,
// slashed, and dropped from ActiveValidators (§8 scenario 3).
func TestEquivocatingValidatorIsJailedAndExcluded(t *testing.T) {
	th := validate.DefaultThresholds()

	const n = 4
	keys := make([]*crypto.PrivateKey, n)
	byAddr := make(map[common.Address]*crypto.PrivateKey, n)
	addrs := make(common.AddressesByHex, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
		byAddr[k.Address()] = k
		addrs[i] = k.Address()
	}
	sort.Sort(addrs)
	validators := []common.Address(addrs)

	// Round 1's proposer is active[1 % n]; ActiveValidators sorts equal-
	// reputation entries by address, so that is validators[1].
	self := byAddr[validators[1]]
	selfAddr := self.Address()
	offenderKey := byAddr[validators[0]]
	offender := offenderKey.Address()

	genesis := &types.Genesis{Timestamp: 1, GasLimit: 8_000_000, Validators: validators}

	set, err := validator.NewSet(validators, 1)
	require.NoError(t, err)
	l, err := ledger.New(genesis, selfAddr, th, 100)
	require.NoError(t, err)
	mp := mempool.New(mempool.DefaultConfig(), th)

	net := broadcast.NewNetwork()
	bc := net.Join(selfAddr)
	bus := events.New()
	mockClock := clock.NewMock()
	mockClock.Add(time.Hour)

	n2 := New(self, set, l, mp, bc, bus, mockClock, poa.DefaultConfig(), faulttolerance.DefaultConfig(), DefaultConfig())
	require.NoError(t, n2.Start())

	round := n2.Engine().CurrentRound()
	require.Equal(t, selfAddr, round.Proposer, "fixture assumes self proposes round 1")
	require.Equal(t, poa.PhaseVoting, round.Phase)
	require.NotNil(t, round.ProposedBlock)

	blockHash := round.ProposedBlock.Hash
	otherHash := blockHash
	otherHash[0] ^= 0xFF

	now := n2.Now()
	castVote := func(hash common.Hash) {
		v := &types.Vote{BlockHash: hash, Decision: true, RoundNumber: round.Number, Timestamp: uint64(now.UnixMilli())}
		require.NoError(t, v.Sign(offenderKey))
		n2.handleMessage(broadcast.Envelope{Kind: broadcast.KindVote, From: offender, Payload: v})
	}

	castVote(blockHash) // honest first vote, recorded without incident
	for i := 0; i < faulttolerance.DefaultConfig().AccusationThreshold; i++ {
		castVote(otherHash) // each conflicts with the recorded target -> equivocation
	}

	health, ok := n2.ValidatorSet().Health(offender)
	require.True(t, ok)
	require.Equal(t, validator.Failed, health.Status)
	require.True(t, health.Jailed(now))
	require.Less(t, health.Reputation, 100.0-1e-9, "jailing must slash reputation")

	active := n2.ValidatorSet().ActiveValidators(now)
	require.NotContains(t, active, offender)
}
