package poa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
	"github.com/chainforge/poaledger/ledger"
	"github.com/chainforge/poaledger/mempool"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validate"
	"github.com/chainforge/poaledger/validator"
)

// buildCluster wires n independent nodes, each with its own ledger,
// mempool, and validator-set view, all bootstrapped from identical
// genesis state. It mirrors §8 scenario 1 (four validators, a single
// account-to-account transfer) but funds the sender well above the
// illustrative spec figure so the transfer does not underflow.
func buildCluster(t *testing.T, n int) (keys []*crypto.PrivateKey, engines []*Engine, ledgers []*ledger.Ledger, pools []*mempool.Mempool) {
	t.Helper()
	th := validate.DefaultThresholds()

	addrs := make([]common.Address, n)
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, k)
		addrs[i] = k.Address()
	}

	keyA, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyB, err := crypto.GenerateKey()
	require.NoError(t, err)

	genesis := &types.Genesis{
		Timestamp:  1,
		GasLimit:   8_000_000,
		Validators: append([]common.Address(nil), addrs...),
		Alloc: types.GenesisAlloc{
			keyA.Address(): types.AccountState{Balance: common.NewU256(1_000_000)},
			keyB.Address(): types.AccountState{Balance: common.NewU256(0)},
		},
	}

	for i := 0; i < n; i++ {
		set, err := validator.NewSet(addrs, 1)
		require.NoError(t, err)
		l, err := ledger.New(genesis, addrs[0], th, 1000)
		require.NoError(t, err)
		mp := mempool.New(mempool.DefaultConfig(), th)
		engines = append(engines, New(keys[i], set, l, mp, nil, nil, DefaultConfig()))
		ledgers = append(ledgers, l)
		pools = append(pools, mp)
	}

	tx := &types.Transaction{
		To:        keyB.Address(),
		Value:     common.NewU256(10),
		GasPrice:  common.NewU256(5),
		GasLimit:  21000,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
	require.NoError(t, tx.Sign(keyA))
	for i := 0; i < n; i++ {
		require.NoError(t, pools[i].Admit(tx, ledgers[i].Snapshot(), ledgers[i].Replay(), time.Now()))
	}
	return keys, engines, ledgers, pools
}

func TestHappyPathFourValidatorsCommitsOneBlock(t *testing.T) {
	now := time.Now()
	_, engines, ledgers, _ := buildCluster(t, 4)
	n := len(engines)

	for i := 0; i < n; i++ {
		require.NoError(t, engines[i].StartRound(now))
	}

	var proposerIdx = -1
	var block *types.Block
	for i := 0; i < n; i++ {
		if b := engines[i].CurrentRound().ProposedBlock; b != nil {
			proposerIdx = i
			block = b
		}
	}
	require.GreaterOrEqual(t, proposerIdx, 0)
	require.Len(t, block.Transactions, 1)

	for i := 0; i < n; i++ {
		if i == proposerIdx {
			continue
		}
		require.NoError(t, engines[i].HandleProposal(block, now))
	}

	votes := make([]*types.Vote, n)
	for i := 0; i < n; i++ {
		r := engines[i].CurrentRound()
		require.Len(t, r.Votes, 1)
		votes[i] = r.Votes[0]
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			_ = engines[j].HandleVote(votes[i], now)
		}
	}

	for i := 0; i < n; i++ {
		require.Equal(t, uint64(1), ledgers[i].Latest().Number)
	}
}

func TestEquivocatingVoteRejected(t *testing.T) {
	now := time.Now()
	_, engines, _, _ := buildCluster(t, 4)
	n := len(engines)

	for i := 0; i < n; i++ {
		require.NoError(t, engines[i].StartRound(now))
	}
	var proposerIdx int
	var block *types.Block
	for i := 0; i < n; i++ {
		if b := engines[i].CurrentRound().ProposedBlock; b != nil {
			proposerIdx, block = i, b
		}
	}
	observer := (proposerIdx + 1) % n
	require.NoError(t, engines[observer].HandleProposal(block, now))

	forged := &types.Vote{
		BlockHash:   common.Hash{0xAA},
		Decision:    true,
		RoundNumber: engines[observer].CurrentRound().Number,
		Timestamp:   uint64(now.UnixMilli()),
	}
	require.NoError(t, forged.Sign(engines[observer].self))

	err := engines[observer].HandleVote(forged, now)
	require.Error(t, err)
}
