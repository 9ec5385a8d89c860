package poa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/types"
)

func TestVotePoolDetectsEquivocation(t *testing.T) {
	pool := NewVotePool()
	validatorAddr := common.BytesToAddress([]byte{0x01})

	v1 := &types.Vote{Validator: validatorAddr, BlockHash: common.Hash{0x01}, Decision: true, RoundNumber: 1}
	added, err := pool.AddVote(v1)
	require.NoError(t, err)
	require.True(t, added)

	v2 := &types.Vote{Validator: validatorAddr, BlockHash: common.Hash{0x02}, Decision: true, RoundNumber: 1}
	_, err = pool.AddVote(v2)
	require.Error(t, err)
}

func TestVotePoolIgnoresDuplicateVote(t *testing.T) {
	pool := NewVotePool()
	validatorAddr := common.BytesToAddress([]byte{0x01})

	v := &types.Vote{Validator: validatorAddr, BlockHash: common.Hash{0x01}, Decision: true, RoundNumber: 1}
	added, err := pool.AddVote(v)
	require.NoError(t, err)
	require.True(t, added)

	added, err = pool.AddVote(v)
	require.NoError(t, err)
	require.False(t, added)
}

func TestVotePoolTally(t *testing.T) {
	pool := NewVotePool()
	blockHash := common.Hash{0x01}
	for i := byte(1); i <= 3; i++ {
		addr := common.BytesToAddress([]byte{i})
		_, err := pool.AddVote(&types.Vote{Validator: addr, BlockHash: blockHash, Decision: true, RoundNumber: 5})
		require.NoError(t, err)
	}
	require.Equal(t, 3, pool.Tally(5, blockHash, true))
	require.Equal(t, 0, pool.Tally(5, blockHash, false))
}
