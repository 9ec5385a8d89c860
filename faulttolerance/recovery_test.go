package faulttolerance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/types"
)

type fakeCheckpoints struct {
	cps map[uint64]*types.Checkpoint
}

func (f *fakeCheckpoints) LatestCheckpoint(atOrBelow uint64) (*types.Checkpoint, bool) {
	var best *types.Checkpoint
	for n, cp := range f.cps {
		if n <= atOrBelow && (best == nil || n > best.BlockNumber) {
			best = cp
		}
	}
	return best, best != nil
}

type fakeSyncClient struct {
	blocks []*types.Block
	err    error
}

func (f *fakeSyncClient) RequestSync(peer string, fromBlock, toBlock uint64) (<-chan *types.Block, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *types.Block, len(f.blocks))
	for _, b := range f.blocks {
		ch <- b
	}
	close(ch)
	return ch, nil
}

func TestRecoveryRunCollectsSyncedBlocks(t *testing.T) {
	blocks := []*types.Block{{Number: 5}, {Number: 6}}
	r := NewRecovery(&fakeCheckpoints{cps: map[uint64]*types.Checkpoint{}}, &fakeSyncClient{blocks: blocks}, DefaultConfig())

	got, err := r.Run("peer1", 4, 6, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, RecoveryVerifying, r.Phase)
}

func TestRecoveryVerifyDetectsMismatch(t *testing.T) {
	digest := common.BytesToHash([]byte{0xaa})
	cps := map[uint64]*types.Checkpoint{
		5: {BlockNumber: 5, StateDigest: digest},
	}
	r := NewRecovery(&fakeCheckpoints{cps: cps}, &fakeSyncClient{}, DefaultConfig())

	err := r.Verify(6, common.BytesToHash([]byte{0xbb}))
	require.Error(t, err)
}

func TestRecoveryVerifySucceedsOnMatch(t *testing.T) {
	digest := common.BytesToHash([]byte{0xaa})
	cps := map[uint64]*types.Checkpoint{
		5: {BlockNumber: 5, StateDigest: digest},
	}
	r := NewRecovery(&fakeCheckpoints{cps: cps}, &fakeSyncClient{}, DefaultConfig())

	err := r.Verify(6, digest)
	require.NoError(t, err)
	require.Equal(t, RecoveryResolved, r.Phase)
}

func TestRecoveryEnterEmergencyComputesReducedQuorum(t *testing.T) {
	cps := map[uint64]*types.Checkpoint{3: {BlockNumber: 3}}
	r := NewRecovery(&fakeCheckpoints{cps: cps}, &fakeSyncClient{}, DefaultConfig())

	rewindTo, quorum, ok := r.EnterEmergency(10, 7)
	require.True(t, ok)
	require.Equal(t, uint64(3), rewindTo)
	require.Equal(t, 5, quorum) // ceil(7/2)+1 = 5
	require.Equal(t, RecoveryEmergency, r.Phase)
}

func TestRecoveryEnterEmergencyFailsWithoutCheckpoint(t *testing.T) {
	r := NewRecovery(&fakeCheckpoints{cps: map[uint64]*types.Checkpoint{}}, &fakeSyncClient{}, DefaultConfig())
	_, _, ok := r.EnterEmergency(10, 7)
	require.False(t, ok)
}
