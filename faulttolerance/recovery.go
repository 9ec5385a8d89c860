package faulttolerance

import (
	"time"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/types"
)

// RecoveryPhase tracks where a node is within §4.6's recovery protocol.
type RecoveryPhase string

const (
	RecoveryAnalyzing  RecoveryPhase = "ANALYZING"
	RecoverySyncing    RecoveryPhase = "SYNCING"
	RecoveryVerifying  RecoveryPhase = "VERIFYING"
	RecoveryEmergency  RecoveryPhase = "EMERGENCY"
	RecoveryResolved   RecoveryPhase = "RESOLVED"
)

// CheckpointSource is the narrow view of C3 the recovery protocol needs to
// find a rewind target (§4.6 step 3).
type CheckpointSource interface {
	LatestCheckpoint(atOrBelow uint64) (*types.Checkpoint, bool)
}

// SyncClient is the narrow view of C7's requestSync the recovery protocol
// drives (§4.6 step 2); broadcast.NodeAdapter satisfies a version of this
// shape once its RequestSync signature is adapted to typed blocks by the
// node package that wires the two together.
type SyncClient interface {
	RequestSync(peer string, fromBlock, toBlock uint64) (<-chan *types.Block, error)
}

// Recovery drives one node's instance of §4.6's four-step recovery
// protocol. It holds no lock of its own: the engine already serializes
// calls into RECOVERY phase handling as part of its own single-threaded
// round state machine (§5).
type Recovery struct {
	Phase    RecoveryPhase
	Attempts int

	checkpoints CheckpointSource
	sync        SyncClient
	cfg         Config
}

// NewRecovery builds a recovery coordinator.
func NewRecovery(checkpoints CheckpointSource, sc SyncClient, cfg Config) *Recovery {
	return &Recovery{Phase: RecoveryAnalyzing, checkpoints: checkpoints, sync: sc, cfg: cfg}
}

// Run executes one attempt of the recovery protocol from lastGoodNumber up
// to peerHead (§4.6 steps 1-3): request the missing range, and report
// whether the node should exit RECOVERY. On repeated failure the caller
// should escalate to EnterEmergency.
func (r *Recovery) Run(peer string, lastGoodNumber, peerHead uint64, now time.Time) ([]*types.Block, error) {
	r.Phase = RecoverySyncing
	r.Attempts++

	ch, err := r.sync.RequestSync(peer, lastGoodNumber+1, peerHead)
	if err != nil {
		return nil, errs.Wrap(errs.Fault, "sync request failed", err)
	}

	var blocks []*types.Block
	deadline := now.Add(r.cfg.RecoveryTimeout)
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				r.Phase = RecoveryVerifying
				return blocks, nil
			}
			blocks = append(blocks, b)
		case <-time.After(time.Until(deadline)):
			return nil, errs.New(errs.Fault, "recovery sync deadline exceeded")
		}
	}
}

// Verify checks the synced blocks' final state digest against the most
// recent checkpoint at or below the new head (§4.6 step 3). On mismatch
// the recovery protocol must escalate to EMERGENCY rather than resume.
func (r *Recovery) Verify(newHead uint64, stateDigest common.Hash) error {
	cp, ok := r.checkpoints.LatestCheckpoint(newHead)
	if !ok {
		r.Phase = RecoveryResolved
		return nil // no checkpoint to verify against yet (early chain)
	}
	if cp.StateDigest != stateDigest {
		return errs.New(errs.Fault, "post-sync state digest does not match last checkpoint")
	}
	r.Phase = RecoveryResolved
	return nil
}

// EnterEmergency rewinds to the last known good checkpoint and computes
// the reduced quorum EMERGENCY operates under for a bounded number of
// rounds (§4.6 step 4: "resume with reduced quorum ceil(|active|/2)+1").
func (r *Recovery) EnterEmergency(atOrBelow uint64, activeCount int) (rewindTo uint64, reducedQuorum int, ok bool) {
	cp, found := r.checkpoints.LatestCheckpoint(atOrBelow)
	if !found {
		return 0, 0, false
	}
	r.Phase = RecoveryEmergency
	return cp.BlockNumber, emergencyQuorumThreshold(activeCount), true
}

func emergencyQuorumThreshold(active int) int { return (active+1)/2 + 1 }
