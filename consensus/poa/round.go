package poa

import (
	"time"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/types"
)

// Phase is one state of the round lifecycle (§3 "Consensus round").
type Phase string

const (
	PhaseProposal Phase = "PROPOSAL"
	PhaseVoting   Phase = "VOTING"
	PhaseCommit   Phase = "COMMIT"
	PhaseRecovery Phase = "RECOVERY"
)

// Status is the terminal or in-flight outcome of a round.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

// Round is the state machine's unit of work; only one is active at a time
// per node (§4.5 "Each round is an explicit state machine").
type Round struct {
	Number        uint64
	Phase         Phase
	Proposer      common.Address
	StartTime     time.Time
	Deadline      time.Time
	ProposedBlock *types.Block
	Votes         []*types.Vote
	Status        Status
	FailureReason string
}
