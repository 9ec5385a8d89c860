// Package poa implements C5: the explicit PROPOSAL/VOTING/COMMIT/RECOVERY
// round state machine, proposer rotation, supermajority tallying, and
// equivocation detection. Grounded on the teacher's consensus/dpos round-
// snapshot idiom for proposer rotation and consensus/bft's vote-pool for
// equivocation tracking, recombined into one state machine per §4.5 (the
// teacher itself kept these as two separate, incompatible protocols).
package poa

import (
	"sync"
	"time"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/internal/xlog"
	"github.com/chainforge/poaledger/mempool"
	"github.com/chainforge/poaledger/state"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validate"
	"github.com/chainforge/poaledger/validator"
)

var log = xlog.New("component", "consensus")

// Ledger is the narrow view the round state machine needs over C3 (§9:
// "narrow interfaces, no callbacks into consensus").
type Ledger interface {
	Latest() *types.Block
	Snapshot() *state.Snapshot
	Replay() validate.ReplaySet
	Thresholds() validate.Thresholds
	AddBlock(block *types.Block, now time.Time) error
}

// Pool is the narrow view the round state machine needs over C4.
type Pool interface {
	Select(gasLimit uint64, maxCount int, strategy mempool.SelectStrategy, now time.Time) []*types.Transaction
	MarkProcessed(txs []*types.Transaction)
}

// Broadcaster is C7's outbound half, consumed by C5/C6 (§6).
type Broadcaster interface {
	Broadcast(kind string, payload interface{}) error
}

// EventSink publishes the typed events of §9; the engine never calls back
// into other components directly, only through this notification channel.
type EventSink interface {
	Emit(kind string, data interface{})
}

// Event kind names (§9).
const (
	EventBlockProposed  = "BlockProposed"
	EventVoteCast       = "VoteCast"
	EventBlockCommitted = "BlockCommitted"
	EventBlockRejected  = "BlockRejected"
	EventRoundTimeout   = "RoundTimeout"
	EventAccusation     = "Accusation"
)

// Config bundles the round state machine's timeouts and block-building
// policy (§6).
type Config struct {
	ProposalTimeout time.Duration
	VotingPeriod    time.Duration
	BlockGasLimit   uint64
	MaxTxsPerBlock  int
	SelectStrategy  mempool.SelectStrategy
	MaxFailedRounds int
}

// DefaultConfig matches §4.5's timeout table defaults.
func DefaultConfig() Config {
	return Config{
		ProposalTimeout: 5 * time.Second,
		VotingPeriod:    5 * time.Second,
		BlockGasLimit:   8_000_000,
		MaxTxsPerBlock:  5000,
		SelectStrategy:  mempool.SelectPriority,
		MaxFailedRounds: 5,
	}
}

// Engine drives a single node's round state machine. It is not safe for
// concurrent external calls on a shared instance except through its own
// mutex: a node wires exactly one consensus task to it (§5 "One consensus
// task drives the state machine; it is single-threaded with respect to
// round state").
type Engine struct {
	mu sync.Mutex

	self  *crypto.PrivateKey
	addr  common.Address
	set   *validator.Set
	ledg  Ledger
	pool  Pool
	bc    Broadcaster
	ev    EventSink
	cfg   Config
	votes *VotePool

	current             *Round
	failedRounds        int
	consecutiveTimeouts int
}

// New builds an engine for the validator identified by self.
func New(self *crypto.PrivateKey, set *validator.Set, ledg Ledger, pool Pool, bc Broadcaster, ev EventSink, cfg Config) *Engine {
	return &Engine{
		self:  self,
		addr:  self.Address(),
		set:   set,
		ledg:  ledg,
		pool:  pool,
		bc:    bc,
		ev:    ev,
		cfg:   cfg,
		votes: NewVotePool(),
	}
}

func (e *Engine) emit(kind string, data interface{}) {
	if e.ev != nil {
		e.ev.Emit(kind, data)
	}
}

func (e *Engine) broadcast(kind string, payload interface{}) {
	if e.bc == nil {
		return
	}
	if err := e.bc.Broadcast(kind, payload); err != nil {
		log.Warn("broadcast failed", "kind", kind, "err", err.Error())
	}
}

// CurrentRound returns a copy of the active round's state.
func (e *Engine) CurrentRound() Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Round{}
	}
	return *e.current
}

// StartRound opens a new round at ledger.Latest().Number+1, computing the
// proposer and, if self is proposer, building and broadcasting a block
// (§4.5 PROPOSAL).
func (e *Engine) StartRound(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startRoundLocked(now)
}

func (e *Engine) startRoundLocked(now time.Time) error {
	number := e.nextRoundNumberLocked()
	proposer, ok := e.set.Proposer(number, now)
	if !ok {
		return errs.New(errs.Fault, "no active validators to propose")
	}
	e.current = &Round{
		Number:    number,
		Phase:     PhaseProposal,
		Proposer:  proposer,
		StartTime: now,
		Deadline:  now.Add(e.cfg.ProposalTimeout),
		Status:    StatusPending,
	}
	log.Info("round started", "round", number, "proposer", proposer.Hex())

	if proposer != e.addr {
		return nil
	}
	block, err := e.buildProposalLocked(now)
	if err != nil {
		return err
	}
	e.current.ProposedBlock = block
	e.emit(EventBlockProposed, block)
	e.broadcast("PROPOSAL", block)
	return e.enterVotingLocked(now)
}

func (e *Engine) nextRoundNumberLocked() uint64 {
	if e.current == nil {
		return e.ledg.Latest().Number + 1
	}
	return e.current.Number + 1
}

// buildProposalLocked selects transactions from the mempool, applies them
// to a scratch copy of committed state, and signs the resulting block
// (§4.5 PROPOSAL, §4.3's apply-sequentially discipline). Transactions that
// fail validation against the scratch copy are silently dropped from the
// proposal rather than aborting it.
func (e *Engine) buildProposalLocked(now time.Time) (*types.Block, error) {
	parent := e.ledg.Latest()
	scratch := e.ledg.Snapshot()
	replay := e.ledg.Replay()
	th := e.ledg.Thresholds()

	candidates := e.pool.Select(e.cfg.BlockGasLimit, e.cfg.MaxTxsPerBlock, e.cfg.SelectStrategy, now)
	included := make([]*types.Transaction, 0, len(candidates))
	var gasUsed uint64
	for _, tx := range candidates {
		if err := validate.Transaction(tx, scratch, replay, th, now); err != nil {
			continue
		}
		if err := scratch.ApplyTransaction(tx, e.addr); err != nil {
			continue
		}
		included = append(included, tx)
		gasUsed += tx.GasLimit
	}

	block := &types.Block{
		Number:     parent.Number + 1,
		ParentHash: parent.Hash,
		Timestamp:  uint64(now.UnixMilli()),
		GasLimit:   e.cfg.BlockGasLimit,
		GasUsed:    gasUsed,
		StateRoot:  scratch.Digest(stateDigest),
	}
	block.Transactions = included
	if err := block.Sign(e.self); err != nil {
		return nil, err
	}
	return block, nil
}

func stateDigest(parts ...[]byte) common.Hash { return crypto.Hash256Concat(parts...) }

// HandleProposal accepts an externally-received proposal: verifies it
// belongs to the active round's expected proposer, dry-runs C2/C3
// validation, casts a signed vote, and broadcasts it (§4.5 PROPOSAL->VOTING).
func (e *Engine) HandleProposal(block *types.Block, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.Phase != PhaseProposal {
		return errs.New(errs.Consensus, "proposal received outside PROPOSAL phase")
	}
	if block.Number != e.current.Number {
		return errs.New(errs.Consensus, "proposal round number mismatch")
	}
	recovered, ok := block.RecoverSigner()
	if !ok || recovered != e.current.Proposer {
		return errs.New(errs.Consensus, "proposal not signed by expected proposer for round")
	}

	e.current.ProposedBlock = block
	e.emit(EventBlockProposed, block)
	return e.enterVotingLocked(now)
}

// enterVotingLocked transitions PROPOSAL->VOTING and casts self's vote.
func (e *Engine) enterVotingLocked(now time.Time) error {
	e.current.Phase = PhaseVoting
	e.current.Deadline = now.Add(e.cfg.VotingPeriod)

	decision := validate.Block(e.current.ProposedBlock, e.ledg.Latest(), e.ledg.Snapshot(), e.ledg.Replay(), e.ledg.Thresholds(), now) == nil
	vote := &types.Vote{
		BlockHash:   e.current.ProposedBlock.Hash,
		Decision:    decision,
		RoundNumber: e.current.Number,
		Timestamp:   uint64(now.UnixMilli()),
	}
	if err := vote.Sign(e.self); err != nil {
		return err
	}
	if _, err := e.votes.AddVote(vote); err != nil {
		return err
	}
	e.current.Votes = append(e.current.Votes, vote)
	e.emit(EventVoteCast, vote)
	e.broadcast("VOTE", vote)
	return e.tallyLocked(now)
}

// HandleVote accepts an externally-received vote: verifies its signature,
// records it (detecting equivocation), and tallies toward commit (§4.5
// VOTING).
func (e *Engine) HandleVote(vote *types.Vote, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.Phase != PhaseVoting {
		return nil // stale vote for a closed round, ignore
	}
	if vote.RoundNumber != e.current.Number {
		return nil
	}
	if !vote.Verify() {
		return errs.New(errs.Cryptographic, "vote signature does not recover to validator")
	}
	if !e.set.Contains(vote.Validator) {
		return errs.New(errs.Consensus, "vote from non-validator")
	}

	_, err := e.votes.AddVote(vote)
	if err != nil {
		e.emit(EventAccusation, map[string]interface{}{"offense": "EQUIVOCATION", "validator": vote.Validator, "round": vote.RoundNumber})
		return err
	}
	e.current.Votes = append(e.current.Votes, vote)
	return e.tallyLocked(now)
}

// tallyLocked checks whether either outcome has reached supermajority and,
// if so, commits (§4.5 "approve >= ... or reject >= ... -> COMMIT").
func (e *Engine) tallyLocked(now time.Time) error {
	if e.current.ProposedBlock == nil {
		return nil
	}
	threshold := SupermajorityThreshold(e.set.Size())
	hash := e.current.ProposedBlock.Hash
	approve := e.votes.Tally(e.current.Number, hash, true)
	reject := e.votes.Tally(e.current.Number, hash, false)

	switch {
	case approve >= threshold:
		return e.commitLocked(now, true)
	case reject >= threshold:
		return e.commitLocked(now, false)
	default:
		return nil
	}
}

// commitLocked executes §4.5's COMMIT phase.
func (e *Engine) commitLocked(now time.Time, approved bool) error {
	e.current.Phase = PhaseCommit
	block := e.current.ProposedBlock

	if !approved {
		e.current.Status = StatusFailed
		e.current.FailureReason = "rejected by supermajority"
		e.failedRounds++
		e.emit(EventBlockRejected, block)
		return e.advanceRoundLocked(now)
	}

	if err := e.ledg.AddBlock(block, now); err != nil {
		e.current.Status = StatusFailed
		e.current.FailureReason = "addBlock failed: " + err.Error()
		e.current.Phase = PhaseRecovery
		log.Error("commit failed, entering recovery", "round", e.current.Number, "err", err.Error())
		return errs.Wrap(errs.Fault, "ledger commit failed during COMMIT phase", err)
	}

	e.pool.MarkProcessed(block.Transactions)
	e.current.Status = StatusSuccess
	e.failedRounds = 0
	e.consecutiveTimeouts = 0
	e.votes.Reset(e.current.Number + 1)
	e.emit(EventBlockCommitted, block)
	return e.advanceRoundLocked(now)
}

// CheckTimeout advances the round if its phase deadline has passed (§4.5's
// PROPOSAL/VOTING timeout columns), returning true if it did.
func (e *Engine) CheckTimeout(now time.Time) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || !now.After(e.current.Deadline) {
		return false, nil
	}

	switch e.current.Phase {
	case PhaseProposal:
		e.current.Status = StatusTimeout
		e.current.FailureReason = "proposalTimeout"
		e.failedRounds++
		e.set.Update(e.current.Proposer, func(h *validator.Health) { h.Status = validator.Suspected })
		e.emit(EventRoundTimeout, e.current)
	case PhaseVoting:
		e.current.Status = StatusTimeout
		e.current.FailureReason = "votingTimeout"
		e.failedRounds++
		e.consecutiveTimeouts++
		e.emit(EventRoundTimeout, e.current)
	default:
		return false, nil
	}
	return true, e.advanceRoundLocked(now)
}

// advanceRoundLocked opens the next round, or enters RECOVERY if the
// failure thresholds of §4.6 have tripped.
func (e *Engine) advanceRoundLocked(now time.Time) error {
	if e.failedRounds >= e.cfg.MaxFailedRounds || e.consecutiveTimeouts >= 3 {
		e.current.Phase = PhaseRecovery
		log.Warn("recovery trigger tripped", "failedRounds", e.failedRounds, "consecutiveTimeouts", e.consecutiveTimeouts)
		return errs.New(errs.Fault, "recovery trigger: failedRounds or consecutiveTimeouts threshold reached")
	}
	return e.startRoundLocked(now)
}

// EnterRecovery forces the current round into RECOVERY, used by the node
// mediator when the fault detector reports a partition (§4.6).
func (e *Engine) EnterRecovery(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return
	}
	e.current.Phase = PhaseRecovery
	e.current.FailureReason = reason
}

// ResumeFromRecovery exits RECOVERY and opens a fresh round once the
// recovery protocol (§4.6) has verified synchronized state.
func (e *Engine) ResumeFromRecovery(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedRounds = 0
	e.consecutiveTimeouts = 0
	return e.startRoundLocked(now)
}
