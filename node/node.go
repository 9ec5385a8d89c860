// Package node implements §9's mediator: the one place that owns
// references to consensus, ledger, mempool, broadcast, and fault tolerance,
// and wires them together through the narrow interfaces those packages
// already declare plus the scheduler-driven round/heartbeat/recovery
// timers of §5. No package downstream of this one calls back into
// another's internals — every cross-package notification flows through
// events.Bus or through this node's own message/timer handlers, matching
// §9's "cyclic references between consensus/ledger/mempool -> explicit
// mediator" resolution. Grounded on the teacher's tos/backend.go, the one
// type in the retrieved tree that likewise owns every subsystem (miner,
// txpool, blockchain, p2p) and wires them in a single New/Start.
package node

import (
	"encoding/json"
	"time"

	"github.com/chainforge/poaledger/broadcast"
	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/consensus/poa"
	"github.com/chainforge/poaledger/crypto"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/events"
	"github.com/chainforge/poaledger/faulttolerance"
	"github.com/chainforge/poaledger/internal/xlog"
	"github.com/chainforge/poaledger/ledger"
	"github.com/chainforge/poaledger/mempool"
	"github.com/chainforge/poaledger/sched"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validator"
)

var log = xlog.New("component", "node")

// broadcastShim adapts broadcast.NodeAdapter's Kind-typed Broadcast to the
// plain-string poa.Broadcaster contract the consensus engine depends on,
// since the two packages intentionally do not share a string/Kind type
// (§9: consensus must not need to know C7's message taxonomy).
type broadcastShim struct {
	adapter *broadcast.NodeAdapter
}

func (s *broadcastShim) Broadcast(kind string, payload interface{}) error {
	switch kind {
	case "PROPOSAL":
		return s.adapter.Broadcast(broadcast.KindBlock, payload)
	case "VOTE":
		return s.adapter.Broadcast(broadcast.KindVote, payload)
	default:
		return s.adapter.Broadcast(broadcast.Kind(kind), payload)
	}
}

// recoverySyncShim narrows broadcastShim's underlying adapter down to the
// typed-block channel faulttolerance.SyncClient expects, translating the
// in-process adapter's untyped sync channel into one that only ever
// carries *types.Block.
type recoverySyncShim struct {
	adapter *broadcast.NodeAdapter
}

func (s *recoverySyncShim) RequestSync(peer string, fromBlock, toBlock uint64) (<-chan *types.Block, error) {
	raw, err := s.adapter.RequestSync(peer, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	out := make(chan *types.Block)
	go func() {
		defer close(out)
		for v := range raw {
			if b, ok := v.(*types.Block); ok {
				out <- b
			}
		}
	}()
	return out, nil
}

// Config bundles the node mediator's own tunables, layered on top of
// consensus/poa.Config, mempool.Config, and faulttolerance.Config.
type Config struct {
	HeartbeatInterval     time.Duration
	RecoveryRetryInterval time.Duration
	CheckpointInterval    uint64
}

// DefaultConfig matches the other packages' own defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:     30 * time.Second,
		RecoveryRetryInterval: 10 * time.Second,
		CheckpointInterval:    100,
	}
}

// Node owns one validator's full stack: consensus engine, ledger, mempool,
// network adapter, fault detector, recovery coordinator, and the scheduler
// driving all of their timers.
type Node struct {
	addr common.Address
	set  *validator.Set

	engine   *poa.Engine
	ledger   *ledger.Ledger
	pool     *mempool.Mempool
	detector *faulttolerance.Detector
	recovery *faulttolerance.Recovery
	bc       *broadcast.NodeAdapter
	bus      *events.Bus
	sched    *sched.Scheduler
	cfg      Config

	// accusationCh receives the consensus engine's locally-observed
	// equivocation events; drained synchronously (never read from a
	// goroutine) so ordering stays deterministic under sched.Scheduler's
	// mock clock. Buffered generously since Bus.Emit drops rather than
	// blocks on a full channel.
	accusationCh  chan events.Event
	accusationSub events.Subscription

	leader     common.Address
	inRecovery bool
}

// New wires one node's subsystems together. self is the validator's signing
// key; set is the shared validator set view; ledg/pool are this node's
// ledger and mempool instances; bc is this node's network adapter handle
// (already Join'd on a broadcast.Network); bus is the shared event sink.
func New(
	self *crypto.PrivateKey,
	set *validator.Set,
	ledg *ledger.Ledger,
	pool *mempool.Mempool,
	bc *broadcast.NodeAdapter,
	bus *events.Bus,
	clk sched.Clock,
	consensusCfg poa.Config,
	ftCfg faulttolerance.Config,
	cfg Config,
) *Node {
	shim := &broadcastShim{adapter: bc}
	engine := poa.New(self, set, ledg, pool, shim, bus, consensusCfg)
	detector := faulttolerance.NewDetector(set, ftCfg, bus)
	recovery := faulttolerance.NewRecovery(ledg, &recoverySyncShim{adapter: bc}, ftCfg)

	accusationCh := make(chan events.Event, 32)
	sub := bus.Subscribe(accusationCh, events.AccusationRaised)

	return &Node{
		addr:          self.Address(),
		set:           set,
		engine:        engine,
		ledger:        ledg,
		pool:          pool,
		detector:      detector,
		recovery:      recovery,
		bc:            bc,
		bus:           bus,
		sched:         sched.NewScheduler(clk),
		cfg:           cfg,
		accusationCh:  accusationCh,
		accusationSub: sub,
	}
}

// Engine exposes the underlying consensus engine for read-only inspection
// (e.g. nodeapi's getConsensusStatus).
func (n *Node) Engine() *poa.Engine { return n.engine }

// Detector exposes the underlying fault detector for read-only inspection
// (e.g. nodeapi's getHealthReport).
func (n *Node) Detector() *faulttolerance.Detector { return n.detector }

// Ledger exposes the underlying ledger for nodeapi's block/transaction
// queries.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Pool exposes the underlying mempool for nodeapi's submit/pending queries.
func (n *Node) Pool() *mempool.Mempool { return n.pool }

// ValidatorSet exposes the underlying validator set for nodeapi's
// getValidators query.
func (n *Node) ValidatorSet() *validator.Set { return n.set }

// Now returns the scheduler's current time, so nodeapi can stamp queries
// with the same notion of "now" the round state machine uses.
func (n *Node) Now() time.Time { return n.sched.Now() }

// Start registers the network handler, opens the first round, and arms the
// heartbeat/round-deadline timers.
func (n *Node) Start() error {
	n.bc.OnMessage(n.handleMessage)

	now := n.sched.Now()
	if leader, ok := n.detector.ElectLeader(now); ok {
		n.leader = leader
	}
	if err := n.engine.StartRound(now); err != nil {
		return err
	}
	n.armRoundDeadline()
	n.sched.Arm(sched.TimerHeartbeat, n.cfg.HeartbeatInterval, n.onHeartbeat)
	return nil
}

// Stop cancels every armed timer and releases the accusation subscription.
func (n *Node) Stop() {
	n.sched.CancelAll()
	if n.accusationSub != nil {
		n.accusationSub.Unsubscribe()
	}
}

func (n *Node) handleMessage(env broadcast.Envelope) {
	now := n.sched.Now()

	switch env.Kind {
	case broadcast.KindBlock:
		block, ok := env.Payload.(*types.Block)
		if !ok {
			return
		}
		if err := n.engine.HandleProposal(block, now); err != nil {
			log.Warn("proposal rejected", "from", env.From.Hex(), "err", err.Error())
			n.maybeEnterRecovery(err)
		}
		n.armRoundDeadline()

	case broadcast.KindVote:
		vote, ok := env.Payload.(*types.Vote)
		if !ok {
			return
		}
		if err := n.engine.HandleVote(vote, now); err != nil {
			log.Warn("vote rejected", "from", env.From.Hex(), "err", err.Error())
		}
		n.drainAccusations(now)
		n.armRoundDeadline()

	case broadcast.KindHeartbeat:
		n.detector.RecordHeartbeat(env.From, now)

	case broadcast.KindAccusation:
		a, ok := env.Payload.(faulttolerance.Accusation)
		if !ok {
			return
		}
		n.detector.Accuse(a)
	}
}

// drainAccusations applies every equivocation event the consensus engine
// has queued onto accusationCh since the last drain. Synchronous by design
// (no goroutine reads this channel): the consensus engine's Bus.Emit is
// itself synchronous and non-blocking, so by the time HandleVote returns
// any accusation it raised is already queued, and draining here keeps the
// jailing decision on the same call stack as the triggering message instead
// of racing the scheduler's mock clock.
func (n *Node) drainAccusations(now time.Time) {
	for {
		select {
		case ev := <-n.accusationCh:
			n.applyAccusation(ev, now)
		default:
			return
		}
	}
}

// applyAccusation turns a locally-observed equivocation event into an
// Accusation, jails/slashes it through this node's own detector, and
// broadcasts it so every other node applies the same accusation against
// its own copy of the validator set (broadcast.NodeAdapter.Broadcast never
// loops a message back to its own sender, so the local Accuse call here is
// required — remote nodes pick it up through the existing
// broadcast.KindAccusation branch in handleMessage).
func (n *Node) applyAccusation(ev events.Event, now time.Time) {
	data, ok := ev.Payload.(map[string]interface{})
	if !ok {
		return
	}
	offender, ok := data["validator"].(common.Address)
	if !ok {
		return
	}
	offense, _ := data["offense"].(string)
	var round uint64
	if r, ok := data["round"].(uint64); ok {
		round = r
	}
	evidence, err := json.Marshal(data)
	if err != nil {
		evidence = nil
	}
	a := faulttolerance.Accusation{
		Offender:  offender,
		Offense:   faulttolerance.Offense(offense),
		Round:     round,
		Evidence:  evidence,
		Accuser:   n.addr,
		Timestamp: now,
	}
	if n.detector.Accuse(a) {
		log.Warn("validator jailed", "offender", offender.Hex(), "offense", offense)
	}
	if err := n.bc.Broadcast(broadcast.KindAccusation, a); err != nil {
		log.Warn("broadcast accusation failed", "offender", offender.Hex(), "err", err.Error())
	}
}

func (n *Node) armRoundDeadline() {
	round := n.engine.CurrentRound()
	if round.Deadline.IsZero() {
		return
	}
	now := n.sched.Now()
	d := round.Deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	n.sched.Arm(sched.TimerRoundDeadline, d, n.onRoundDeadline)
}

func (n *Node) onRoundDeadline() {
	now := n.sched.Now()
	timedOut, err := n.engine.CheckTimeout(now)
	if err != nil {
		n.maybeEnterRecovery(err)
		return
	}
	if timedOut {
		n.maybeFailoverLeader(now)
	}
	n.maybeCheckCheckpointAge(now)
	n.armRoundDeadline()
}

// maybeFailoverLeader runs the cluster-wide leader election of §4.6 when a
// round timeout suggests the current leader may be unresponsive. This is
// distinct from the engine's own per-round proposer rotation: the leader
// tracked here only changes on failover, while the proposer rotates every
// round regardless of leader health.
func (n *Node) maybeFailoverLeader(now time.Time) {
	if !n.detector.LeaderUnresponsive(n.leader, now) {
		return
	}
	next, ok := n.detector.ElectLeader(now)
	if !ok || next == n.leader {
		return
	}
	log.Warn("leader failover", "previous", n.leader.Hex(), "next", next.Hex())
	n.leader = next
}

func (n *Node) onHeartbeat() {
	now := n.sched.Now()
	_ = n.bc.Broadcast(broadcast.KindHeartbeat, nil)
	n.detector.CheckHealth(now)
	if _, majority := n.detector.DetectPartition(n.set.ActiveCount(now), now); !majority {
		n.maybeEnterRecovery(errs.New(errs.Fault, "partition detected: below majority reachable validators"))
	}
	n.sched.Arm(sched.TimerHeartbeat, n.cfg.HeartbeatInterval, n.onHeartbeat)
}

// maybeEnterRecovery puts the node into RECOVERY once, arming the retry
// timer; repeated recovery-triggering errors while already in RECOVERY are
// a no-op, since the retry timer is already driving the coordinator.
func (n *Node) maybeEnterRecovery(cause error) {
	if n.inRecovery {
		return
	}
	n.inRecovery = true
	n.engine.EnterRecovery(cause.Error())
	log.Warn("node entering recovery", "reason", cause.Error())
	n.sched.Arm(sched.TimerRecoveryRetry, n.cfg.RecoveryRetryInterval, n.attemptRecovery)
}

// attemptRecovery drives one pass of faulttolerance.Recovery's sync/verify
// protocol against this node's own ledger head. The in-process broadcast
// adapter's RequestSync never yields blocks (§7: "single-process
// deployments never diverge"), so in practice this resolves immediately by
// resuming the round state machine; a real transport's sync responses flow
// through the same path once wired to broadcast.Adapter.
func (n *Node) attemptRecovery() {
	now := n.sched.Now()

	if n.detector.Partitioned() {
		// Still on the minority side: stay paused and retry later rather
		// than resuming into a round the rest of the set can't reach
		// quorum on. onHeartbeat's next DetectPartition call is what
		// flips this false once majority connectivity returns.
		n.sched.Arm(sched.TimerRecoveryRetry, n.cfg.RecoveryRetryInterval, n.attemptRecovery)
		return
	}

	head := n.ledger.Latest()

	blocks, err := n.recovery.Run("", head.Number, head.Number, now)
	if err != nil || len(blocks) == 0 {
		n.resumeFromRecovery(now)
		return
	}

	if err := n.recovery.Verify(head.Number, head.StateRoot); err != nil {
		active := n.set.ActiveCount(now)
		rewindTo, quorum, ok := n.recovery.EnterEmergency(head.Number, active)
		log.Error("recovery verify failed, entering emergency", "rewindTo", rewindTo, "reducedQuorum", quorum, "ok", ok)
		n.sched.Arm(sched.TimerRecoveryRetry, n.cfg.RecoveryRetryInterval, n.attemptRecovery)
		return
	}
	n.resumeFromRecovery(now)
}

func (n *Node) resumeFromRecovery(now time.Time) {
	if err := n.engine.ResumeFromRecovery(now); err != nil {
		n.sched.Arm(sched.TimerRecoveryRetry, n.cfg.RecoveryRetryInterval, n.attemptRecovery)
		return
	}
	n.inRecovery = false
	n.armRoundDeadline()
}

// maybeCheckCheckpointAge warns when the chain has advanced a full
// checkpoint interval past the most recent checkpoint without capturing a
// new one, a sign the ledger's own periodic capture (tied to block commits)
// has stalled rather than something the round timers alone would surface.
func (n *Node) maybeCheckCheckpointAge(now time.Time) {
	head := n.ledger.Latest()
	if head.Number == 0 {
		return
	}
	if _, ok := n.ledger.LatestCheckpoint(head.Number); !ok && head.Number >= n.cfg.CheckpointInterval {
		log.Warn("no checkpoint captured within checkpoint interval", "head", head.Number)
	}
	n.sched.Arm(sched.TimerCheckpointAge, n.cfg.HeartbeatInterval, func() { n.maybeCheckCheckpointAge(n.sched.Now()) })
}
