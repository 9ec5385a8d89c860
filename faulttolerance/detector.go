// Package faulttolerance implements C6: the health monitor, Byzantine
// accusation/evidence/jailing pipeline, partition detection, and leader
// failover of §4.6. Grounded on the teacher's consensus/dpos snapshot
// idiom (a single owning type mutating per-validator state under one
// lock, §5's "Health records are mutated only by the fault detector") and
// on consensus/bft's evidence-carrying accusation shape.
package faulttolerance

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/internal/xlog"
	"github.com/chainforge/poaledger/validator"
)

var log = xlog.New("component", "faulttolerance")

// Offense is one of the four offense classes (§4.6).
type Offense string

const (
	OffenseDoubleSigning    Offense = "DOUBLE_SIGNING"
	OffenseEquivocation     Offense = "EQUIVOCATION"
	OffenseInvalidBlock     Offense = "INVALID_BLOCK"
	OffenseNonParticipation Offense = "NON_PARTICIPATION"
)

// slashWeight is the per-offense reputation penalty (§4.6).
var slashWeight = map[Offense]float64{
	OffenseDoubleSigning:    50,
	OffenseEquivocation:     40,
	OffenseInvalidBlock:     30,
	OffenseNonParticipation: 10,
}

// Accusation is a single piece of signed evidence against a validator
// (§4.6 "Accusations carry signed evidence and reference the round").
type Accusation struct {
	Offender  common.Address
	Offense   Offense
	Round     uint64
	Evidence  []byte
	Accuser   common.Address
	Timestamp time.Time
}

// EventSink publishes ValidatorFailed/ValidatorRecovered/Accusation/Slashed/
// PartitionDetected/PartitionResolved (§9); the detector never calls back
// into consensus directly.
type EventSink interface {
	Emit(kind string, data interface{})
}

// Config bundles C6's tunables (§6).
type Config struct {
	HeartbeatInterval   time.Duration
	TimeoutThreshold    time.Duration // default 3 * HeartbeatInterval
	MaxFailedRounds     int
	AccusationThreshold int
	EvidenceTimeout     time.Duration
	PunishmentDuration  time.Duration
	PartitionTimeout    time.Duration
	RecoveryTimeout     time.Duration
}

// DefaultConfig matches §4.5/§4.6's timeout-table defaults.
func DefaultConfig() Config {
	hb := 30 * time.Second
	return Config{
		HeartbeatInterval:   hb,
		TimeoutThreshold:    3 * hb,
		MaxFailedRounds:     5,
		AccusationThreshold: 3,
		EvidenceTimeout:     10 * time.Minute,
		PunishmentDuration:  1 * time.Hour,
		PartitionTimeout:    2 * time.Minute,
		RecoveryTimeout:     30 * time.Second,
	}
}

// Detector is the fault detector task's owned state and the main mutator of
// validator health (§5); the consensus engine also marks a timed-out
// proposer SUSPECTED.
type Detector struct {
	mu  sync.Mutex
	set *validator.Set
	cfg Config
	ev  EventSink

	// accusations tracks, per offender, the accusations observed within
	// the evidence window; pruned lazily on each Accuse call.
	accusations map[common.Address][]Accusation

	partitionID     string
	partitionActive bool
}

// NewDetector builds a detector over set.
func NewDetector(set *validator.Set, cfg Config, ev EventSink) *Detector {
	return &Detector{
		set:         set,
		cfg:         cfg,
		ev:          ev,
		accusations: make(map[common.Address][]Accusation),
	}
}

func (d *Detector) emit(kind string, data interface{}) {
	if d.ev != nil {
		d.ev.Emit(kind, data)
	}
}

// RecordHeartbeat updates lastSeen on receipt of any signed message from
// addr (§4.6 "update lastSeen on receipt of any signed message").
func (d *Detector) RecordHeartbeat(addr common.Address, now time.Time) {
	d.set.Update(addr, func(h *validator.Health) { h.LastSeen = now })
}

// RecordRoundOutcome updates successRate, responseTime, and
// consecutiveFailures per round outcome, and smooths reputation toward the
// observed performance (§4.6). The smoothing constant mirrors a simple
// exponential moving average, the shape most consensus health trackers in
// the pack use for this kind of running score.
func (d *Detector) RecordRoundOutcome(addr common.Address, success bool, responseTime time.Duration, now time.Time) {
	const alpha = 0.2
	d.set.Update(addr, func(h *validator.Health) {
		h.LastSeen = now
		h.ResponseTime = responseTime
		observed := 0.0
		if success {
			observed = 1.0
			h.ConsecutiveFailures = 0
		} else {
			h.ConsecutiveFailures++
		}
		h.SuccessRate = h.SuccessRate*(1-alpha) + observed*alpha
		h.Reputation = h.Reputation*(1-alpha) + observed*100*alpha
		if h.ConsecutiveFailures >= 3 {
			h.Status = validator.Failed
		}
	})
}

// CheckHealth scans every validator and applies the lastSeen-based
// SUSPECTED/FAILED escalation (§4.6: "now - lastSeen > timeoutThreshold ->
// SUSPECTED"): a validator silent for more than TimeoutThreshold is marked
// SUSPECTED, and one silent for twice that long is marked FAILED outright,
// without waiting on RecordRoundOutcome's separate consecutive-failure
// path. A validator seen healthy again moves back to ACTIVE from SUSPECTED.
// FAILED is not cleared here or anywhere else in this module: a validator
// jailed by Accuse stays FAILED after its JailedUntil passes, and so stays
// out of ActiveValidators. Emits ValidatorFailed/ValidatorRecovered on the
// respective transitions.
func (d *Detector) CheckHealth(now time.Time) {
	for _, addr := range d.set.Members() {
		before, ok := d.set.Health(addr)
		if !ok {
			continue
		}
		d.set.Update(addr, func(h *validator.Health) {
			if h.Status == validator.Failed {
				return
			}
			elapsed := now.Sub(h.LastSeen)
			switch {
			case elapsed > 2*d.cfg.TimeoutThreshold:
				h.Status = validator.Failed
			case elapsed > d.cfg.TimeoutThreshold:
				h.Status = validator.Suspected
			case h.Status == validator.Suspected:
				h.Status = validator.Active
			}
		})
		after, _ := d.set.Health(addr)
		if before.Status != validator.Failed && after.Status == validator.Failed {
			d.emit("ValidatorFailed", addr)
		}
		if before.Status != validator.Active && after.Status == validator.Active {
			d.emit("ValidatorRecovered", addr)
		}
	}
}

// Accuse records an offense against offender and jails it once
// accusationThreshold accusations land within evidenceTimeout (§4.6).
func (d *Detector) Accuse(a Accusation) (jailed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := a.Timestamp.Add(-d.cfg.EvidenceTimeout)
	kept := d.accusations[a.Offender][:0]
	for _, existing := range d.accusations[a.Offender] {
		if existing.Timestamp.After(cutoff) {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, a)
	d.accusations[a.Offender] = kept
	d.emit("Accusation", a)

	if len(kept) < d.cfg.AccusationThreshold {
		return false
	}

	d.set.Update(a.Offender, func(h *validator.Health) {
		h.JailedUntil = a.Timestamp.Add(d.cfg.PunishmentDuration)
		h.Status = validator.Failed
		h.Reputation -= slashWeight[a.Offense]
	})
	d.accusations[a.Offender] = nil
	d.emit("Slashed", map[string]interface{}{"offender": a.Offender, "offense": a.Offense, "weight": slashWeight[a.Offense]})
	log.Warn("validator jailed", "addr", a.Offender.Hex(), "offense", string(a.Offense))
	return true
}

// DetectPartition evaluates reachable against the full validator set per
// §4.6: below partitionMajorityThreshold reachable peers, a partition is
// declared and a fresh opaque partition id minted; the caller (the node
// mediator) is responsible for entering RECOVERY when majority is false.
func (d *Detector) DetectPartition(reachable int, now time.Time) (partitionID string, majority bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.set.Size()
	threshold := partitionMajorityThreshold(n)
	if reachable >= threshold {
		if d.partitionActive {
			d.partitionActive = false
			d.emit("PartitionResolved", d.partitionID)
		}
		return "", true
	}
	if !d.partitionActive {
		d.partitionID = uuid.NewString()
		d.partitionActive = true
		d.emit("PartitionDetected", d.partitionID)
	}
	return d.partitionID, false
}

func partitionMajorityThreshold(n int) int { return (2*n + 2) / 3 }

// Partitioned reports whether this node currently believes it is on the
// minority side of a partition, per the most recent DetectPartition call.
func (d *Detector) Partitioned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.partitionActive
}

// LeaderUnresponsive reports whether current, the cluster-wide leader, is
// no longer healthy (§4.6 "Leader failover: ... becomes unresponsive").
func (d *Detector) LeaderUnresponsive(current common.Address, now time.Time) bool {
	h, ok := d.set.Health(current)
	if !ok {
		return true
	}
	return h.Status == validator.Failed || h.Jailed(now) || now.Sub(h.LastSeen) > d.cfg.TimeoutThreshold
}

// ElectLeader runs the priority-based election of §4.6: the ACTIVE
// validator with the highest reputation, ties broken by address. Every
// honest node computes the same winner from the same health view.
func (d *Detector) ElectLeader(now time.Time) (common.Address, bool) {
	return d.set.Leader(now)
}
