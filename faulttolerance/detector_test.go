package faulttolerance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/validator"
)

// recordingSink captures every emitted kind so tests can assert the right
// notifications fired without wiring a full events.Bus.
type recordingSink struct {
	kinds []string
}

func (s *recordingSink) Emit(kind string, data interface{}) {
	s.kinds = append(s.kinds, kind)
}

func (s *recordingSink) has(kind string) bool {
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func newTestSet(t *testing.T, n int) (*validator.Set, []common.Address) {
	t.Helper()
	addrs := make([]common.Address, n)
	for i := range addrs {
		addrs[i] = common.BytesToAddress([]byte{byte(i + 1)})
	}
	set, err := validator.NewSet(addrs, 1)
	require.NoError(t, err)
	return set, addrs
}

func TestAccuseJailsAfterThreshold(t *testing.T) {
	set, addrs := newTestSet(t, 4)
	offender := addrs[0]
	sink := &recordingSink{}
	cfg := DefaultConfig()
	d := NewDetector(set, cfg, sink)

	now := time.Now()
	var jailed bool
	for i := 0; i < cfg.AccusationThreshold; i++ {
		jailed = d.Accuse(Accusation{Offender: offender, Offense: OffenseDoubleSigning, Round: uint64(i), Timestamp: now})
	}

	require.True(t, jailed)
	require.True(t, sink.has("Slashed"))

	health, ok := set.Health(offender)
	require.True(t, ok)
	require.Equal(t, validator.Failed, health.Status)
	require.True(t, health.Jailed(now))
	require.Equal(t, 100.0-slashWeight[OffenseDoubleSigning], health.Reputation)

	active := set.ActiveValidators(now)
	require.NotContains(t, active, offender)
}

func TestAccuseBelowThresholdDoesNotJail(t *testing.T) {
	set, addrs := newTestSet(t, 4)
	offender := addrs[0]
	cfg := DefaultConfig()
	d := NewDetector(set, cfg, nil)

	now := time.Now()
	jailed := d.Accuse(Accusation{Offender: offender, Offense: OffenseInvalidBlock, Round: 1, Timestamp: now})

	require.False(t, jailed)
	health, ok := set.Health(offender)
	require.True(t, ok)
	require.NotEqual(t, validator.Failed, health.Status)
}

func TestAccuseEvictsStaleEvidence(t *testing.T) {
	set, addrs := newTestSet(t, 4)
	offender := addrs[0]
	cfg := DefaultConfig()
	d := NewDetector(set, cfg, nil)

	base := time.Now()
	d.Accuse(Accusation{Offender: offender, Offense: OffenseNonParticipation, Round: 1, Timestamp: base})
	d.Accuse(Accusation{Offender: offender, Offense: OffenseNonParticipation, Round: 2, Timestamp: base.Add(cfg.EvidenceTimeout / 2)})

	// The first accusation has aged out of the evidence window by now;
	// only the second accusation plus this new one should count, so two
	// accusations is not enough to cross AccusationThreshold=3.
	jailed := d.Accuse(Accusation{Offender: offender, Offense: OffenseNonParticipation, Round: 3, Timestamp: base.Add(cfg.EvidenceTimeout + time.Minute)})

	require.False(t, jailed)
	health, ok := set.Health(offender)
	require.True(t, ok)
	require.NotEqual(t, validator.Failed, health.Status)
}

func TestCheckHealthTransitionsToFailedAfterTimeout(t *testing.T) {
	set, addrs := newTestSet(t, 3)
	target := addrs[0]
	sink := &recordingSink{}
	cfg := DefaultConfig()
	d := NewDetector(set, cfg, sink)

	now := time.Now()
	d.RecordHeartbeat(target, now)

	// Past TimeoutThreshold with no heartbeat -> SUSPECTED.
	d.CheckHealth(now.Add(cfg.TimeoutThreshold + time.Second))
	health, ok := set.Health(target)
	require.True(t, ok)
	require.Equal(t, validator.Suspected, health.Status)
	require.False(t, sink.has("ValidatorFailed"))

	// Past twice TimeoutThreshold with still no heartbeat -> FAILED.
	d.CheckHealth(now.Add(2*cfg.TimeoutThreshold + time.Second))
	health, ok = set.Health(target)
	require.True(t, ok)
	require.Equal(t, validator.Failed, health.Status)
	require.True(t, sink.has("ValidatorFailed"))

	// An already-FAILED validator is left alone, not reset by a later scan.
	sink.kinds = nil
	d.CheckHealth(now.Add(3*cfg.TimeoutThreshold + time.Second))
	health, ok = set.Health(target)
	require.True(t, ok)
	require.Equal(t, validator.Failed, health.Status)
	require.False(t, sink.has("ValidatorFailed"))
}

func TestCheckHealthRecoversWhenHeartbeatsResume(t *testing.T) {
	set, addrs := newTestSet(t, 3)
	target := addrs[0]
	sink := &recordingSink{}
	cfg := DefaultConfig()
	d := NewDetector(set, cfg, sink)

	now := time.Now()
	d.RecordHeartbeat(target, now)
	d.CheckHealth(now.Add(cfg.TimeoutThreshold + time.Second))

	health, _ := set.Health(target)
	require.Equal(t, validator.Suspected, health.Status)

	// A fresh heartbeat followed by another scan observes lastSeen within
	// TimeoutThreshold again and should move SUSPECTED back to ACTIVE.
	recovered := now.Add(cfg.TimeoutThreshold + 2*time.Second)
	d.RecordHeartbeat(target, recovered)
	sink.kinds = nil
	d.CheckHealth(recovered)

	health, _ = set.Health(target)
	require.Equal(t, validator.Active, health.Status)
	require.True(t, sink.has("ValidatorRecovered"))
}

func TestDetectPartitionDeclaresAndResolves(t *testing.T) {
	set, _ := newTestSet(t, 4) // partitionMajorityThreshold(4) == 3
	sink := &recordingSink{}
	d := NewDetector(set, DefaultConfig(), sink)

	now := time.Now()
	id, majority := d.DetectPartition(2, now)
	require.False(t, majority)
	require.NotEmpty(t, id)
	require.True(t, sink.has("PartitionDetected"))
	require.True(t, d.Partitioned())

	secondID, majority := d.DetectPartition(2, now)
	require.False(t, majority)
	require.Equal(t, id, secondID, "partition id is stable while still active")

	_, majority = d.DetectPartition(3, now)
	require.True(t, majority)
	require.False(t, d.Partitioned())
	require.True(t, sink.has("PartitionResolved"))
}

func TestDetectPartitionNeverDeclaredAboveThreshold(t *testing.T) {
	set, _ := newTestSet(t, 4)
	d := NewDetector(set, DefaultConfig(), nil)

	_, majority := d.DetectPartition(4, time.Now())
	require.True(t, majority)
	require.False(t, d.Partitioned())
}

func TestLeaderUnresponsiveAndElectLeader(t *testing.T) {
	set, addrs := newTestSet(t, 3)
	d := NewDetector(set, DefaultConfig(), nil)

	now := time.Now()
	leader, ok := d.ElectLeader(now)
	require.True(t, ok)
	require.Contains(t, addrs, leader)
	require.False(t, d.LeaderUnresponsive(leader, now))

	set.Update(leader, func(h *validator.Health) { h.Status = validator.Failed })
	require.True(t, d.LeaderUnresponsive(leader, now))

	next, ok := d.ElectLeader(now)
	require.True(t, ok)
	require.NotEqual(t, leader, next, "a FAILED leader must not be re-elected")
}
