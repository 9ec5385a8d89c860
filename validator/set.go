package validator

import (
	"sort"
	"sync"
	"time"

	"github.com/chainforge/poaledger/common"
)

// Set is the ordered, pre-approved validator set plus each member's live
// health record (§3). Health records are mutated only through this type's
// methods; the fault detector is their main caller, and the consensus
// engine also calls Update to mark a timed-out proposer SUSPECTED.
type Set struct {
	mu            sync.RWMutex
	minValidators int
	members       []common.Address // insertion order, fixed at construction
	health        map[common.Address]*Health
}

// NewSet builds a validator set from the pre-approved address list.
// Duplicates are rejected; the set must meet minValidators.
func NewSet(addrs []common.Address, minValidators int) (*Set, error) {
	seen := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			return nil, ErrDuplicate
		}
		seen[a] = true
	}
	if len(addrs) < minValidators {
		return nil, ErrTooFewValidators
	}
	s := &Set{
		minValidators: minValidators,
		members:       append([]common.Address(nil), addrs...),
		health:        make(map[common.Address]*Health, len(addrs)),
	}
	now := time.Now()
	for _, a := range addrs {
		s.health[a] = &Health{Status: Active, LastSeen: now, SuccessRate: 1, Reputation: 100}
	}
	return s, nil
}

// Members returns the full pre-approved set, insertion order, unfiltered.
func (s *Set) Members() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, len(s.members))
	copy(out, s.members)
	return out
}

// Size returns the total number of pre-approved validators (n in §4.5/§4.6
// quorum formulas), not the active subset.
func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Contains reports whether addr is a pre-approved validator.
func (s *Set) Contains(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.health[addr]
	return ok
}

// Health returns a copy of addr's health record, or false if unknown.
func (s *Set) Health(addr common.Address) (Health, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.health[addr]
	if !ok {
		return Health{}, false
	}
	return h.Clone(), true
}

// Update applies fn to addr's health record under the write lock. fn
// mutates the record in place; Update then clamps Reputation itself via
// clampReputation.
func (s *Set) Update(addr common.Address, fn func(h *Health)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[addr]
	if !ok {
		return false
	}
	fn(h)
	h.Reputation = clampReputation(h.Reputation)
	return true
}

// ActiveValidators returns the pre-approved members currently eligible to
// propose or vote: status ACTIVE or RECOVERING, and not jailed (§4.5),
// sorted by reputation descending with address as deterministic tiebreak.
// All honest nodes compute the same result from the same health view.
func (s *Set) ActiveValidators(now time.Time) []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		addr common.Address
		rep  float64
	}
	entries := make([]entry, 0, len(s.members))
	for _, a := range s.members {
		h := s.health[a]
		if h.Status != Active && h.Status != Recovering {
			continue
		}
		if h.Jailed(now) {
			continue
		}
		entries = append(entries, entry{a, h.Reputation})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rep != entries[j].rep {
			return entries[i].rep > entries[j].rep
		}
		return common.AddressesByHex{entries[i].addr, entries[j].addr}.Less(0, 1)
	})
	out := make([]common.Address, len(entries))
	for i, e := range entries {
		out[i] = e.addr
	}
	return out
}

// Proposer returns the proposer for the given round per §4.5:
// activeValidators[round mod |activeValidators|].
func (s *Set) Proposer(round uint64, now time.Time) (common.Address, bool) {
	active := s.ActiveValidators(now)
	if len(active) == 0 {
		return common.Address{}, false
	}
	return active[round%uint64(len(active))], true
}

// Leader returns the cluster-wide failover leader per §4.6: the ACTIVE
// validator with the highest reputation, ties broken by address. This is
// distinct from the per-round proposer rotation; it is only consulted
// during failover.
func (s *Set) Leader(now time.Time) (common.Address, bool) {
	active := s.ActiveValidators(now)
	if len(active) == 0 {
		return common.Address{}, false
	}
	return active[0], true
}

// ActiveCount is a convenience for partition-size checks (§4.6).
func (s *Set) ActiveCount(now time.Time) int {
	return len(s.ActiveValidators(now))
}
