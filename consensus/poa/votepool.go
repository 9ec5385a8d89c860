package poa

import (
	"sync"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/types"
)

// voteKey identifies a specific (round, blockHash, decision) bucket; approve
// and reject tallies for the same round are kept apart so a supermajority
// can close VOTING on either outcome (§4.5: "approve >= ... or reject >=
// ... -> COMMIT").
type voteKey struct {
	round     uint64
	blockHash common.Hash
	decision  bool
}

// VotePool collects votes for the active round and detects equivocation:
// two distinct blockHash votes from the same validator in the same round
// (§4.5 "Vote handling"). Grounded on the teacher's BFT vote pool, which
// tracks a votedTarget map per (height,round) to catch exactly this.
type VotePool struct {
	mu sync.RWMutex

	votesByKey  map[voteKey]map[common.Address]*types.Vote
	votedTarget map[uint64]map[common.Address]common.Hash // round -> validator -> blockHash
}

// NewVotePool builds an empty pool.
func NewVotePool() *VotePool {
	return &VotePool{
		votesByKey:  make(map[voteKey]map[common.Address]*types.Vote),
		votedTarget: make(map[uint64]map[common.Address]common.Hash),
	}
}

// AddVote records v, returning an equivocation error if validator already
// voted for a different blockHash in the same round. A repeat vote for the
// same target is silently ignored (duplicate, §4.5).
func (p *VotePool) AddVote(v *types.Vote) (added bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.votedTarget[v.RoundNumber] == nil {
		p.votedTarget[v.RoundNumber] = make(map[common.Address]common.Hash)
	}
	if prev, voted := p.votedTarget[v.RoundNumber][v.Validator]; voted && prev != v.BlockHash {
		return false, errs.New(errs.Consensus, "equivocating vote")
	}
	p.votedTarget[v.RoundNumber][v.Validator] = v.BlockHash

	key := voteKey{round: v.RoundNumber, blockHash: v.BlockHash, decision: v.Decision}
	if p.votesByKey[key] == nil {
		p.votesByKey[key] = make(map[common.Address]*types.Vote)
	}
	if _, exists := p.votesByKey[key][v.Validator]; exists {
		return false, nil
	}
	p.votesByKey[key][v.Validator] = v
	return true, nil
}

// Tally returns the number of votes recorded for (round, blockHash, decision).
func (p *VotePool) Tally(round uint64, blockHash common.Hash, decision bool) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.votesByKey[voteKey{round: round, blockHash: blockHash, decision: decision}])
}

// HasVoted reports whether validator has a recorded vote in round and, if
// so, the block hash that vote targeted. Only the first accepted target is
// kept; the conflicting vote that AddVote rejects as equivocation is not
// stored here.
func (p *VotePool) HasVoted(round uint64, validator common.Address) (common.Hash, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.votedTarget[round][validator]
	return h, ok
}

// Reset discards every vote for rounds strictly below keepFrom, bounding
// memory as rounds advance.
func (p *VotePool) Reset(keepFrom uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.votesByKey {
		if k.round < keepFrom {
			delete(p.votesByKey, k)
		}
	}
	for round := range p.votedTarget {
		if round < keepFrom {
			delete(p.votedTarget, round)
		}
	}
}
