// Package ledger implements C3: genesis initialization, the account map,
// the block index, deterministic block application, and integrity checks.
// The ledger exclusively owns the canonical block store and account map
// (§3 Ownership); it is driven by a single serializing task per §5 ("One
// ledger task serializes addBlock and state reads").
package ledger

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/internal/xlog"
	"github.com/chainforge/poaledger/state"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validate"
)

var log = xlog.New("component", "ledger")

const txCacheSize = 4096

// replaySet tracks every (from, nonce) pair that has ever been committed,
// for §4.2 step 8's replay guard and §8's replay-protection invariant.
type replaySet struct {
	mu   sync.RWMutex
	seen map[common.Address]map[uint64]bool
}

func newReplaySet() *replaySet {
	return &replaySet{seen: make(map[common.Address]map[uint64]bool)}
}

func (r *replaySet) Processed(from common.Address, nonce uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen[from][nonce]
}

func (r *replaySet) mark(from common.Address, nonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[from] == nil {
		r.seen[from] = make(map[uint64]bool)
	}
	r.seen[from][nonce] = true
}

// txLocation records where a committed transaction lives, for getTransaction.
type txLocation struct {
	blockNumber uint64
	blockHash   common.Hash
}

// Ledger is the ledger task's state: block index, account map, and the
// replay/checkpoint bookkeeping layered on top (§4.3).
type Ledger struct {
	mu sync.RWMutex

	thresholds         validate.Thresholds
	checkpointInterval uint64

	blocksByHash  map[common.Hash]*types.Block
	hashByNumber  map[uint64]common.Hash
	latest        *types.Block
	committed     *state.Snapshot
	replay        *replaySet
	checkpoints   map[uint64]*types.Checkpoint
	txCache       *lru.ARCCache // common.Hash -> txLocation
}

// New bootstraps the ledger from a genesis description (§4.3). systemValidator
// is the address recorded as block 0's validator.
func New(genesis *types.Genesis, systemValidator common.Address, th validate.Thresholds, checkpointInterval uint64) (*Ledger, error) {
	st := state.New()
	for addr, acc := range genesis.Alloc {
		a := acc
		st.Set(addr, &a)
	}
	stateRoot := st.Digest(hashDigest)
	genesisBlock := genesis.ToBlock(systemValidator, stateRoot)

	txCache, _ := lru.NewARC(txCacheSize)
	l := &Ledger{
		thresholds:         th,
		checkpointInterval: checkpointInterval,
		blocksByHash:       map[common.Hash]*types.Block{genesisBlock.Hash: genesisBlock},
		hashByNumber:       map[uint64]common.Hash{0: genesisBlock.Hash},
		latest:             genesisBlock,
		committed:          st,
		replay:             newReplaySet(),
		checkpoints:        make(map[uint64]*types.Checkpoint),
		txCache:            txCache,
	}
	log.Info("ledger initialized from genesis", "hash", genesisBlock.Hash.Hex(), "accounts", len(genesis.Alloc))
	return l, nil
}

func hashDigest(parts ...[]byte) common.Hash {
	return crypto.Hash256Concat(parts...)
}

// Latest returns the most recently committed block.
func (l *Ledger) Latest() *types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Snapshot returns a read-only copy of the committed account state, for
// consensus dry-run validation and the admin/query surface (§5: "readers
// may proceed concurrently through a read-only snapshot").
func (l *Ledger) Snapshot() *state.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.committed.Clone()
}

// Replay exposes the replay set as a validate.ReplaySet for callers
// building a dry-run validation pass outside AddBlock.
func (l *Ledger) Replay() validate.ReplaySet { return l.replay }

// Thresholds returns the configured validation thresholds.
func (l *Ledger) Thresholds() validate.Thresholds { return l.thresholds }

// GetBlockByNumber returns the block at the given height.
func (l *Ledger) GetBlockByNumber(n uint64) (*types.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.hashByNumber[n]
	if !ok {
		return nil, false
	}
	return l.blocksByHash[h], true
}

// GetBlockByHash returns the block with the given hash.
func (l *Ledger) GetBlockByHash(h common.Hash) (*types.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.blocksByHash[h]
	return b, ok
}

// GetAccountState returns a copy of addr's committed account state.
func (l *Ledger) GetAccountState(addr common.Address) (*types.AccountState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.committed.Get(addr)
}

// GetTransaction returns the block number/hash a committed transaction was
// included in. The cache is warmed at AddBlock; on a miss it falls back to
// a linear scan (§4.3 queries).
func (l *Ledger) GetTransaction(hash common.Hash) (blockNumber uint64, blockHash common.Hash, found bool) {
	if v, ok := l.txCache.Get(hash); ok {
		loc := v.(txLocation)
		return loc.blockNumber, loc.blockHash, true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.blocksByHash {
		for _, tx := range b.Transactions {
			if tx.Hash == hash {
				return b.Number, b.Hash, true
			}
		}
	}
	return 0, common.Hash{}, false
}

// AddBlock executes §4.3's addBlock in one logical step: structural/size
// validation, chain continuity, cryptographic checks, per-tx validation,
// deterministic state transition, and atomic commit. On any failure the
// ledger is left exactly as before the call (no partial state), matching
// §5's cancellation policy for in-flight addBlock.
func (l *Ledger) AddBlock(block *types.Block, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.blocksByHash[block.Hash]; exists {
		return errs.New(errs.Chain, "block already committed")
	}

	scratch, err := validate.ApplyToScratch(block, l.latest, l.committed, l.replay, l.thresholds, now)
	if err != nil {
		return err
	}

	// Integrity check on the resulting state before committing: total
	// supply must be unchanged (§3/§8 conservation). Fee crediting inside
	// ApplyTransaction only moves value between accounts (creating the
	// validator's account at zero if needed), so this should never trip; if
	// it does, state has diverged and the node must halt (§7 FatalError).
	if scratch.TotalSupply().Cmp(l.committed.TotalSupply()) != 0 {
		return errs.New(errs.Fatal, fmt.Sprintf("total supply changed across block %d", block.Number))
	}

	// Commit: publish atomically.
	l.committed = scratch
	l.blocksByHash[block.Hash] = block
	l.hashByNumber[block.Number] = block.Hash
	l.latest = block
	for _, tx := range block.Transactions {
		l.replay.mark(tx.From, tx.Nonce)
		l.txCache.Add(tx.Hash, txLocation{blockNumber: block.Number, blockHash: block.Hash})
	}

	if l.checkpointInterval > 0 && block.Number%l.checkpointInterval == 0 {
		l.checkpoints[block.Number] = &types.Checkpoint{
			BlockNumber: block.Number,
			BlockHash:   block.Hash,
			StateDigest: l.committed.Digest(hashDigest),
		}
		log.Info("checkpoint captured", "number", block.Number, "hash", block.Hash.Hex())
	}

	log.Info("block committed", "number", block.Number, "hash", block.Hash.Hex(), "txs", len(block.Transactions))
	return nil
}

// LatestCheckpoint returns the most recent checkpoint at or below number,
// for recovery rewind targets (§4.6).
func (l *Ledger) LatestCheckpoint(atOrBelow uint64) (*types.Checkpoint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best *types.Checkpoint
	for n, cp := range l.checkpoints {
		if n <= atOrBelow && (best == nil || n > best.BlockNumber) {
			best = cp
		}
	}
	return best, best != nil
}

// ValidateChain walks the parent chain from latest back to genesis,
// re-verifying structure and linkage (§4.3). Iterations are bounded at the
// chain's own length to detect cycles rather than looping forever.
func (l *Ledger) ValidateChain() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := l.latest.Number + 1
	cur := l.latest
	for i := uint64(0); i < total; i++ {
		if cur.Hash != cur.ComputeHash() {
			return false, errs.New(errs.Chain, fmt.Sprintf("block %d hash mismatch", cur.Number))
		}
		if cur.Number == 0 {
			return true, nil
		}
		parent, ok := l.blocksByHash[cur.ParentHash]
		if !ok || parent.Number != cur.Number-1 {
			return false, errs.New(errs.Chain, fmt.Sprintf("block %d parent linkage broken", cur.Number))
		}
		cur = parent
	}
	return false, errs.New(errs.Chain, "chain walk exceeded totalBlocks bound, possible cycle")
}
