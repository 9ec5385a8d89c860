// Package mempool implements C4: admission, prioritization, eviction,
// replay protection, and per-account quotas over pending transactions. The
// mempool task exclusively owns the pending-transaction map (§3 Ownership);
// a transaction moves into ledger ownership atomically at commit and is
// removed from the mempool in the same logical step (MarkProcessed).
package mempool

import (
	"math/big"
	"sort"
	"time"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/internal/xlog"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validate"
)

var log = xlog.New("component", "mempool")

// EvictionPolicy selects which pending transaction to drop when the pool is
// full (§4.4).
type EvictionPolicy string

const (
	EvictPrice EvictionPolicy = "PRICE" // lowest gasPrice (default)
	EvictFIFO  EvictionPolicy = "FIFO"  // oldest addedAt
	EvictLIFO  EvictionPolicy = "LIFO"  // newest addedAt
)

// SelectStrategy selects the iteration order for Select (§4.4).
type SelectStrategy string

const (
	SelectPriority SelectStrategy = "PRIORITY"
	SelectPrice    SelectStrategy = "PRICE"
	SelectFIFO     SelectStrategy = "FIFO"
)

// Config bundles the mempool's tunables (§6).
type Config struct {
	MaxPoolSize     int
	PerAccountLimit int
	EvictionPolicy  EvictionPolicy
	MaxRetries      int
	MaxAge          time.Duration // default 1h
	RetryAfter      time.Duration // default 60s
}

// DefaultConfig returns the §5 timeout-table defaults where applicable.
func DefaultConfig() Config {
	return Config{
		MaxPoolSize:     50000,
		PerAccountLimit: 64,
		EvictionPolicy:  EvictPrice,
		MaxRetries:      5,
		MaxAge:          time.Hour,
		RetryAfter:      60 * time.Second,
	}
}

type entry struct {
	tx          *types.Transaction
	addedAt     time.Time
	retries     int
	lastAttempt time.Time
}

// Mempool is the mempool task's owned state (§4.4).
type Mempool struct {
	cfg Config
	th  validate.Thresholds

	entries       map[common.Hash]*entry
	byAccount     map[common.Address]map[common.Hash]bool
	expectedNonce map[common.Address]uint64
	blacklist     map[common.Hash]bool
}

// New builds an empty mempool.
func New(cfg Config, th validate.Thresholds) *Mempool {
	return &Mempool{
		cfg:           cfg,
		th:            th,
		entries:       make(map[common.Hash]*entry),
		byAccount:     make(map[common.Address]map[common.Hash]bool),
		expectedNonce: make(map[common.Address]uint64),
		blacklist:     make(map[common.Hash]bool),
	}
}

// Processed satisfies validate.ReplaySet and always reports false; nothing
// in this package calls it. Admit checks the ledger's committed replay set
// (passed in to Admit), not the mempool's own — pending admission is
// governed by expectedNonce, not a replay record.
func (m *Mempool) Processed(common.Address, uint64) bool { return false }

// expectedNonceFor returns the nonce the mempool expects next for from,
// falling back to the ledger-committed nonce if the account has not been
// touched yet.
func (m *Mempool) expectedNonceFor(from common.Address, committedNonce uint64) uint64 {
	if n, ok := m.expectedNonce[from]; ok && n > committedNonce {
		return n
	}
	return committedNonce
}

// Admit runs §4.4's Admit: structural/crypto validation, blacklist and
// duplicate checks, per-account quota, and the nonce-floor check, evicting
// one entry by policy if the pool is full.
func (m *Mempool) Admit(tx *types.Transaction, view validate.AccountView, ledgerReplay validate.ReplaySet, now time.Time) error {
	if m.blacklist[tx.Hash] {
		return errs.New(errs.Policy, "transaction hash is blacklisted")
	}
	if _, exists := m.entries[tx.Hash]; exists {
		return errs.New(errs.Policy, "duplicate transaction hash")
	}

	// §4.2 steps 1-3, 5 (structural + crypto + gas/size bounds). Nonce
	// strict-equality (step 7) and replay (step 8) are intentionally
	// re-derived below with mempool-specific semantics: admission allows
	// tx.nonce >= expectedNonce rather than strict equality, so multiple
	// pending transactions from one account can queue.
	if err := validate.StructuralAndCryptographic(tx, now); err != nil {
		return err
	}
	if err := validate.Bounds(tx, m.th); err != nil {
		return err
	}
	if ledgerReplay != nil && ledgerReplay.Processed(tx.From, tx.Nonce) {
		return errs.New(errs.Policy, "replay")
	}
	if tx.From == tx.To {
		return errs.New(errs.Semantic, "self-transfer")
	}
	if tx.Value.Sign() == 0 && len(tx.Data) == 0 {
		return errs.New(errs.Semantic, "zero-value transaction with no data")
	}

	senderState, ok := view.Get(tx.From)
	if !ok {
		return errs.New(errs.Semantic, "sender account does not exist")
	}
	expected := m.expectedNonceFor(tx.From, senderState.Nonce)
	if tx.Nonce < expected {
		return errs.New(errs.Semantic, "nonce below expected")
	}

	if m.byAccount[tx.From] != nil && len(m.byAccount[tx.From]) >= m.cfg.PerAccountLimit {
		return errs.New(errs.Policy, "perAccountLimit exceeded")
	}

	if len(m.entries) >= m.cfg.MaxPoolSize {
		if !m.evictOne() {
			return errs.New(errs.Policy, "pool full, eviction failed")
		}
	}

	m.entries[tx.Hash] = &entry{tx: tx.Clone(), addedAt: now, lastAttempt: now}
	if m.byAccount[tx.From] == nil {
		m.byAccount[tx.From] = make(map[common.Hash]bool)
	}
	m.byAccount[tx.From][tx.Hash] = true
	log.Debug("transaction admitted", "hash", tx.Hash.Hex(), "from", tx.From.Hex(), "nonce", tx.Nonce)
	return nil
}

func (m *Mempool) evictOne() bool {
	if len(m.entries) == 0 {
		return false
	}
	var victim common.Hash
	var victimEntry *entry
	for h, e := range m.entries {
		if victimEntry == nil || m.less(e, victimEntry) {
			victim, victimEntry = h, e
		}
	}
	m.removeLocked(victim)
	log.Debug("evicted transaction", "hash", victim.Hex(), "policy", m.cfg.EvictionPolicy)
	return true
}

// less reports whether candidate e should be evicted in preference to cur,
// per the configured eviction policy.
func (m *Mempool) less(e, cur *entry) bool {
	switch m.cfg.EvictionPolicy {
	case EvictFIFO:
		return e.addedAt.Before(cur.addedAt)
	case EvictLIFO:
		return e.addedAt.After(cur.addedAt)
	default: // EvictPrice
		return e.tx.GasPrice.Cmp(cur.tx.GasPrice) < 0
	}
}

func (m *Mempool) removeLocked(hash common.Hash) {
	e, ok := m.entries[hash]
	if !ok {
		return
	}
	delete(m.entries, hash)
	if set := m.byAccount[e.tx.From]; set != nil {
		delete(set, hash)
		if len(set) == 0 {
			delete(m.byAccount, e.tx.From)
		}
	}
}

// priority implements §4.4's formula: p = gasPrice + value*1e-4 - ageMs*1e-3.
// gasPrice and value are converted through big.Float since they are u256
// decimal strings; the result is a sort heuristic, not a settlement value,
// so the precision loss is immaterial.
func priority(e *entry, now time.Time) float64 {
	gasPrice, _, _ := big.ParseFloat(e.tx.GasPrice.String(), 10, 64, big.ToNearestEven)
	value, _, _ := big.ParseFloat(e.tx.Value.String(), 10, 64, big.ToNearestEven)
	ageMs := float64(now.Sub(e.addedAt).Milliseconds())
	gp, _ := gasPrice.Float64()
	v, _ := value.Float64()
	return gp + v*1e-4 - ageMs*1e-3
}

// Select iterates pending transactions in the requested strategy's order,
// accumulating while total estimated gas stays within gasLimit and count
// within maxCount (§4.4).
func (m *Mempool) Select(gasLimit uint64, maxCount int, strategy SelectStrategy, now time.Time) []*types.Transaction {
	ordered := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch strategy {
		case SelectPrice:
			if c := a.tx.GasPrice.Cmp(b.tx.GasPrice); c != 0 {
				return c > 0
			}
		case SelectFIFO:
			if !a.addedAt.Equal(b.addedAt) {
				return a.addedAt.Before(b.addedAt)
			}
		default: // SelectPriority
			pa, pb := priority(a, now), priority(b, now)
			if pa != pb {
				return pa > pb
			}
		}
		return a.addedAt.Before(b.addedAt) // tiebreak: addedAt ascending
	})

	var selected []*types.Transaction
	var totalGas uint64
	for _, e := range ordered {
		if len(selected) >= maxCount {
			break
		}
		est := e.tx.EstimatedGas()
		if totalGas+est > gasLimit {
			continue
		}
		totalGas += est
		selected = append(selected, e.tx)
	}
	return selected
}

// MarkProcessed removes txs from the pool and advances expectedNonce,
// atomically with the ledger's commit of the same block (§4.4/§8).
func (m *Mempool) MarkProcessed(txs []*types.Transaction) {
	for _, tx := range txs {
		m.removeLocked(tx.Hash)
		if m.expectedNonce[tx.From] < tx.Nonce+1 {
			m.expectedNonce[tx.From] = tx.Nonce + 1
		}
	}
}

// ExpireAndRetry purges transactions older than MaxAge and marks the
// remaining eligible-for-retry set (lastAttempt > RetryAfter ago and
// retries < MaxRetries), called after every commit (§4.4).
func (m *Mempool) ExpireAndRetry(now time.Time) (retryEligible []common.Hash, purged int) {
	for h, e := range m.entries {
		if now.Sub(e.addedAt) > m.cfg.MaxAge {
			m.removeLocked(h)
			purged++
			continue
		}
		if now.Sub(e.lastAttempt) > m.cfg.RetryAfter && e.retries < m.cfg.MaxRetries {
			e.retries++
			e.lastAttempt = now
			retryEligible = append(retryEligible, h)
		}
	}
	return retryEligible, purged
}

// Blacklist marks hash so future Admit calls reject it outright.
func (m *Mempool) Blacklist(hash common.Hash) { m.blacklist[hash] = true }

// Size returns the number of pending transactions.
func (m *Mempool) Size() int { return len(m.entries) }

// Pending returns a snapshot of every pending transaction (admin/query
// surface's getPending, §6).
func (m *Mempool) Pending() []*types.Transaction {
	out := make([]*types.Transaction, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.tx)
	}
	return out
}
