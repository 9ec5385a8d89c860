// Package state implements the account map and the deterministic apply
// step shared by block validation (C2) and ledger commit (C3): both must
// run the exact same transition over a scratch copy, so it lives in one
// place instead of being duplicated between the two callers.
package state

import (
	"sync"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/types"
)

// Snapshot is a copy-on-apply view of the account map (§5 shared-resource
// policy: "all other components observe via copy-on-apply snapshots").
type Snapshot struct {
	mu       sync.RWMutex
	accounts map[common.Address]*types.AccountState
}

// New builds an empty snapshot.
func New() *Snapshot {
	return &Snapshot{accounts: make(map[common.Address]*types.AccountState)}
}

// Get returns a copy of addr's account state, satisfying validate.AccountView.
func (s *Snapshot) Get(addr common.Address) (*types.AccountState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[addr]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Set installs acc at addr, replacing any existing entry.
func (s *Snapshot) Set(addr common.Address, acc *types.AccountState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = acc.Clone()
}

// Clone returns a deep, independent copy of the snapshot — the "scratch
// copy" §4.3 step 5 and §4.2's validateBlock both apply transactions
// against without mutating the caller's committed state.
func (s *Snapshot) Clone() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := New()
	for addr, acc := range s.accounts {
		cp.accounts[addr] = acc.Clone()
	}
	return cp
}

// TotalSupply sums every account balance, for the §3/§8 conservation
// invariant ("total supply across all accounts is constant after genesis").
func (s *Snapshot) TotalSupply() common.U256 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := common.NewU256(0)
	for _, acc := range s.accounts {
		total = total.Add(acc.Balance)
	}
	return total
}

// Digest returns a hash over each account's address and balance, used as a
// checkpoint's stateDigest (§3). Nonces, code and storage are not included.
// Deterministic regardless of Go map iteration order: addresses are visited
// in sorted hex order.
func (s *Snapshot) Digest(hasher func(parts ...[]byte) common.Hash) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]common.Address, 0, len(s.accounts))
	for a := range s.accounts {
		addrs = append(addrs, a)
	}
	sortAddrs(addrs)
	parts := make([][]byte, 0, len(addrs)*2)
	for _, a := range addrs {
		acc := s.accounts[a]
		parts = append(parts, a.Bytes(), []byte(acc.Balance.String()))
	}
	return hasher(parts...)
}

func sortAddrs(addrs []common.Address) {
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && common.AddressesByHex(addrs).Less(j, j-1); j-- {
			addrs[j], addrs[j-1] = addrs[j-1], addrs[j]
		}
	}
}

// ApplyTransaction performs the §4.3 transition: debit sender value +
// gasLimit*gasPrice, increment sender nonce, credit recipient value, and
// credit the fee (gasLimit*gasPrice) to feeRecipient (the block's
// validator). §4.3's literal text only states the sender debit and
// recipient credit; crediting the fee to the proposing validator — rather
// than burning it — is required to satisfy §3/§8's conservation invariant
// ("sum of account balances after B equals sum at genesis") given there is
// no separate minting step and gas is charged flatly (no metered EVM
// execution to refund). Sender code/storage survive unchanged. It assumes
// tx has already passed C2 validation against this exact snapshot (callers
// run validate.Transaction first); it re-checks balance defensively and
// returns a *errs.Error of kind Semantic on violation rather than silently
// corrupting state.
func (s *Snapshot) ApplyTransaction(tx *types.Transaction, feeRecipient common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.accounts[tx.From]
	if !ok {
		return errs.New(errs.Semantic, "apply: sender account does not exist")
	}
	recipient, ok := s.accounts[tx.To]
	if !ok {
		return errs.New(errs.Semantic, "apply: recipient account does not exist")
	}
	fee := tx.GasPrice.Mul(common.NewU256(int64(tx.GasLimit)))
	cost := tx.Value.Add(fee)
	newSenderBalance, underflow := sender.Balance.Sub(cost)
	if underflow {
		return errs.New(errs.Semantic, "apply: balance below value + gasLimit*gasPrice")
	}
	if tx.Nonce != sender.Nonce {
		return errs.New(errs.Semantic, "apply: nonce mismatch")
	}

	sender.Balance = newSenderBalance
	sender.Nonce++
	recipient.Balance = recipient.Balance.Add(tx.Value)

	validatorAcc, ok := s.accounts[feeRecipient]
	if !ok {
		// The validator is not itself a ledger account holder (e.g. a
		// freshly-joined validator with no prior allocation): materialize
		// one so the fee has somewhere conservation-preserving to land.
		validatorAcc = &types.AccountState{Balance: common.NewU256(0)}
		s.accounts[feeRecipient] = validatorAcc
	}
	if feeRecipient != tx.From && feeRecipient != tx.To {
		validatorAcc.Balance = validatorAcc.Balance.Add(fee)
	} else if feeRecipient == tx.From {
		sender.Balance = sender.Balance.Add(fee)
	} else {
		recipient.Balance = recipient.Balance.Add(fee)
	}
	return nil
}
