package validate

import (
	"time"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/types"
)

// AccountView is the narrow read interface validation needs over account
// state; the ledger snapshot satisfies it (C3's copy-on-apply view).
type AccountView interface {
	Get(addr common.Address) (*types.AccountState, bool)
}

// ReplaySet reports whether (from, nonce) has already been processed
// (§4.2 step 8 / §8's replay invariant).
type ReplaySet interface {
	Processed(from common.Address, nonce uint64) bool
}

// StructuralAndCryptographic runs §4.2 steps 1-3: field completeness, the
// timestamp band, hash recomputation, and signature recovery. It has no
// dependency on account state or replay history, so both the ledger's
// strict per-block validation and the mempool's looser admission check
// (which allows nonces ahead of the committed value) share it.
func StructuralAndCryptographic(tx *types.Transaction, now time.Time) error {
	if tx.From.IsZero() || tx.To.IsZero() {
		return errs.New(errs.Structural, "missing from/to address")
	}
	if tx.Signature == nil {
		return errs.New(errs.Structural, "missing signature")
	}
	minTime := uint64(now.Add(-1*time.Hour).UnixMilli())
	maxTime := uint64(now.Add(5*time.Minute).UnixMilli())
	if tx.Timestamp < minTime || tx.Timestamp > maxTime {
		return errs.New(errs.Structural, "timestamp outside [now-1h, now+5min] band")
	}
	if tx.Hash != tx.ComputeHash() {
		return errs.New(errs.Cryptographic, "hash mismatch")
	}
	recovered, ok := tx.RecoverSigner()
	if !ok || recovered != tx.From {
		return errs.New(errs.Cryptographic, "signature does not recover to from")
	}
	return nil
}

// Bounds runs §4.2 step 5: gas/value/data policy limits, independent of
// account state.
func Bounds(tx *types.Transaction, th Thresholds) error {
	if tx.GasPrice.Cmp(th.MinGasPrice) < 0 || tx.GasPrice.Cmp(th.MaxGasPrice) > 0 {
		return errs.New(errs.Policy, "gasPrice outside [minGasPrice, maxGasPrice]")
	}
	if tx.GasLimit < th.MinGasLimit || tx.GasLimit > th.MaxGasLimit {
		return errs.New(errs.Policy, "gasLimit outside [21000, maxGasLimit]")
	}
	if len(tx.Data) > th.MaxDataSize {
		return errs.New(errs.Policy, "data exceeds maxDataSize")
	}
	return nil
}

// Transaction runs the ordered checks of §4.2 validateTransaction. now is
// injected (rather than time.Now()) so tests and the clock/scheduler
// component (C8) control the time band check deterministically.
func Transaction(tx *types.Transaction, view AccountView, replay ReplaySet, th Thresholds, now time.Time) error {
	// 1-3. Structural completeness, timestamp band, hash, signature.
	if err := StructuralAndCryptographic(tx, now); err != nil {
		return err
	}

	// 4. Sender must exist; recipient must exist (current policy: reject
	// auto-create, per §4.2 step 4 / §9 Open Question resolution).
	senderState, senderOK := view.Get(tx.From)
	if !senderOK {
		return errs.New(errs.Semantic, "sender account does not exist")
	}
	if _, recipientOK := view.Get(tx.To); !recipientOK {
		return errs.New(errs.Semantic, "recipient account does not exist")
	}

	// 5. Gas/value/data bounds.
	if err := Bounds(tx, th); err != nil {
		return err
	}

	// 6. Balance >= value + gasLimit*gasPrice.
	cost := tx.Value.Add(tx.GasPrice.Mul(common.NewU256(int64(tx.GasLimit))))
	if senderState.Balance.Cmp(cost) < 0 {
		return errs.New(errs.Semantic, "balance below value + gasLimit*gasPrice")
	}

	// 7. Strict nonce equality (no future-nonce queuing in the core).
	if tx.Nonce != senderState.Nonce {
		return errs.New(errs.Semantic, "invalid nonce")
	}

	// 8. Replay guard.
	if replay != nil && replay.Processed(tx.From, tx.Nonce) {
		return errs.New(errs.Policy, "replay")
	}

	// 9. Business rules.
	if tx.From == tx.To {
		return errs.New(errs.Semantic, "self-transfer")
	}
	if tx.Value.Sign() == 0 && len(tx.Data) == 0 {
		return errs.New(errs.Semantic, "zero-value transaction with no data")
	}

	return nil
}
