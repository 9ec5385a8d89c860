package validate

import (
	"time"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/errs"
	"github.com/chainforge/poaledger/state"
	"github.com/chainforge/poaledger/types"
)

// Block runs §4.2's validateBlock: re-derives hash and transactionsRoot,
// verifies the signature, checks parent linkage and the timestamp band,
// then simulates applying each transaction against a scratch copy of
// baseState. The final gasUsed must match the sum of applied gasLimits.
// baseState is never mutated; callers that want the resulting scratch
// state back (e.g. the ledger, to commit it) should call ApplyToScratch
// directly instead.
func Block(block *types.Block, parent *types.Block, baseState *state.Snapshot, replay ReplaySet, th Thresholds, now time.Time) error {
	scratch, err := ApplyToScratch(block, parent, baseState, replay, th, now)
	_ = scratch
	return err
}

// ApplyToScratch performs the same checks as Block but returns the
// resulting scratch snapshot on success, so the ledger can commit it
// without re-simulating (§4.3 step 5/6).
func ApplyToScratch(block *types.Block, parent *types.Block, baseState *state.Snapshot, replay ReplaySet, th Thresholds, now time.Time) (*state.Snapshot, error) {
	if block.Number != parent.Number+1 {
		return nil, errs.New(errs.Chain, "block.number != parent.number+1")
	}
	if block.ParentHash != parent.Hash {
		return nil, errs.New(errs.Chain, "block.parentHash != latest.hash")
	}
	if !(parent.Timestamp < block.Timestamp) {
		return nil, errs.New(errs.Chain, "timestamp must exceed parent.timestamp")
	}
	if block.Timestamp > uint64(now.Add(60*time.Second).UnixMilli()) {
		return nil, errs.New(errs.Chain, "timestamp exceeds now+60s")
	}
	if block.EncodedSize() > th.MaxBlockSize {
		return nil, errs.New(errs.Structural, "encoded size exceeds maxBlockSize")
	}
	if len(block.Transactions) > th.MaxTxsPerBlock {
		return nil, errs.New(errs.Structural, "transaction count exceeds maxTransactionsPerBlock")
	}

	// Cryptographic: recompute hash, verify signature, recompute Merkle root.
	if block.Hash != block.ComputeHash() {
		return nil, errs.New(errs.Cryptographic, "block hash mismatch")
	}
	if block.TransactionsRoot != block.ComputeTransactionsRoot() {
		return nil, errs.New(errs.Chain, "transactionsRoot mismatch")
	}
	recovered, ok := block.RecoverSigner()
	if !ok || recovered != block.Validator {
		return nil, errs.New(errs.Cryptographic, "block signature does not recover to validator")
	}

	// Duplicate hashes within the block.
	seen := make(map[common.Hash]bool, len(block.Transactions))
	for _, tx := range block.Transactions {
		if seen[tx.Hash] {
			return nil, errs.New(errs.Structural, "duplicate transaction hash within block")
		}
		seen[tx.Hash] = true
	}

	// State transition: validate + apply each tx sequentially against a copy.
	scratch := baseState.Clone()
	var gasUsed uint64
	for _, tx := range block.Transactions {
		if err := Transaction(tx, scratch, replay, th, now); err != nil {
			return nil, err
		}
		if err := scratch.ApplyTransaction(tx, block.Validator); err != nil {
			return nil, err
		}
		gasUsed += tx.GasLimit
	}
	if gasUsed != block.GasUsed {
		return nil, errs.New(errs.Chain, "gasUsed does not match sum(tx.gasLimit)")
	}
	return scratch, nil
}
