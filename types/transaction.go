// Package types implements the data model of §3: transactions, blocks,
// account state, votes, and checkpoints, plus the
// canonical encoding and Merkle-root helpers that make every hash in the
// system reproducible (C1/C2).
package types

import (
	"encoding/hex"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
)

// Transaction is the signed unit of work admitted by the mempool and
// applied by the ledger (§3).
type Transaction struct {
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     common.U256    `json:"value"`
	Data      []byte         `json:"data"`
	Nonce     uint64         `json:"nonce"`
	GasLimit  uint64         `json:"gasLimit"`
	GasPrice  common.U256    `json:"gasPrice"`
	Timestamp uint64         `json:"timestamp"` // milliseconds since epoch
	Signature []byte         `json:"signature"`
	Hash      common.Hash    `json:"hash"`
}

// CanonicalPayload returns the closed-field-list JSON payload the hash and
// signature are computed over, per §4.1. hash and signature are never part
// of their own payload.
func (tx *Transaction) CanonicalPayload() []byte {
	return canonicalJSON(map[string]interface{}{
		"from":      tx.From.Hex(),
		"to":        tx.To.Hex(),
		"value":     tx.Value.String(),
		"data":      hex.EncodeToString(tx.Data),
		"nonce":     tx.Nonce,
		"gasLimit":  tx.GasLimit,
		"gasPrice":  tx.GasPrice.String(),
		"timestamp": tx.Timestamp,
	})
}

// ComputeHash derives the transaction hash from its canonical payload.
func (tx *Transaction) ComputeHash() common.Hash {
	return crypto.Hash256(tx.CanonicalPayload())
}

// Sign signs the transaction's canonical-payload hash with key, and sets
// both Hash and Signature.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	tx.From = key.Address()
	tx.Hash = tx.ComputeHash()
	sig, err := key.Sign(tx.Hash)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// RecoverSigner verifies the transaction's signature against its hash and
// returns the recovered address. Callers performing C2 step 3 must also
// check the result equals tx.From (address binding, §4.1's contract).
func (tx *Transaction) RecoverSigner() (common.Address, bool) {
	return crypto.Verify(tx.Hash, tx.Signature)
}

// EstimatedGas implements the mempool's gas-estimation formula (§4.4):
// 21000 + 68·|data|.
func (tx *Transaction) EstimatedGas() uint64 {
	return 21000 + 68*uint64(len(tx.Data))
}

// Clone returns a deep copy, so mempool/ledger bookkeeping never shares
// backing arrays with a caller-owned transaction.
func (tx *Transaction) Clone() *Transaction {
	cp := *tx
	cp.Data = append([]byte(nil), tx.Data...)
	cp.Signature = append([]byte(nil), tx.Signature...)
	return &cp
}
