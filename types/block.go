package types

import (
	"encoding/hex"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
)

// Block is an appended unit of the ledger's totally-ordered chain (§3).
type Block struct {
	Number           uint64         `json:"number"`
	ParentHash       common.Hash    `json:"parentHash"`
	Timestamp        uint64         `json:"timestamp"` // milliseconds since epoch
	Validator        common.Address `json:"validator"`
	Transactions     []*Transaction `json:"transactions"`
	TransactionsRoot common.Hash    `json:"transactionsRoot"`
	StateRoot        common.Hash    `json:"stateRoot"`
	ReceiptsRoot     common.Hash    `json:"receiptsRoot"`
	GasLimit         uint64         `json:"gasLimit"`
	GasUsed          uint64         `json:"gasUsed"`
	ExtraData        []byte         `json:"extraData"`
	Hash             common.Hash    `json:"hash"`
	Signature        []byte         `json:"signature"`
}

// CanonicalHeader returns the closed-field-list JSON payload the block hash
// and signature are computed over (§4.1). The transaction list itself is
// not part of the header payload — it is bound in via TransactionsRoot.
func (b *Block) CanonicalHeader() []byte {
	return canonicalJSON(map[string]interface{}{
		"number":           b.Number,
		"parentHash":       b.ParentHash.Hex(),
		"timestamp":        b.Timestamp,
		"validator":        b.Validator.Hex(),
		"transactionsRoot": b.TransactionsRoot.Hex(),
		"stateRoot":        b.StateRoot.Hex(),
		"receiptsRoot":     b.ReceiptsRoot.Hex(),
		"gasLimit":         b.GasLimit,
		"gasUsed":          b.GasUsed,
		"extraData":        hex.EncodeToString(b.ExtraData),
	})
}

// ComputeHash derives the block hash from its canonical header.
func (b *Block) ComputeHash() common.Hash {
	return crypto.Hash256(b.CanonicalHeader())
}

// ComputeTransactionsRoot derives the Merkle root (§3) of this block's
// transaction hashes, in block order.
func (b *Block) ComputeTransactionsRoot() common.Hash {
	leaves := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.Hash
	}
	return MerkleRoot(leaves)
}

// Sign finalizes TransactionsRoot and Hash, then signs the block hash with
// key (the validator's key) and sets Signature.
func (b *Block) Sign(key *crypto.PrivateKey) error {
	b.Validator = key.Address()
	b.TransactionsRoot = b.ComputeTransactionsRoot()
	b.Hash = b.ComputeHash()
	sig, err := key.Sign(b.Hash)
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// RecoverSigner verifies the block's signature against its hash and returns
// the recovered address.
func (b *Block) RecoverSigner() (common.Address, bool) {
	return crypto.Verify(b.Hash, b.Signature)
}

// EncodedSize approximates on-wire size for §4.3 step 1's maxBlockSize
// check. Exact byte-for-byte wire framing is a transport concern (out of
// scope, §1); this sums the canonical header plus each transaction's
// canonical payload and signature, which is deterministic and monotonic in
// actual content size.
func (b *Block) EncodedSize() int {
	n := len(b.CanonicalHeader()) + len(b.Signature)
	for _, tx := range b.Transactions {
		n += len(tx.CanonicalPayload()) + len(tx.Signature)
	}
	return n
}
