package types

import (
	"encoding/binary"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
)

// Vote is a validator's signed decision on a proposed block for a given
// round (§3). At most one vote per (validator, roundNumber) may be
// persisted (§8).
type Vote struct {
	Validator   common.Address `json:"validator"`
	BlockHash   common.Hash    `json:"blockHash"`
	Decision    bool           `json:"decision"`
	RoundNumber uint64         `json:"roundNumber"`
	Timestamp   uint64         `json:"timestamp"`
	Signature   []byte         `json:"signature"`
}

// Digest returns the hash signed by the vote: H(blockHash || roundNumber ||
// decision) per §3's Vote invariant.
func (v *Vote) Digest() common.Hash {
	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], v.RoundNumber)
	decisionByte := byte(0)
	if v.Decision {
		decisionByte = 1
	}
	return crypto.Hash256Concat(v.BlockHash[:], roundBytes[:], []byte{decisionByte})
}

// Sign signs the vote's digest with key and sets Validator and Signature.
func (v *Vote) Sign(key *crypto.PrivateKey) error {
	v.Validator = key.Address()
	sig, err := key.Sign(v.Digest())
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// Verify checks the vote's signature recovers to v.Validator.
func (v *Vote) Verify() bool {
	recovered, ok := crypto.Verify(v.Digest(), v.Signature)
	return ok && recovered == v.Validator
}
