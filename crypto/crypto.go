// Package crypto implements C1: hashing, signing, verification, and
// address derivation. Every consensus-relevant hash in this module is
// SHA-256 (§4.1); signing is ECDSA over secp256k1 via
// github.com/btcsuite/btcd/btcec/v2, the curve implementation both the
// teacher (tos-network/gtos) and the Synnergy example repo depend on.
package crypto

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/chainforge/poaledger/common"
)

// SignatureLength is the byte length of a recoverable secp256k1 signature:
// 32-byte R, 32-byte S, 1-byte recovery id.
const SignatureLength = 65

// Hash256 returns the SHA-256 digest of b. Used throughout, including
// Merkle trees (§4.1).
func Hash256(b []byte) common.Hash {
	return sha256.Sum256(b)
}

// Hash256Concat hashes the concatenation of all parts in one pass, avoiding
// an intermediate allocation at Merkle-tree internal nodes.
func Hash256Concat(parts ...[]byte) common.Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PrivateKey wraps a secp256k1 signing key.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// GenerateKey creates a new random signing key.
func GenerateKey() (*PrivateKey, error) {
	k, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: k}, nil
}

// PublicKey returns the uncompressed public key bytes (0x04 || X || Y).
func (p *PrivateKey) PublicKey() []byte {
	return p.key.PubKey().SerializeUncompressed()
}

// Address returns the address derived from this key's public key.
func (p *PrivateKey) Address() common.Address {
	return AddressOf(p.PublicKey())
}

// Bytes returns the raw 32-byte scalar. Callers are responsible for secure
// storage; this module does not implement an encrypted keystore (out of
// scope per §1 — the admin/HTTP surface owns key custody).
func (p *PrivateKey) Bytes() []byte {
	return p.key.Serialize()
}

// PrivateKeyFromBytes reconstructs a PrivateKey from a 32-byte scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, errors.New("crypto: invalid private key length")
	}
	k := secp256k1PrivKeyFromBytes(b)
	return &PrivateKey{key: k}, nil
}

func secp256k1PrivKeyFromBytes(b []byte) *btcec.PrivateKey {
	k, _ := btcec.PrivKeyFromBytes(b)
	return k
}

// Sign produces a 65-byte recoverable signature (R||S||V, low-S canonical
// form) over the SHA-256 hash of message, matching the "low-S canonical
// form" contract of §4.1.
func (p *PrivateKey) Sign(digest common.Hash) ([]byte, error) {
	sig, err := btcecdsa.SignCompact(p.key, digest[:], false)
	if err != nil {
		return nil, err
	}
	// btcec's SignCompact returns [recid+27 || R || S]; normalize to the
	// R||S||V layout used throughout this module and strip the compressed
	// pubkey offset btcec adds for the recovery id.
	out := make([]byte, SignatureLength)
	copy(out[0:32], sig[1:33])
	copy(out[32:64], sig[33:65])
	out[64] = sig[0] - 27
	return out, nil
}

// Verify checks sig against digest and reports the recovered address.
// Callers performing address-bound verification (C1 contract: "Verification
// of a transaction signature must additionally check that the recovered
// address equals tx.from") must compare the returned address themselves.
func Verify(digest common.Hash, sig []byte) (recovered common.Address, ok bool) {
	if len(sig) != SignatureLength {
		return common.Address{}, false
	}
	compact := make([]byte, SignatureLength)
	compact[0] = sig[64] + 27
	copy(compact[1:33], sig[0:32])
	copy(compact[33:65], sig[32:64])

	pub, _, err := btcecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return common.Address{}, false
	}
	return AddressOf(pub.SerializeUncompressed()), true
}

// AddressOf derives the 20-byte address from an uncompressed public key
// using the hash-last-20 convention (§3): SHA-256 of the 64 coordinate
// bytes (public key minus the leading 0x04 marker), keeping the last 20
// bytes of the digest.
func AddressOf(pubKey []byte) common.Address {
	if len(pubKey) == 65 && pubKey[0] == 0x04 {
		pubKey = pubKey[1:]
	}
	digest := Hash256(pubKey)
	return common.BytesToAddress(digest[len(digest)-common.AddressLength:])
}
