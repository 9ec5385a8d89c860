package types

import (
	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
)

// MerkleRoot computes the Merkle root of a list of leaf hashes, duplicating
// the last node at any level with an odd number of nodes (§3: "Merkle root
// of tx hashes, with odd-level duplication"). An empty list yields the
// zero hash.
func MerkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			left, right := level[2*i], level[2*i+1]
			next[i] = crypto.Hash256Concat(left[:], right[:])
		}
		level = next
	}
	return level[0]
}
