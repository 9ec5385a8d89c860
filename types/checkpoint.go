package types

import "github.com/chainforge/poaledger/common"

// Checkpoint is a periodic signed snapshot used as a safe rewind target for
// recovery (§3/§4.5/§4.6).
type Checkpoint struct {
	BlockNumber   uint64           `json:"blockNumber"`
	BlockHash     common.Hash      `json:"blockHash"`
	ValidatorSet  []common.Address `json:"validatorSet"`
	StateDigest   common.Hash      `json:"stateDigest"`
	Signatures    [][]byte         `json:"signatures"`
}
