package types

import "github.com/chainforge/poaledger/common"

// GenesisAlloc is the initial per-address balance allocation (§6: "alloc:
// { addr: { balance, nonce, code?, storage? } }").
type GenesisAlloc map[common.Address]AccountState

// Genesis describes the immutable bootstrap state of the chain (§6).
type Genesis struct {
	Timestamp  uint64         `json:"timestamp"`
	GasLimit   uint64         `json:"gasLimit"`
	ExtraData  []byte         `json:"extraData"`
	Alloc      GenesisAlloc   `json:"alloc"`
	Validators []common.Address `json:"validators"`
}

// ToBlock synthesizes block 0 per §4.3: empty transaction list, a system
// validator address, a state root over the allocation, and zero gas used.
// systemValidator is the address recorded as the block's Validator; genesis
// carries no signature (§4.2: "Genesis is always valid").
func (g *Genesis) ToBlock(systemValidator common.Address, stateRoot common.Hash) *Block {
	b := &Block{
		Number:           0,
		ParentHash:       common.Hash{},
		Timestamp:        g.Timestamp,
		Validator:        systemValidator,
		Transactions:     nil,
		TransactionsRoot: MerkleRoot(nil),
		StateRoot:        stateRoot,
		ReceiptsRoot:     common.Hash{},
		GasLimit:         g.GasLimit,
		GasUsed:          0,
		ExtraData:        g.ExtraData,
	}
	b.Hash = b.ComputeHash()
	return b
}
