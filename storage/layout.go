package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/types"
)

// Layout namespaces every key under one of §6's five logical prefixes, so a
// single KeyValueStore backend can hold blocks, the number index, account
// state, checkpoints, and pending transactions side by side without
// collision.
type Layout struct {
	kv KeyValueStore
}

// NewLayout wraps kv with the §6 key layout.
func NewLayout(kv KeyValueStore) *Layout {
	return &Layout{kv: kv}
}

var (
	prefixBlock      = []byte("blocks/")
	prefixByNumber   = []byte("index/byNumber/")
	prefixState      = []byte("state/")
	prefixCheckpoint = []byte("checkpoints/")
	prefixMempool    = []byte("mempool/pending/")
)

func blockKey(hash common.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), hash[:]...)
}

func numberKey(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return append(append([]byte{}, prefixByNumber...), buf[:]...)
}

func stateKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixState...), addr[:]...)
}

func checkpointKey(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return append(append([]byte{}, prefixCheckpoint...), buf[:]...)
}

func mempoolKey(hash common.Hash) []byte {
	return append(append([]byte{}, prefixMempool...), hash[:]...)
}

// PutBlock stores block and its number->hash index entry.
func (l *Layout) PutBlock(block *types.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	if err := l.kv.Put(blockKey(block.Hash), data); err != nil {
		return err
	}
	return l.kv.Put(numberKey(block.Number), block.Hash[:])
}

// GetBlockByHash loads a block by its hash.
func (l *Layout) GetBlockByHash(hash common.Hash) (*types.Block, bool) {
	data, err := l.kv.Get(blockKey(hash))
	if err != nil {
		return nil, false
	}
	var block types.Block
	if json.Unmarshal(data, &block) != nil {
		return nil, false
	}
	return &block, true
}

// GetBlockByNumber resolves the number->hash index then loads the block.
func (l *Layout) GetBlockByNumber(n uint64) (*types.Block, bool) {
	hashBytes, err := l.kv.Get(numberKey(n))
	if err != nil {
		return nil, false
	}
	return l.GetBlockByHash(common.BytesToHash(hashBytes))
}

// PutAccountState stores an account's state.
func (l *Layout) PutAccountState(addr common.Address, acc *types.AccountState) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return l.kv.Put(stateKey(addr), data)
}

// GetAccountState loads an account's state.
func (l *Layout) GetAccountState(addr common.Address) (*types.AccountState, bool) {
	data, err := l.kv.Get(stateKey(addr))
	if err != nil {
		return nil, false
	}
	var acc types.AccountState
	if json.Unmarshal(data, &acc) != nil {
		return nil, false
	}
	return &acc, true
}

// PutCheckpoint stores a checkpoint keyed by block number.
func (l *Layout) PutCheckpoint(cp *types.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return l.kv.Put(checkpointKey(cp.BlockNumber), data)
}

// GetCheckpoint loads the checkpoint at exactly number n, if present.
func (l *Layout) GetCheckpoint(n uint64) (*types.Checkpoint, bool) {
	data, err := l.kv.Get(checkpointKey(n))
	if err != nil {
		return nil, false
	}
	var cp types.Checkpoint
	if json.Unmarshal(data, &cp) != nil {
		return nil, false
	}
	return &cp, true
}

// PutPendingTx persists a mempool entry, for deployments that opt into
// durable mempool storage rather than the in-memory-only default §6 allows.
func (l *Layout) PutPendingTx(tx *types.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return l.kv.Put(mempoolKey(tx.Hash), data)
}

// DeletePendingTx removes a persisted mempool entry.
func (l *Layout) DeletePendingTx(hash common.Hash) error {
	return l.kv.Delete(mempoolKey(hash))
}

// LoadPendingTxs returns every persisted pending transaction, for mempool
// warm-restart.
func (l *Layout) LoadPendingTxs() []*types.Transaction {
	it := l.kv.NewIterator(prefixMempool)
	defer it.Release()

	var out []*types.Transaction
	for it.Next() {
		var tx types.Transaction
		if json.Unmarshal(it.Value(), &tx) == nil {
			out = append(out, &tx)
		}
	}
	return out
}
