package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/types"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	m := NewMemoryStore()

	require.NoError(t, m.Put([]byte("a"), []byte("1")))
	v, err := m.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	has, err := m.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, m.Delete([]byte("a")))
	_, err = m.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIteratorRespectsPrefixAndOrder(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Put([]byte("blocks/b"), []byte("2")))
	require.NoError(t, m.Put([]byte("blocks/a"), []byte("1")))
	require.NoError(t, m.Put([]byte("state/x"), []byte("3")))

	it := m.NewIterator([]byte("blocks/"))
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"blocks/a", "blocks/b"}, keys)
}

func TestLevelStoreInMemoryRoundTrip(t *testing.T) {
	db, err := OpenLevelStoreInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestLayoutBlockAndAccountRoundTrip(t *testing.T) {
	l := NewLayout(NewMemoryStore())

	block := &types.Block{Number: 1, Hash: common.BytesToHash([]byte{0x01})}
	require.NoError(t, l.PutBlock(block))

	byHash, ok := l.GetBlockByHash(block.Hash)
	require.True(t, ok)
	require.Equal(t, uint64(1), byHash.Number)

	byNumber, ok := l.GetBlockByNumber(1)
	require.True(t, ok)
	require.Equal(t, block.Hash, byNumber.Hash)

	addr := common.BytesToAddress([]byte{0x02})
	acc := &types.AccountState{Nonce: 5}
	require.NoError(t, l.PutAccountState(addr, acc))
	got, ok := l.GetAccountState(addr)
	require.True(t, ok)
	require.Equal(t, uint64(5), got.Nonce)
}

func TestLayoutPendingTxWarmRestart(t *testing.T) {
	l := NewLayout(NewMemoryStore())
	tx := &types.Transaction{Hash: common.BytesToHash([]byte{0x03})}
	require.NoError(t, l.PutPendingTx(tx))

	loaded := l.LoadPendingTxs()
	require.Len(t, loaded, 1)
	require.Equal(t, tx.Hash, loaded[0].Hash)

	require.NoError(t, l.DeletePendingTx(tx.Hash))
	require.Empty(t, l.LoadPendingTxs())
}
