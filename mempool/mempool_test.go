package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/crypto"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validate"
)

type fakeView struct {
	accounts map[common.Address]*types.AccountState
}

func newFakeView() *fakeView { return &fakeView{accounts: make(map[common.Address]*types.AccountState)} }

func (v *fakeView) Get(addr common.Address) (*types.AccountState, bool) {
	a, ok := v.accounts[addr]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

type fakeReplay struct{}

func (fakeReplay) Processed(common.Address, uint64) bool { return false }

func signedTx(t *testing.T, from *crypto.PrivateKey, to common.Address, nonce uint64, now time.Time) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		To:        to,
		Value:     common.NewU256(10),
		GasPrice:  common.NewU256(5),
		GasLimit:  21000,
		Nonce:     nonce,
		Timestamp: uint64(now.UnixMilli()),
	}
	require.NoError(t, tx.Sign(from))
	return tx
}

func newFundedView(t *testing.T, addrs ...common.Address) *fakeView {
	t.Helper()
	v := newFakeView()
	for _, a := range addrs {
		v.accounts[a] = &types.AccountState{Balance: common.NewU256(1_000_000)}
	}
	return v
}

func TestAdmitAcceptsValidTransaction(t *testing.T) {
	now := time.Now()
	from, err := crypto.GenerateKey()
	require.NoError(t, err)
	to, err := crypto.GenerateKey()
	require.NoError(t, err)
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	tx := signedTx(t, from, to.Address(), 0, now)

	require.NoError(t, mp.Admit(tx, view, fakeReplay{}, now))
	require.Equal(t, 1, mp.Size())
}

func TestAdmitRejectsDuplicateHash(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	tx := signedTx(t, from, to.Address(), 0, now)

	require.NoError(t, mp.Admit(tx, view, fakeReplay{}, now))
	err := mp.Admit(tx, view, fakeReplay{}, now)
	require.Error(t, err)
}

func TestAdmitAllowsNonceAheadOfCommitted(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	tx := signedTx(t, from, to.Address(), 3, now)

	require.NoError(t, mp.Admit(tx, view, fakeReplay{}, now))
}

func TestAdmitRejectsNonceBelowExpected(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	first := signedTx(t, from, to.Address(), 0, now)
	require.NoError(t, mp.Admit(first, view, fakeReplay{}, now))
	mp.MarkProcessed([]*types.Transaction{first})

	stale := signedTx(t, from, to.Address(), 0, now)
	err := mp.Admit(stale, view, fakeReplay{}, now)
	require.Error(t, err)
}

func TestPerAccountLimitEnforced(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	cfg := DefaultConfig()
	cfg.PerAccountLimit = 2
	mp := New(cfg, validate.DefaultThresholds())

	for i := uint64(0); i < 2; i++ {
		require.NoError(t, mp.Admit(signedTx(t, from, to.Address(), i, now), view, fakeReplay{}, now))
	}
	err := mp.Admit(signedTx(t, from, to.Address(), 2, now), view, fakeReplay{}, now)
	require.Error(t, err)
}

func TestEvictionByPriceMakesRoomUnderPressure(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	cfg := DefaultConfig()
	cfg.MaxPoolSize = 1
	cfg.EvictionPolicy = EvictPrice
	mp := New(cfg, validate.DefaultThresholds())

	low := signedTx(t, from, to.Address(), 0, now)
	low.GasPrice = common.NewU256(1)
	require.NoError(t, low.Sign(from))
	require.NoError(t, mp.Admit(low, view, fakeReplay{}, now))

	high := signedTx(t, from, to.Address(), 1, now)
	high.GasPrice = common.NewU256(100)
	require.NoError(t, high.Sign(from))
	require.NoError(t, mp.Admit(high, view, fakeReplay{}, now))

	require.Equal(t, 1, mp.Size())
	pending := mp.Pending()
	require.Equal(t, high.Hash, pending[0].Hash)
}

func TestMarkProcessedRemovesFromPool(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	tx := signedTx(t, from, to.Address(), 0, now)
	require.NoError(t, mp.Admit(tx, view, fakeReplay{}, now))

	mp.MarkProcessed([]*types.Transaction{tx})
	require.Equal(t, 0, mp.Size())
}

func TestSelectRespectsGasLimit(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, mp.Admit(signedTx(t, from, to.Address(), i, now), view, fakeReplay{}, now))
	}

	selected := mp.Select(21000*3, 10, SelectFIFO, now)
	require.Len(t, selected, 3)
}

func TestBlacklistRejectsAdmission(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	mp := New(DefaultConfig(), validate.DefaultThresholds())
	tx := signedTx(t, from, to.Address(), 0, now)
	mp.Blacklist(tx.Hash)

	err := mp.Admit(tx, view, fakeReplay{}, now)
	require.Error(t, err)
}

func TestExpireAndRetryPurgesOldTransactions(t *testing.T) {
	now := time.Now()
	from, _ := crypto.GenerateKey()
	to, _ := crypto.GenerateKey()
	view := newFundedView(t, from.Address(), to.Address())

	cfg := DefaultConfig()
	cfg.MaxAge = time.Minute
	mp := New(cfg, validate.DefaultThresholds())
	tx := signedTx(t, from, to.Address(), 0, now)
	require.NoError(t, mp.Admit(tx, view, fakeReplay{}, now))

	_, purged := mp.ExpireAndRetry(now.Add(2 * time.Minute))
	require.Equal(t, 1, purged)
	require.Equal(t, 0, mp.Size())
}
