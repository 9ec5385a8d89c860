package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/poaledger/mempool"
)

func TestDecodeOverridesOnlyGivenFields(t *testing.T) {
	r := strings.NewReader(`
blockTime = "10s"
evictionPolicy = "FIFO"
maxPoolSize = 1000
`)
	cfg, err := Decode(r)
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, cfg.BlockTime)
	require.Equal(t, "FIFO", cfg.EvictionPolicy)
	require.Equal(t, 1000, cfg.MaxPoolSize)

	// untouched fields keep their default value
	require.Equal(t, Defaults.VotingPeriod, cfg.VotingPeriod)
	require.Equal(t, Defaults.PerAccountLimit, cfg.PerAccountLimit)
}

func TestEvictionPolicyValueMapping(t *testing.T) {
	cfg := Defaults
	cfg.EvictionPolicy = "LIFO"
	require.Equal(t, mempool.EvictLIFO, cfg.EvictionPolicyValue())

	cfg.EvictionPolicy = "bogus"
	require.Equal(t, mempool.EvictPrice, cfg.EvictionPolicyValue())
}
