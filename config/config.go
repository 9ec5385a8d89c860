// Package config decodes the node's TOML configuration file into the
// tunables §6 enumerates, following the teacher's tosconfig.Config pattern
// of a single flat struct with toml tags and a package-level Defaults
// value, decoded with github.com/naoina/toml (a teacher go.mod dependency
// this repo's prior structs left unwired until now).
package config

import (
	"io"
	"os"
	"time"

	"github.com/naoina/toml"

	"github.com/chainforge/poaledger/mempool"
)

// Config bundles every tunable §6 lists under "Configuration (enumerated)".
type Config struct {
	BlockTime          time.Duration `toml:"blockTime"`
	VotingPeriod       time.Duration `toml:"votingPeriod"`
	CheckpointInterval uint64        `toml:"checkpointInterval"`
	FinalityBlocks     uint64        `toml:"finalityBlocks"`
	MinValidators      int           `toml:"minValidators"`

	MaxBlockSize            int    `toml:"maxBlockSize"`
	MaxTransactionsPerBlock int    `toml:"maxTransactionsPerBlock"`
	MaxGasLimit             uint64 `toml:"maxGasLimit"`
	MinGasPrice             string `toml:"minGasPrice"` // decimal U256 string
	MaxGasPrice             string `toml:"maxGasPrice"`
	MaxDataSize             int    `toml:"maxDataSize"`

	MaxPoolSize     int    `toml:"maxPoolSize"`
	PerAccountLimit int    `toml:"perAccountLimit"`
	EvictionPolicy  string `toml:"evictionPolicy"` // PRICE | FIFO | LIFO

	HeartbeatInterval   time.Duration `toml:"heartbeatInterval"`
	TimeoutThreshold    time.Duration `toml:"timeoutThreshold"`
	MaxFailedRounds     int           `toml:"maxFailedRounds"`
	AccusationThreshold int           `toml:"accusationThreshold"`
	EvidenceTimeout     time.Duration `toml:"evidenceTimeout"`
	PunishmentDuration  time.Duration `toml:"punishmentDuration"`
	PartitionTimeout    time.Duration `toml:"partitionTimeout"`
	RecoveryTimeout     time.Duration `toml:"recoveryTimeout"`

	DataDir  string `toml:"dataDir"`
	Genesis  string `toml:"genesis"`
	ListenID string `toml:"listenId"`
}

// Defaults mirrors the timeout-table defaults §4.4/§4.5/§4.6 already fix in
// mempool.DefaultConfig/consensus/poa.DefaultConfig/faulttolerance.
// DefaultConfig, restated here in the flat decoded shape a TOML file
// overrides piecewise.
var Defaults = Config{
	BlockTime:          5 * time.Second,
	VotingPeriod:       5 * time.Second,
	CheckpointInterval: 100,
	FinalityBlocks:     6,
	MinValidators:      4,

	MaxBlockSize:            4 << 20,
	MaxTransactionsPerBlock: 5000,
	MaxGasLimit:             8_000_000,
	MinGasPrice:             "1",
	MaxGasPrice:             "1000000000000",
	MaxDataSize:             64 << 10,

	MaxPoolSize:     50000,
	PerAccountLimit: 64,
	EvictionPolicy:  "PRICE",

	HeartbeatInterval:   30 * time.Second,
	TimeoutThreshold:    90 * time.Second,
	MaxFailedRounds:     5,
	AccusationThreshold: 3,
	EvidenceTimeout:     10 * time.Minute,
	PunishmentDuration:  1 * time.Hour,
	PartitionTimeout:    2 * time.Minute,
	RecoveryTimeout:     30 * time.Second,

	DataDir: "./data",
}

// Load decodes a TOML file at path over a copy of Defaults, so an input
// file only needs to set the fields it wants to override.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// tomlSettings mirrors the teacher's cmd/gtos loader's field-naming
// convention (CamelCase struct fields, lowerCamelCase keys) via explicit
// toml tags rather than NormFieldName/FieldToKey hooks, since every field
// here already carries its own tag.
var tomlSettings = toml.Config{}

// Decode reads TOML from r over a copy of Defaults.
func Decode(r io.Reader) (*Config, error) {
	cfg := Defaults
	if err := tomlSettings.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EvictionPolicyValue maps the decoded string to mempool.EvictionPolicy,
// defaulting to price-based eviction on an unrecognized value rather than
// failing startup over a typo in a low-stakes tunable.
func (c *Config) EvictionPolicyValue() mempool.EvictionPolicy {
	switch c.EvictionPolicy {
	case "FIFO":
		return mempool.EvictFIFO
	case "LIFO":
		return mempool.EvictLIFO
	default:
		return mempool.EvictPrice
	}
}
