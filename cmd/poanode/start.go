package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"

	"github.com/chainforge/poaledger/broadcast"
	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/config"
	"github.com/chainforge/poaledger/consensus/poa"
	"github.com/chainforge/poaledger/events"
	"github.com/chainforge/poaledger/faulttolerance"
	"github.com/chainforge/poaledger/ledger"
	"github.com/chainforge/poaledger/mempool"
	"github.com/chainforge/poaledger/node"
	"github.com/chainforge/poaledger/validate"
	"github.com/chainforge/poaledger/validator"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML config file",
	}
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "path to the validator signing keyfile",
		Required: true,
	}
)

// commandStart loads a config and genesis file, wires one validator's full
// stack through node.New, and blocks until an interrupt, grounded on the
// teacher's cmd/gtos "load config, build a node, run until signal" shape
// (the full p2p/RPC server stack there is out of scope here; this repo's
// broadcast.Network stands in for it per the in-process reference adapter
// already wired through node.Node).
var commandStart = &cli.Command{
	Name:      "start",
	Usage:     "start a validator node",
	ArgsUsage: " ",
	Flags:     []cli.Flag{configFlag, keyFlag},
	Action: func(ctx *cli.Context) error {
		cfg := config.Defaults
		if path := ctx.String(configFlag.Name); path != "" {
			loaded, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = *loaded
		}

		key, err := loadKey(ctx.String(keyFlag.Name))
		if err != nil {
			return err
		}

		genesisPath := cfg.Genesis
		if genesisPath == "" {
			return fmt.Errorf("config.genesis must name a genesis file")
		}
		genesis, err := loadGenesis(genesisPath)
		if err != nil {
			return err
		}

		set, err := validator.NewSet(genesis.Validators, cfg.MinValidators)
		if err != nil {
			return fmt.Errorf("build validator set: %w", err)
		}

		th := validate.DefaultThresholds()
		if minPrice, err := common.ParseU256(cfg.MinGasPrice); err == nil {
			th.MinGasPrice = minPrice
		}
		if maxPrice, err := common.ParseU256(cfg.MaxGasPrice); err == nil {
			th.MaxGasPrice = maxPrice
		}
		th.MaxGasLimit = cfg.MaxGasLimit
		th.MaxDataSize = cfg.MaxDataSize
		th.MaxBlockSize = cfg.MaxBlockSize
		th.MaxTxsPerBlock = cfg.MaxTransactionsPerBlock

		ledg, err := ledger.New(genesis, key.Address(), th, cfg.CheckpointInterval)
		if err != nil {
			return fmt.Errorf("build ledger: %w", err)
		}

		poolCfg := mempool.DefaultConfig()
		poolCfg.MaxPoolSize = cfg.MaxPoolSize
		poolCfg.PerAccountLimit = cfg.PerAccountLimit
		poolCfg.EvictionPolicy = cfg.EvictionPolicyValue()
		pool := mempool.New(poolCfg, th)

		net := broadcast.NewNetwork()
		bc := net.Join(key.Address())
		bus := events.New()

		consensusCfg := poa.DefaultConfig()
		consensusCfg.ProposalTimeout = cfg.BlockTime
		consensusCfg.VotingPeriod = cfg.VotingPeriod
		consensusCfg.BlockGasLimit = cfg.MaxGasLimit
		consensusCfg.MaxTxsPerBlock = cfg.MaxTransactionsPerBlock
		consensusCfg.MaxFailedRounds = cfg.MaxFailedRounds

		ftCfg := faulttolerance.DefaultConfig()
		ftCfg.HeartbeatInterval = cfg.HeartbeatInterval
		ftCfg.TimeoutThreshold = cfg.TimeoutThreshold
		ftCfg.MaxFailedRounds = cfg.MaxFailedRounds
		ftCfg.AccusationThreshold = cfg.AccusationThreshold
		ftCfg.EvidenceTimeout = cfg.EvidenceTimeout
		ftCfg.PunishmentDuration = cfg.PunishmentDuration
		ftCfg.PartitionTimeout = cfg.PartitionTimeout
		ftCfg.RecoveryTimeout = cfg.RecoveryTimeout

		nodeCfg := node.DefaultConfig()
		nodeCfg.HeartbeatInterval = cfg.HeartbeatInterval
		nodeCfg.CheckpointInterval = cfg.CheckpointInterval

		n := node.New(key, set, ledg, pool, bc, bus, clock.New(), consensusCfg, ftCfg, nodeCfg)
		if err := n.Start(); err != nil {
			return fmt.Errorf("start node: %w", err)
		}
		fmt.Println("poanode started:", key.Address().Hex())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		n.Stop()
		fmt.Println("poanode stopped")
		return nil
	},
}
