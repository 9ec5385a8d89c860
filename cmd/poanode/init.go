package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/types"
)

var (
	genesisOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "file to write the genesis JSON to",
		Value: "genesis.json",
	}
	validatorsFlag = &cli.StringFlag{
		Name:     "validators",
		Usage:    "comma-separated hex validator addresses",
		Required: true,
	}
	allocFlag = &cli.StringFlag{
		Name:  "alloc",
		Usage: "comma-separated addr=balance pairs for the initial allocation",
	}
	gasLimitFlag = &cli.Uint64Flag{
		Name:  "gas-limit",
		Usage: "genesis block gas limit",
		Value: 8_000_000,
	}
	timestampFlag = &cli.Uint64Flag{
		Name:  "timestamp",
		Usage: "genesis timestamp in unix milliseconds",
		Value: 1,
	}
)

// commandInit writes a genesis file from a validator set and an optional
// allocation, grounded on cmd/puppeth's "collect inputs from flags, marshal
// a Genesis struct to disk" shape, narrowed here to this repo's flat
// validators+alloc genesis rather than puppeth's multi-network spec fan-out.
var commandInit = &cli.Command{
	Name:      "init",
	Usage:     "write a genesis file from a validator set",
	ArgsUsage: " ",
	Flags:     []cli.Flag{genesisOutFlag, validatorsFlag, allocFlag, gasLimitFlag, timestampFlag},
	Action: func(ctx *cli.Context) error {
		validators, err := parseAddressList(ctx.String(validatorsFlag.Name))
		if err != nil {
			return fmt.Errorf("parse validators: %w", err)
		}
		if len(validators) == 0 {
			return fmt.Errorf("at least one validator is required")
		}

		alloc, err := parseAlloc(ctx.String(allocFlag.Name))
		if err != nil {
			return fmt.Errorf("parse alloc: %w", err)
		}

		genesis := &types.Genesis{
			Timestamp:  ctx.Uint64(timestampFlag.Name),
			GasLimit:   ctx.Uint64(gasLimitFlag.Name),
			Validators: validators,
			Alloc:      alloc,
		}

		out := ctx.String(genesisOutFlag.Name)
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("genesis file already exists at %s", out)
		}
		data, err := json.MarshalIndent(genesis, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal genesis: %w", err)
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("write genesis: %w", err)
		}

		fmt.Println("Genesis written:", out)
		fmt.Println("Validators:", len(validators))
		return nil
	},
}

func loadGenesis(path string) (*types.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g types.Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return &g, nil
}

func parseAddressList(s string) ([]common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, common.HexToAddress(p))
	}
	return out, nil
}

func parseAlloc(s string) (types.GenesisAlloc, error) {
	alloc := types.GenesisAlloc{}
	s = strings.TrimSpace(s)
	if s == "" {
		return alloc, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed alloc entry %q, want addr=balance", pair)
		}
		balance, err := common.ParseU256(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", kv[0], err)
		}
		alloc[common.HexToAddress(strings.TrimSpace(kv[0]))] = types.AccountState{Balance: balance}
	}
	return alloc, nil
}
