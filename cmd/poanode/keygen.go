package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chainforge/poaledger/crypto"
)

var keyOutFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "file to write the hex-encoded private key to",
	Value: "validator.key",
}

// commandKeygen generates a validator signing key, grounded on
// cmd/toskey/generate.go's "write a new key to a file, print the derived
// address" shape, narrowed to this repo's one signer type (secp256k1).
var commandKeygen = &cli.Command{
	Name:      "keygen",
	Usage:     "generate a new validator signing key",
	ArgsUsage: " ",
	Flags:     []cli.Flag{keyOutFlag},
	Action: func(ctx *cli.Context) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		out := ctx.String(keyOutFlag.Name)
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("keyfile already exists at %s", out)
		}
		encoded := hex.EncodeToString(key.Bytes())
		if err := os.WriteFile(out, []byte(encoded), 0600); err != nil {
			return fmt.Errorf("write keyfile: %w", err)
		}

		fmt.Println("Address:", key.Address().Hex())
		fmt.Println("Keyfile:", out)
		return nil
	},
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile: %w", err)
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode keyfile: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}
