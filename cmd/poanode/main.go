// Command poanode runs one validator node: generate a keyfile, write a
// genesis file, or start the round state machine against a config file.
// Grounded on the teacher's cmd/toskey/main.go App/Commands scaffold (a
// single urfave/cli/v2 app, one var block of reusable flags, one command
// per var) and cmd/gtos/misccmd.go's plain "version" command.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"
)

var gitCommit = ""
var gitDate = ""

const clientIdentifier = "poanode"

var app *cli.App

func init() {
	app = &cli.App{
		Name:  clientIdentifier,
		Usage: "a permissioned proof-of-authority ledger node",
		Commands: []*cli.Command{
			commandInit,
			commandKeygen,
			commandStart,
			commandVersion,
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var commandVersion = &cli.Command{
	Name:      "version",
	Usage:     "print version information",
	ArgsUsage: " ",
	Action: func(ctx *cli.Context) error {
		fmt.Println(clientIdentifier)
		if gitCommit != "" {
			fmt.Println("Git Commit:", gitCommit)
		}
		if gitDate != "" {
			fmt.Println("Git Commit Date:", gitDate)
		}
		fmt.Println("Go Version:", runtime.Version())
		fmt.Println("Operating System:", runtime.GOOS)
		fmt.Println("Architecture:", runtime.GOARCH)
		return nil
	},
}
