// cmd/pfctl inspects portfolios offline: aggregate an order file, list the
// orders in the SQLite store, or assess an account's risk.
//
// Usage:
//
//	pfctl aggregate -orders orders.json [-prices prices.json] [-policy reprice|costbasis]
//	pfctl orders -db data/portfolio.db -account ACC
//	pfctl risk -db data/portfolio.db -account ACC [-prices prices.json]
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	for _, c := range commands(os.Stdout) {
		commander.Register(c, "portfolio")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&aggregateCmd{out: out},
		&ordersCmd{out: out},
		&riskCmd{out: out},
	}
}
