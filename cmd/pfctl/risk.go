package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"trading-portfolio/internal/portfolio"
)

type riskCmd struct {
	out io.Writer

	db       string
	account  string
	prices   string
	policy   string
	currency string
	history  int
}

func (*riskCmd) Name() string     { return "risk" }
func (*riskCmd) Synopsis() string { return "assess an account's risk from stored orders and snapshots" }
func (*riskCmd) Usage() string {
	return `pfctl risk -db <path> -account <id> [-prices <file>] [-history N]

  Aggregates the account's stored orders and assesses VaR, concentration
  and drawdown against the default limits, using up to N stored value
  snapshots as history.
`
}

func (c *riskCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "data/portfolio.db", "Path to the SQLite database.")
	f.StringVar(&c.account, "account", "", "Account to assess.")
	f.StringVar(&c.prices, "prices", "", "JSON file mapping symbol to current price.")
	f.StringVar(&c.policy, "policy", "reprice", "Averaging policy: reprice or costbasis.")
	f.StringVar(&c.currency, "currency", "USD", "ISO currency code used to format amounts.")
	f.IntVar(&c.history, "history", 250, "Number of stored snapshots to use as value history.")
}

func (c *riskCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *riskCmd) run(ctx context.Context) error {
	if c.account == "" {
		return fmt.Errorf("-account is required")
	}
	policy, err := portfolio.ParsePolicy(c.policy)
	if err != nil {
		return err
	}
	f, err := newFormatter(c.currency)
	if err != nil {
		return err
	}
	prices, err := readPrices(c.prices)
	if err != nil {
		return err
	}
	store, err := openStore(c.db)
	if err != nil {
		return err
	}
	defer store.Close()

	orders, err := store.ListOrders(ctx, c.account)
	if err != nil {
		return err
	}
	history, err := store.ValueHistory(ctx, c.account, c.history)
	if err != nil {
		return err
	}

	res := portfolio.Aggregate(orders, prices, portfolio.WithPolicy(policy))
	r := portfolio.Assess(res, history, portfolio.DefaultRiskLimits())

	fmt.Fprintf(c.out, "Account %s (%d holdings, %d snapshots)\n", c.account, res.Summary.Holdings, len(history))
	fmt.Fprintf(c.out, "  Gross exposure   %s\n", f.money(r.GrossExposure))
	fmt.Fprintf(c.out, "  1-day 95%% VaR    %s (%.2f%%)\n", f.money(r.ValueAtRisk), r.VaRPct)
	fmt.Fprintf(c.out, "  Concentration    %.2f%% %s\n", r.MaxConcentrationPct, r.ConcentratedSymbol)
	fmt.Fprintf(c.out, "  Max drawdown     %.2f%%\n", r.MaxDrawdownPct)
	fmt.Fprintf(c.out, "  Risk score       %d/10\n", r.RiskScore)
	for _, a := range r.Alerts {
		fmt.Fprintf(c.out, "  ! %s\n", a)
	}
	return nil
}
