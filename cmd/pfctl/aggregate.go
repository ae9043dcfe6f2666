package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"trading-portfolio/internal/model"
	"trading-portfolio/internal/portfolio"
)

type aggregateCmd struct {
	out io.Writer

	orders   string
	prices   string
	policy   string
	currency string
	account  string
	asJSON   bool
}

func (*aggregateCmd) Name() string     { return "aggregate" }
func (*aggregateCmd) Synopsis() string { return "fold an order file into holdings and totals" }
func (*aggregateCmd) Usage() string {
	return `pfctl aggregate -orders <file> [-prices <file>] [-policy reprice|costbasis] [-account <id>] [-json]

  Reads a JSON array of orders and an optional JSON object of symbol prices,
  and prints each account's holdings and summary. Symbols without a price
  are valued at their last filled price.
`
}

func (c *aggregateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.orders, "orders", "", "JSON file with an array of orders.")
	f.StringVar(&c.prices, "prices", "", "JSON file mapping symbol to current price.")
	f.StringVar(&c.policy, "policy", "reprice", "Averaging policy: reprice or costbasis.")
	f.StringVar(&c.currency, "currency", "USD", "ISO currency code used to format amounts.")
	f.StringVar(&c.account, "account", "", "Only aggregate this account (default: every account in the file).")
	f.BoolVar(&c.asJSON, "json", false, "Print the raw results as JSON.")
}

func (c *aggregateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *aggregateCmd) run(ctx context.Context) error {
	if c.orders == "" {
		return fmt.Errorf("-orders is required")
	}
	policy, err := portfolio.ParsePolicy(c.policy)
	if err != nil {
		return err
	}
	f, err := newFormatter(c.currency)
	if err != nil {
		return err
	}

	var orders []model.Order
	if err := readJSON(c.orders, &orders); err != nil {
		return fmt.Errorf("orders: %w", err)
	}
	prices, err := readPrices(c.prices)
	if err != nil {
		return err
	}

	book := portfolio.NewBook()
	for _, o := range orders {
		if err := book.SaveOrder(ctx, o); err != nil {
			return err
		}
	}
	for sym, p := range prices {
		book.SetPrice(sym, p)
	}

	accounts := []string{c.account}
	if c.account == "" {
		if accounts, err = book.ListAccounts(ctx); err != nil {
			return err
		}
	}

	results := make(map[string]portfolio.Result, len(accounts))
	for _, acct := range accounts {
		results[acct] = book.Snapshot(acct, portfolio.WithPolicy(policy))
	}

	if c.asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, acct := range accounts {
		printResult(c.out, f, acct, results[acct])
	}
	return nil
}

func printResult(out io.Writer, f formatter, account string, res portfolio.Result) {
	if account == "" {
		account = "(none)"
	}
	fmt.Fprintf(out, "Account %s\n", account)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG\tPRICE\tVALUE\tPNL\t")
	for _, h := range res.Sorted() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t\n",
			h.Symbol, h.Quantity,
			f.money(h.AvgPrice), f.money(h.CurrentPrice),
			f.money(h.CurrentValue), f.signed(h.PnL))
	}
	tw.Flush()

	s := res.Summary
	fmt.Fprintf(out, "Total value %s  P&L %s (%s)  holdings %d\n",
		f.money(s.TotalValue), f.signed(s.TotalPnL), percent(s.TotalPnLPercent), s.Holdings)
	for _, d := range res.Diagnostics {
		fmt.Fprintf(out, "  skipped #%d %s: %s (%s)\n", d.Index, d.Symbol, d.Reason, d.Detail)
	}
	fmt.Fprintln(out)
}
