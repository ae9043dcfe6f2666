package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"trading-portfolio/internal/store/sqlite"
)

type ordersCmd struct {
	out io.Writer

	db       string
	account  string
	currency string
}

func (*ordersCmd) Name() string     { return "orders" }
func (*ordersCmd) Synopsis() string { return "list an account's orders from the SQLite store" }
func (*ordersCmd) Usage() string {
	return `pfctl orders -db <path> -account <id>

  Prints the account's orders in fill order.
`
}

func (c *ordersCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "data/portfolio.db", "Path to the SQLite database.")
	f.StringVar(&c.account, "account", "", "Account to list.")
	f.StringVar(&c.currency, "currency", "USD", "ISO currency code used to format prices.")
}

func (c *ordersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *ordersCmd) run(ctx context.Context) error {
	if c.account == "" {
		return fmt.Errorf("-account is required")
	}
	f, err := newFormatter(c.currency)
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

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tSYMBOL\tSIDE\tQTY\tPRICE\tSTATUS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			o.Timestamp.UTC().Format(time.RFC3339), o.ID, o.Symbol, o.Side,
			o.Quantity, f.money(o.Price), o.Status)
	}
	tw.Flush()
	fmt.Fprintf(c.out, "%d orders\n", len(orders))
	return nil
}

// openStore opens the database quietly; the CLI prints its own output.
func openStore(path string) (*sqlite.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return sqlite.Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
