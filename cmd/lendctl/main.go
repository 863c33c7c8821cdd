package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"peerlend/services/lending/client"
	"peerlend/services/lending/engine"
)

const (
	defaultURL = "http://127.0.0.1:8480"
	urlEnv     = "PEERLEND_URL"
	tokenEnv   = "PEERLEND_TOKEN"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 1
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", envOr(urlEnv, defaultURL), "lendingd base URL")
	token := fs.String("token", os.Getenv(tokenEnv), "API or admin token")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	account := fs.String("account", "", "account address")
	market := fs.String("market", "", "market symbol")
	amount := fs.String("amount", "", "amount of underlying")
	counterparty := fs.String("counterparty", "", "beneficiary for supply/repay or receiver for borrow/withdraw")
	maxIter := fs.Uint64("max-iterations", 0, "matching iteration budget, 0 uses the market default")
	list := fs.String("list", "", "list name for the lists command")
	borrower := fs.String("borrower", "", "borrower address for liquidate")
	collateral := fs.String("collateral", "", "collateral market for liquidate")
	paused := fs.Bool("paused", true, "pause state for the pause command")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	c, err := client.New(*baseURL, *token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var iterations *uint64
	if *maxIter > 0 {
		iterations = maxIter
	}

	var out json.RawMessage
	switch cmd {
	case "markets":
		out, err = c.Markets(ctx)
	case "market":
		err = requireFlags(map[string]string{"market": *market})
		if err == nil {
			out, err = c.Market(ctx, *market)
		}
	case "lists":
		err = requireFlags(map[string]string{"market": *market, "list": *list})
		if err == nil {
			out, err = c.List(ctx, *market, *list)
		}
	case "position":
		err = requireFlags(map[string]string{"account": *account, "market": *market})
		if err == nil {
			out, err = c.Position(ctx, *account, *market)
		}
	case "health":
		err = requireFlags(map[string]string{"account": *account})
		if err == nil {
			out, err = c.Health(ctx, *account)
		}
	case "supply", "borrow", "withdraw", "repay":
		err = requireFlags(map[string]string{"account": *account, "market": *market, "amount": *amount})
		if err == nil {
			out, err = c.Flow(ctx, cmd, engine.FlowRequest{
				Account:       *account,
				Counterparty:  *counterparty,
				Market:        *market,
				Amount:        *amount,
				MaxIterations: iterations,
			})
		}
	case "liquidate":
		err = requireFlags(map[string]string{"account": *account, "borrower": *borrower, "market": *market, "collateral": *collateral, "amount": *amount})
		if err == nil {
			out, err = c.Liquidate(ctx, engine.LiquidationRequest{
				Liquidator:       *account,
				Borrower:         *borrower,
				BorrowedMarket:   *market,
				CollateralMarket: *collateral,
				Amount:           *amount,
				MaxIterations:    iterations,
			})
		}
	case "pause":
		out, err = c.SetPaused(ctx, *paused)
	default:
		usage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(out)
	}
	pretty.WriteByte('\n')
	_, _ = stdout.Write(pretty.Bytes())
	return 0
}

func requireFlags(flags map[string]string) error {
	var missing []string
	for name, value := range flags {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: lendctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Read commands:")
	fmt.Fprintln(w, "  markets                         list markets")
	fmt.Fprintln(w, "  market -market SYM              show one market")
	fmt.Fprintln(w, "  lists -market SYM -list NAME    show a priority list")
	fmt.Fprintln(w, "  position -account ADDR -market SYM")
	fmt.Fprintln(w, "  health -account ADDR")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flows (require a client token):")
	fmt.Fprintln(w, "  supply|borrow|withdraw|repay -account ADDR -market SYM -amount N [-counterparty ADDR] [-max-iterations N]")
	fmt.Fprintln(w, "  liquidate -account ADDR -borrower ADDR -market SYM -collateral SYM -amount N")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Admin:")
	fmt.Fprintln(w, "  pause -paused=true|false")
	fmt.Fprintf(w, "\nThe URL and token default to $%s and $%s.\n", urlEnv, tokenEnv)
}
