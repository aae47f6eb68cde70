package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/davidahmann/paybound/pkg/client"
)

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "health":
		return handleHealth(args[2:], stdout, stderr)
	case "transactions":
		return handleTransactions(args[2:], stdout, stderr)
	case "verify":
		return handleVerify(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func handleHealth(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("PAYBOUND_ADDR", client.DefaultProxyURL), "Paybound gateway address")
	agent := fs.String("agent", envOrDefault("PAYBOUND_AGENT", "paybound-cli"), "agent identifier")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c := client.New(*agent, client.WithProxyURL(*addr))
	health, err := c.Health(context.Background())
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	p := message.NewPrinter(language.English)
	fmt.Fprintf(stdout, "status=%s version=%s policies=%d\n", health.Status, health.Version, health.Policies)
	p.Fprintf(stdout, "transactions=%d volume=%.2f agents=%d\n", health.Transactions, health.TotalVolume, health.Agents)
	if health.PolicyHash != "" {
		fmt.Fprintf(stdout, "policy_hash=%s\n", health.PolicyHash)
	}
	return 0
}

func handleTransactions(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("transactions", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("PAYBOUND_ADDR", client.DefaultProxyURL), "Paybound gateway address")
	agent := fs.String("agent", envOrDefault("PAYBOUND_AGENT", ""), "agent identifier")
	since := fs.Int64("since", 0, "inclusive lower bound, epoch milliseconds")
	limit := fs.Int("limit", 0, "maximum records to return")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *agent == "" {
		fmt.Fprintln(stderr, "transactions requires -agent (or PAYBOUND_AGENT)")
		return 2
	}

	c := client.New(*agent, client.WithProxyURL(*addr))
	txs, err := c.Transactions(context.Background(), client.TransactionOptions{Since: *since, Limit: *limit})
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	p := message.NewPrinter(language.English)
	for _, tx := range txs {
		ts := time.UnixMilli(tx.Timestamp).UTC().Format(time.RFC3339)
		p.Fprintf(stdout, "%s %s %s %.2f %s resource=%s policy=%s reason=%q\n",
			ts, tx.Result, tx.AgentID, tx.Amount, tx.Currency, tx.ResourceURL, tx.MatchedPolicy, tx.Reason)
	}
	return 0
}

func handleVerify(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("PAYBOUND_ADDR", client.DefaultProxyURL), "Paybound gateway address")
	agent := fs.String("agent", envOrDefault("PAYBOUND_AGENT", ""), "agent identifier")
	resource := fs.String("resource", "", "resource URL being paid for")
	amount := fs.Float64("amount", 0, "payment amount")
	currency := fs.String("currency", "USDC", "payment currency")
	scheme := fs.String("scheme", "exact", "x402 payment scheme")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *agent == "" || *resource == "" {
		fmt.Fprintln(stderr, "verify requires -agent and -resource")
		return 2
	}

	c := client.New(*agent, client.WithProxyURL(*addr))
	result, err := c.Verify(context.Background(), client.Payment{
		ResourceURL: *resource,
		Amount:      *amount,
		Currency:    *currency,
		Scheme:      *scheme,
	})
	if err != nil {
		var violation *client.PolicyViolationError
		if errors.As(err, &violation) {
			fmt.Fprintf(stdout, "denied policy=%s reason=%q\n", violation.Policy, violation.Reason)
			return 1
		}
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(stdout, "allowed policy=%s amount=%.2f %s\n", result.Policy, *amount, *currency)
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: paybound-cli <health|transactions|verify> [flags]")
}

func envOrDefault(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
