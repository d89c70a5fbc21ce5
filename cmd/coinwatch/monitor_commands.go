package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/coinwatch/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func monitorCommands() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Payment monitor lifecycle commands",
		Subcommands: []*cli.Command{
			monitorStartCommand(),
			monitorStatusCommand(),
			monitorCancelCommand(),
			monitorAwaitCommand(),
		},
	}
}

func newCLIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func monitorStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start monitoring an address for an incoming payment",
		ArgsUsage: "USER_ID CURRENCY ADDRESS",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:    "amount",
				Aliases: []string{"a"},
				Usage:   "Expected payment amount in base units (lamports, satoshi, nanoton, ...)",
			},
			&cli.StringFlag{
				Name:    "memo",
				Aliases: []string{"m"},
				Usage:   "Require the payment to carry this memo",
			},
			&cli.Int64Flag{
				Name:  "min-confirmations",
				Usage: "Minimum confirmations before the payment counts as matched",
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Usage:   "How often the server polls the chain (e.g., 5s, 30s)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long the server waits before timing the monitor out",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return fmt.Errorf("user id, currency, and address are required")
			}

			params := client.StartMonitorParams{
				UserID:       c.Args().Get(0),
				Currency:     c.Args().Get(1),
				Address:      c.Args().Get(2),
				PollInterval: c.Duration("poll-interval"),
				Timeout:      c.Duration("timeout"),
			}
			if c.IsSet("amount") {
				amount := c.Int64("amount")
				params.ExpectedAmount = &amount
			}
			if c.IsSet("memo") {
				memo := c.String("memo")
				params.Memo = &memo
			}
			if c.IsSet("min-confirmations") {
				min := c.Int64("min-confirmations")
				params.MinConfirmations = &min
			}

			cl := newCLIClient(c)
			monitor, err := cl.StartMonitor(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to start monitor: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(monitor, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Monitor started\n")
				fmt.Printf("  User:     %s\n", monitor.UserID)
				fmt.Printf("  Currency: %s\n", monitor.Currency)
				fmt.Printf("  Address:  %s\n", monitor.Address)
				fmt.Printf("  Status:   %s\n", monitor.Status)
			}
			return nil
		},
	}
}

func monitorStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Aliases:   []string{"get"},
		Usage:     "Get the current state of a monitor",
		ArgsUsage: "USER_ID CURRENCY ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return fmt.Errorf("user id, currency, and address are required")
			}

			cl := newCLIClient(c)
			monitor, err := cl.GetMonitor(context.Background(), c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("failed to get monitor: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(monitor, "", "  ")
				fmt.Println(string(data))
			} else {
				printMonitorDetailed(monitor)
			}
			return nil
		},
	}
}

func monitorCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Aliases:   []string{"rm"},
		Usage:     "Cancel a pending monitor",
		ArgsUsage: "USER_ID CURRENCY ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return fmt.Errorf("user id, currency, and address are required")
			}

			cl := newCLIClient(c)
			monitor, err := cl.CancelMonitor(context.Background(), c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("failed to cancel monitor: %w", err)
			}

			if c.Bool("json") {
				if monitor == nil {
					fmt.Println(`{"status": "cancelled"}`)
				} else {
					data, _ := json.MarshalIndent(monitor, "", "  ")
					fmt.Println(string(data))
				}
			} else {
				fmt.Printf("✓ Monitor cancelled\n")
			}
			return nil
		},
	}
}

func monitorAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a monitor reaches a terminal state",
		ArgsUsage: "USER_ID CURRENCY ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   10 * time.Minute,
				Usage:   "How long to wait for a terminal outcome",
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Value:   2 * time.Second,
				Usage:   "How often to poll the server",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter that must evaluate truthy against the terminal monitor JSON (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return fmt.Errorf("user id, currency, and address are required")
			}

			userID := c.Args().Get(0)
			currency := c.Args().Get(1)
			address := c.Args().Get(2)
			timeout := c.Duration("timeout")
			jqFilters := c.StringSlice("must-jq")
			jsonOutput := c.Bool("json")

			// Compile jq filters up front so bad expressions fail fast.
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for monitor %s/%s/%s...\n", userID, currency, address)
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", timeout)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			cl := newCLIClient(c)
			monitor, err := cl.Await(ctx, userID, currency, address, c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed to await monitor: %w", err)
			}

			// Evaluate jq filters against the terminal monitor JSON.
			if len(compiledJQFilters) > 0 {
				raw, err := json.Marshal(monitor)
				if err != nil {
					return fmt.Errorf("failed to marshal monitor: %w", err)
				}
				var monitorJSON interface{}
				if err := json.Unmarshal(raw, &monitorJSON); err != nil {
					return fmt.Errorf("failed to unmarshal monitor: %w", err)
				}

				for i, code := range compiledJQFilters {
					iter := code.Run(monitorJSON)
					v, ok := iter.Next()
					if !ok {
						return fmt.Errorf("jq filter %q produced no result", jqFilters[i])
					}
					if err, isErr := v.(error); isErr {
						return fmt.Errorf("jq filter %q failed: %w", jqFilters[i], err)
					}
					if !isTruthy(v) {
						return fmt.Errorf("jq filter %q did not match", jqFilters[i])
					}
				}
			}

			if jsonOutput {
				data, err := json.MarshalIndent(monitor, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal monitor: %w", err)
				}
				fmt.Println(string(data))
			} else {
				printMonitorDetailed(monitor)
			}
			return nil
		},
	}
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printMonitorDetailed(m *client.Monitor) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Monitor")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("User:        %s\n", m.UserID)
	fmt.Printf("Currency:    %s\n", m.Currency)
	fmt.Printf("Address:     %s\n", m.Address)
	fmt.Printf("Status:      %s\n", m.Status)
	fmt.Printf("Started At:  %s\n", m.StartedAt.Format(time.RFC3339))

	if outcome := m.Outcome; outcome != nil {
		if outcome.Reason != "" {
			fmt.Printf("Reason:      %s\n", outcome.Reason)
		}
		fmt.Printf("Completed:   %s\n", outcome.CompletedAt.Format(time.RFC3339))
		if outcome.FiatValue != nil {
			fmt.Printf("Fiat Value:  $%.2f\n", *outcome.FiatValue)
		}

		if txn := outcome.Transaction; txn != nil {
			fmt.Println()
			fmt.Printf("Transaction: %s\n", txn.ID)
			if txn.FromAddress != "" {
				fmt.Printf("From:        %s\n", txn.FromAddress)
			}
			if txn.AmountHuman != "" {
				fmt.Printf("Amount:      %s %s\n", txn.AmountHuman, m.Currency)
			} else {
				fmt.Printf("Amount:      %d (base units)\n", txn.Amount)
			}
			fmt.Printf("Confirms:    %d\n", txn.Confirmations)
			if txn.Memo != nil {
				fmt.Printf("Memo:        %s\n", *txn.Memo)
			}
			if !txn.BlockTime.IsZero() {
				fmt.Printf("Block Time:  %s\n", txn.BlockTime.Format(time.RFC3339))
			}
		}
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
