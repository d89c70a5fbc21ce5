package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "coinwatch",
		Usage: "Multi-chain crypto payment monitoring CLI",
		Description: `A command-line tool for interacting with the coinwatch service.

Use this CLI to start and await payment monitors, check wallet balances,
create payment invoices, and subscribe to monitor outcome events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Monitor lifecycle commands (HTTP API)
			monitorCommands(),
			// Balance, price, currency, and invoice commands (HTTP API)
			balanceCommand(),
			priceCommand(),
			currenciesCommand(),
			invoiceCommands(),
			// NATS outcome streaming commands
			{
				Name:  "nats",
				Usage: "NATS outcome streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "coinwatch server URL",
				EnvVars: []string{"COINWATCH_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
