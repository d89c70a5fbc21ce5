package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/coinwatch/client"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Get the balance of an address",
		ArgsUsage: "CURRENCY ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("currency and address are required")
			}

			cl := newCLIClient(c)
			balance, err := cl.GetBalance(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(balance, "", "  ")
				fmt.Println(string(data))
			} else {
				if balance.AmountHuman != "" {
					fmt.Printf("%s %s\n", balance.AmountHuman, balance.Currency)
				} else {
					fmt.Printf("%d %s (base units)\n", balance.Amount, balance.Currency)
				}
			}
			return nil
		},
	}
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:      "price",
		Usage:     "Get the current USD price of a currency",
		ArgsUsage: "SYMBOL",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("currency symbol is required")
			}

			cl := newCLIClient(c)
			price, err := cl.GetPrice(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get price: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(price, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("%s: $%.2f (as of %s)\n", price.Symbol, price.USD, price.FetchedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func currenciesCommand() *cli.Command {
	return &cli.Command{
		Name:  "currencies",
		Usage: "List the currencies the server can monitor",
		Action: func(c *cli.Context) error {
			cl := newCLIClient(c)
			currencies, err := cl.ListCurrencies(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list currencies: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(currencies, "", "  ")
				fmt.Println(string(data))
			} else {
				for _, currency := range currencies {
					fmt.Println(currency)
				}
			}
			return nil
		},
	}
}

func invoiceCommands() *cli.Command {
	return &cli.Command{
		Name:  "invoice",
		Usage: "Payment invoice commands",
		Subcommands: []*cli.Command{
			invoiceCreateCommand(),
		},
	}
}

func invoiceCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a payment invoice with a unique memo and payment URL",
		ArgsUsage: "CURRENCY ADDRESS AMOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "description",
				Aliases: []string{"d"},
				Usage:   "Human-readable invoice description",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long the invoice stays payable (default: server-side 15m)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return fmt.Errorf("currency, address, and amount are required")
			}

			var amount int64
			if _, err := fmt.Sscanf(c.Args().Get(2), "%d", &amount); err != nil {
				return fmt.Errorf("amount must be an integer in base units: %w", err)
			}

			params := client.CreateInvoiceParams{
				Currency:    c.Args().Get(0),
				Address:     c.Args().Get(1),
				Amount:      amount,
				Description: c.String("description"),
			}
			if timeout := c.Duration("timeout"); timeout > 0 {
				params.TimeoutSecs = int64(timeout.Seconds())
			}

			cl := newCLIClient(c)
			invoice, err := cl.CreateInvoice(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to create invoice: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(invoice, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				fmt.Println("Invoice Created")
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				fmt.Printf("ID:          %s\n", invoice.ID)
				fmt.Printf("Pay To:      %s\n", invoice.PayToAddress)
				fmt.Printf("Amount:      %s %s\n", invoice.AmountHuman, invoice.Currency)
				fmt.Printf("Memo:        %s\n", invoice.Memo)
				if invoice.Description != "" {
					fmt.Printf("Description: %s\n", invoice.Description)
				}
				fmt.Printf("Payment URL: %s\n", invoice.PaymentURL)
				fmt.Printf("Expires At:  %s\n", invoice.ExpiresAt.Format(time.RFC3339))
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			}
			return nil
		},
	}
}
