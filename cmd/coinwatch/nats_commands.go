package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/coinwatch/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to monitor outcome events for a user.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to monitor outcome events for a user",
		ArgsUsage: "USER_ID",
		Description: `Subscribe to terminal monitor outcomes published to NATS JetStream.

Outcomes are published to the subject: monitors.{user_id}

Example:
  coinwatch nats subscribe shop-42 --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "coinwatch-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("user id is required")
			}

			return streamOutcomes(
				c.Args().Get(0),
				c.String("nats-url"),
				c.Bool("durable"),
				c.String("consumer-name"),
				c.Bool("json"),
			)
		},
	}
}

// streamOutcomes connects to NATS and streams outcome events.
func streamOutcomes(userID, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := fmt.Sprintf("monitors.%s", userID)

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for outcomes... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.OutcomeEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				printOutcomeEvent(count, &event)
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d outcome(s)\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

func printOutcomeEvent(n int, event *natspkg.OutcomeEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Outcome #%d\n", n)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("User:         %s\n", event.UserID)
	fmt.Printf("Currency:     %s\n", event.Currency)
	fmt.Printf("Address:      %s\n", event.Address)
	fmt.Printf("Status:       %s\n", event.Status)
	if event.Reason != "" {
		fmt.Printf("Reason:       %s\n", event.Reason)
	}
	if event.TxID != "" {
		fmt.Printf("Transaction:  %s\n", event.TxID)
	}
	if event.TxAmount != nil {
		fmt.Printf("Amount:       %d (base units)\n", *event.TxAmount)
	}
	if event.TxMemo != nil {
		fmt.Printf("Memo:         %s\n", *event.TxMemo)
	}
	if event.TxConfirmations != nil {
		fmt.Printf("Confirms:     %d\n", *event.TxConfirmations)
	}
	if event.FiatValue != nil {
		fmt.Printf("Fiat Value:   $%.2f\n", *event.FiatValue)
	}
	fmt.Printf("Completed:    %s\n", event.CompletedAt.Format(time.RFC3339))
	fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Printf("\n")
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the MONITOR_OUTCOMES JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  coinwatch nats inspect-stream`,
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("Stream: %s\n", info.Config.Name)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Description:  %s\n", info.Config.Description)
				fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
				fmt.Printf("Messages:     %d\n", info.State.Msgs)
				fmt.Printf("Bytes:        %d\n", info.State.Bytes)
				fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
				fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
				fmt.Printf("Consumers:    %d\n", info.State.Consumers)
				fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
				fmt.Printf("Storage:      %s\n", info.Config.Storage)
				fmt.Printf("\n")
			}

			return nil
		},
	}
}
