package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	natspkg "github.com/brojonat/comchain/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams the record events of one account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to record events for an account",
		ArgsUsage: "<address>",
		Description: `Subscribe to the record events the sync worker publishes to NATS JetStream.

Events are published to the subject: ledger.{address}

Example:
  comchain events subscribe 0xabc... --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "comchain-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := natspkg.SubjectFor(c.Args().First())
			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !jsonOutput {
				fmt.Printf("📡 Subscribing to: %s\n", subject)
				fmt.Printf("\nWaiting for records... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.RecordEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					count++

					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Println(string(data))
					} else {
						fmt.Printf("─────────────────────────────────────────────────────\n")
						fmt.Printf("Record #%d\n", count)
						fmt.Printf("─────────────────────────────────────────────────────\n")
						fmt.Printf("ID:           %s (%s)\n", event.ID, event.Leg)
						fmt.Printf("Account:      %s\n", event.Account)
						fmt.Printf("Amount:       %s %s\n", event.Amount, event.Currency)
						if event.CounterpartyDisplay != "" {
							fmt.Printf("Counterparty: %s (%s)\n", event.CounterpartyDisplay, event.CounterpartyAddress)
						} else {
							fmt.Printf("Counterparty: %s\n", event.CounterpartyAddress)
						}
						fmt.Printf("Date:         %s\n", event.Date.Format(time.RFC3339))
						fmt.Printf("Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
					}
					msg.Ack()

				case <-c.Context.Done():
					if !jsonOutput {
						fmt.Printf("\n✅ Received %d records\n", count)
					}
					return nil
				}
			}
		},
	}
}

// inspectStreamCommand shows information about the JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the LEDGER JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}
			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Duplicates:   %s\n", info.Config.Duplicates)
			return nil
		},
	}
}
