package main

import (
	"fmt"
	"os"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/memo"
	"github.com/brojonat/comchain/service/resolver"
	"github.com/brojonat/comchain/service/stream"
	"github.com/brojonat/comchain/service/transfer"
	"github.com/urfave/cli/v2"
)

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Usage:   "Read the merged live history of one or more accounts",
		Aliases: []string{"txs"},
		Description: `Reads account histories straight from the ledger and merges them by date.

Accounts are given as ADDRESS or ADDRESS:TYPE, where TYPE is the currency leg.
Counterparties are labelled through the backend when --backend-url is set.
Memos are deciphered for the accounts of --wallet after it is unlocked.

Example:
  comchain transactions --account 0xabc...:Nant --account 0xabc...:Cm --limit 20
  comchain transactions --account 0xabc... --jq '.[] | select(.leg == "sent") | .amount'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "account",
				Aliases:  []string{"a"},
				Usage:    "Account to read, ADDRESS[:TYPE] (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "start",
				Usage: "Range start (RFC3339), requires --end",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "Range end (RFC3339, exclusive), requires --start",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records",
				Value:   50,
			},
			&cli.BoolFlag{
				Name:  "asc",
				Usage: "Oldest first (requires --start and --end)",
			},
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Wallet file used to decipher memos",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			logger := getLogger(c)

			refs, err := parseAccounts(c.StringSlice("account"))
			if err != nil {
				return err
			}
			start, err := parseOptionalTime(c.String("start"))
			if err != nil {
				return err
			}
			end, err := parseOptionalTime(c.String("end"))
			if err != nil {
				return err
			}

			ledgerClient, err := getLedger(c)
			if err != nil {
				return err
			}

			var labels stream.Resolver
			if c.String("backend-url") != "" {
				backendClient, err := getBackend(c)
				if err != nil {
					return err
				}
				labels = resolver.NewSession(backendClient, nil, logger)
			}

			var messageKey *memo.KeyPair
			var walletAddress string
			if path := c.String("wallet"); path != "" {
				unlocker, address, err := walletUnlocker(c, path)
				if err != nil {
					return err
				}
				session, err := unlocker.Unlock(ctx, terminalPrompt(os.Stderr))
				if err != nil {
					return fmt.Errorf("failed to unlock wallet: %w", err)
				}
				defer session.Close()
				messageKey = session.Key.MessageKey
				walletAddress = address
			}

			opts := stream.Options{Ascending: c.Bool("asc")}
			for _, ref := range refs {
				cfg := stream.SourceConfig{
					Account:  ref,
					Currency: c.String("currency"),
					Start:    start,
					End:      end,
				}
				if messageKey != nil && ref.Address == walletAddress {
					cfg.MessageKey = messageKey
				}
				opts.Accounts = append(opts.Accounts, cfg)
			}

			s, err := stream.Open(opts, ledgerClient, labels, nil, logger)
			if err != nil {
				return err
			}
			records, err := stream.Collect(ctx, s, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to read transactions: %w", err)
			}

			if err := outputRecords(os.Stdout, records, c.Bool("json"), c.String("jq")); err != nil {
				return err
			}
			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			}
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the balance of one currency leg of an account",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Aliases:  []string{"t"},
				Usage:    "Currency leg, e.g. Nant or Cm",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			ledgerClient, err := getLedger(c)
			if err != nil {
				return err
			}

			address := ledger.NormalizeAddress(c.Args().First())
			cents, err := ledgerClient.GetBalance(c.Context, address, c.String("type"))
			if err != nil {
				return fmt.Errorf("failed to read balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"address":  address,
					"type":     c.String("type"),
					"balance":  amount.Encode(cents),
					"currency": c.String("currency"),
				})
			}
			fmt.Printf("%s %s\n", amount.Encode(cents), c.String("currency"))
			return nil
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Send an amount from a wallet to another account",
		Description: `Unlocks the wallet, sends the amount with an optional description,
and prints the confirmed record of the sent leg.

The amount accepts up to two decimals. The description is ciphered so that
only the sender and the recipient can read it.

Example:
  comchain transfer --wallet ./wallet.json --to 0xdef... --amount 12.50 --description lunch`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Wallet file of the sender",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "to-name",
				Usage: "Recipient name shown on the record",
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount to send, e.g. 12.50",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "description",
				Aliases: []string{"d"},
				Usage:   "Description readable by both parties",
			},
		},
		Action: func(c *cli.Context) error {
			cents, err := amount.Parse(c.String("amount"))
			if err != nil {
				return err
			}

			ledgerClient, err := getLedger(c)
			if err != nil {
				return err
			}
			unlocker, _, err := walletUnlocker(c, c.String("wallet"))
			if err != nil {
				return err
			}

			executor := transfer.NewExecutor(ledgerClient, unlocker, c.String("currency"), nil, getLogger(c))
			record, err := executor.Transfer(c.Context, transfer.Recipient{
				Address: c.String("to"),
				Display: c.String("to-name"),
			}, cents, c.String("description"), terminalPrompt(os.Stderr))
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(record)
			}
			fmt.Printf("✓ Sent %s %s to %s\n", amount.Encode(amount.Neg(record.Amount)), record.Currency, counterparty(record))
			fmt.Printf("  Transaction: %s\n", record.ID)
			fmt.Printf("  Date:        %s\n", record.Date.Format(time.RFC3339))
			return nil
		},
	}
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q (want RFC3339): %w", s, err)
	}
	return &t, nil
}
