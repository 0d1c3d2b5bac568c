package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/comchain/client"
	"github.com/brojonat/comchain/service/amount"
	"github.com/urfave/cli/v2"
)

func apiCommands() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "HTTP client commands for interacting with the comchain server",
		Subcommands: []*cli.Command{
			apiTransactionsCommand(),
			apiStoredCommand(),
			apiBalanceCommand(),
			apiScheduleCommand(),
			apiUnscheduleCommand(),
		},
	}
}

func getAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, &http.Client{Timeout: 2 * time.Minute}, getLogger(c)), nil
}

func apiTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "transactions",
		Usage: "Read the merged live history through the server",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "account",
				Aliases:  []string{"a"},
				Usage:    "Account to read, ADDRESS[:TYPE] (repeatable)",
				Required: true,
			},
			&cli.StringFlag{Name: "start", Usage: "Range start (RFC3339), requires --end"},
			&cli.StringFlag{Name: "end", Usage: "Range end (RFC3339, exclusive), requires --start"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of records", Value: 50},
			&cli.BoolFlag{Name: "asc", Usage: "Oldest first"},
			&cli.StringFlag{Name: "jq", Usage: "jq filter applied to the JSON output"},
		},
		Action: func(c *cli.Context) error {
			start, err := parseOptionalTime(c.String("start"))
			if err != nil {
				return err
			}
			end, err := parseOptionalTime(c.String("end"))
			if err != nil {
				return err
			}
			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}

			records, err := cl.Transactions(c.Context, client.TransactionsQuery{
				Accounts:  c.StringSlice("account"),
				Start:     start,
				End:       end,
				Limit:     c.Int("limit"),
				Ascending: c.Bool("asc"),
			})
			if err != nil {
				return fmt.Errorf("failed to read transactions: %w", err)
			}
			return outputRecords(os.Stdout, records, c.Bool("json"), c.String("jq"))
		},
	}
}

func apiStoredCommand() *cli.Command {
	return &cli.Command{
		Name:      "stored",
		Usage:     "List records stored by the sync workflow through the server",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of records", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "Records to skip"},
			&cli.StringFlag{Name: "jq", Usage: "jq filter applied to the JSON output"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}
			records, err := cl.StoredTransactions(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list stored records: %w", err)
			}
			return outputRecords(os.Stdout, records, c.Bool("json"), c.String("jq"))
		},
	}
}

func apiBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a balance through the server",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Currency leg", Required: true},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}
			balance, err := cl.Balance(c.Context, c.Args().First(), c.String("type"))
			if err != nil {
				return fmt.Errorf("failed to read balance: %w", err)
			}
			fmt.Printf("%s %s\n", amount.Encode(balance.Amount), balance.Currency)
			return nil
		},
	}
}

func apiScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Create or update a wallet sync schedule through the server",
		ArgsUsage: "<wallet-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "account",
				Aliases:  []string{"a"},
				Usage:    "Account to sync, ADDRESS[:TYPE] (repeatable)",
				Required: true,
			},
			&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Usage: "Sync interval (server default when unset)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet id")
			}
			refs, err := parseAccounts(c.StringSlice("account"))
			if err != nil {
				return err
			}
			accounts := make([]client.SyncAccount, 0, len(refs))
			for _, ref := range refs {
				accounts = append(accounts, client.SyncAccount{Address: ref.Address, Type: ref.Type})
			}

			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}
			if err := cl.ScheduleSync(c.Context, c.Args().First(), accounts, c.Duration("interval")); err != nil {
				return err
			}
			fmt.Printf("✓ Sync scheduled for wallet %s\n", c.Args().First())
			return nil
		},
	}
}

func apiUnscheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "unschedule",
		Usage:     "Delete a wallet sync schedule through the server",
		ArgsUsage: "<wallet-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet id")
			}
			cl, err := getAPIClient(c)
			if err != nil {
				return err
			}
			if err := cl.UnscheduleSync(c.Context, c.Args().First()); err != nil {
				return err
			}
			fmt.Printf("✓ Sync schedule deleted for wallet %s\n", c.Args().First())
			return nil
		},
	}
}
