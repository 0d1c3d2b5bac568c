package main

import (
	"fmt"
	"os"

	"github.com/brojonat/comchain/service/db"
	"github.com/urfave/cli/v2"
)

func storedTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transactions",
		Usage:     "List records stored by the sync workflow",
		Aliases:   []string{"txs"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Records to skip",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListRecords(c.Context, db.ListRecordsParams{
				Account: c.Args().First(),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
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
