package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/comchain/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func syncAccountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "account",
			Aliases:  []string{"a"},
			Usage:    "Account to sync, ADDRESS[:TYPE] (repeatable)",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "max-records",
			Usage: "Maximum records per run (0 uses the worker default)",
		},
	}
}

func syncInput(c *cli.Context) (temporal.SyncWalletInput, error) {
	walletID := c.Args().First()
	if c.NArg() != 1 || walletID == "" {
		return temporal.SyncWalletInput{}, fmt.Errorf("requires exactly one argument: wallet id")
	}
	refs, err := parseAccounts(c.StringSlice("account"))
	if err != nil {
		return temporal.SyncWalletInput{}, err
	}
	input := temporal.SyncWalletInput{
		WalletID:   walletID,
		MaxRecords: c.Int("max-records"),
	}
	for _, ref := range refs {
		input.Accounts = append(input.Accounts, temporal.SyncAccount{
			Address:  ref.Address,
			Type:     ref.Type,
			Currency: c.String("currency"),
		})
	}
	return input, nil
}

func scheduleSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Create or update the sync schedule of a wallet",
		ArgsUsage: "<wallet-id>",
		Flags: append(syncAccountFlags(),
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Sync interval (minimum 1m)",
				EnvVars: []string{"SYNC_INTERVAL"},
				Value:   5 * time.Minute,
			},
		),
		Action: func(c *cli.Context) error {
			input, err := syncInput(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval < time.Minute {
				return fmt.Errorf("interval must be at least 1m, got %s", interval)
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.UpsertSyncSchedule(c.Context, input, interval); err != nil {
				return err
			}

			fmt.Printf("✓ Sync scheduled for wallet %s every %s\n", input.WalletID, interval)
			fmt.Printf("  Accounts:   %d\n", len(input.Accounts))
			fmt.Printf("  Task queue: %s\n", temporalClient.TaskQueue())
			return nil
		},
	}
}

func unscheduleSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "unschedule",
		Usage:     "Delete the sync schedule of a wallet",
		ArgsUsage: "<wallet-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet id")
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.DeleteSyncSchedule(c.Context, c.Args().First()); err != nil {
				return err
			}
			fmt.Printf("✓ Sync schedule deleted for wallet %s\n", c.Args().First())
			return nil
		},
	}
}

func syncNowCommand() *cli.Command {
	return &cli.Command{
		Name:      "now",
		Usage:     "Run one sync of a wallet and wait for the result",
		ArgsUsage: "<wallet-id>",
		Flags:     syncAccountFlags(),
		Action: func(c *cli.Context) error {
			input, err := syncInput(c)
			if err != nil {
				return err
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			result, err := temporalClient.SyncNow(c.Context, input)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("Run:       %s\n", result.RunID)
			fmt.Printf("Written:   %d\n", result.Written)
			fmt.Printf("Skipped:   %d\n", result.Skipped)
			fmt.Printf("Published: %d\n", result.Published)
			fmt.Printf("Synced at: %s\n", result.SyncTime.Format(time.RFC3339))
			return nil
		},
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List wallet sync schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			iter, err := temporalClient.SDKClient().ScheduleClient().List(c.Context, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET ID\tSCHEDULE ID\tPAUSED")
			count := 0
			for iter.HasNext() {
				schedule, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				walletID, ok := strings.CutPrefix(schedule.ID, temporal.ScheduleIDPrefix)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%v\n", walletID, schedule.ID, schedule.Paused)
				count++
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", count)
			return nil
		},
	}
}
