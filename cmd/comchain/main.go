package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "comchain",
		Usage: "Wallet ledger CLI",
		Description: `A command-line tool for reading and operating comchain wallets.

Use this CLI to read merged account histories, send transfers, validate accounts,
and manage the sync schedules that copy ledger history into the database.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Live ledger commands
			transactionsCommand(),
			balanceCommand(),
			transferCommand(),
			// Administrative commands
			{
				Name:  "admin",
				Usage: "Account validation and credit commands",
				Subcommands: []*cli.Command{
					validateWalletCommand(),
					validateCreditCommand(),
					creditURLCommand(),
				},
			},
			// Local wallet files
			{
				Name:  "wallet",
				Usage: "Wallet file commands",
				Subcommands: []*cli.Command{
					newWalletCommand(),
					walletAddressCommand(),
				},
			},
			// Stored history
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					storedTransactionsCommand(),
				},
			},
			// Temporal sync schedules
			{
				Name:  "sync",
				Usage: "Temporal sync schedule commands",
				Subcommands: []*cli.Command{
					scheduleSyncCommand(),
					unscheduleSyncCommand(),
					syncNowCommand(),
					listSchedulesCommand(),
				},
			},
			// NATS record events
			{
				Name:  "events",
				Usage: "NATS record event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// HTTP API commands
			apiCommands(),
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
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "ledger-rpc-url",
			Usage:   "Ledger JSON-RPC endpoint",
			EnvVars: []string{"LEDGER_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "backend-url",
			Usage:   "Administrative backend URL",
			EnvVars: []string{"BACKEND_URL"},
		},
		&cli.StringFlag{
			Name:    "backend-token",
			Usage:   "Administrative backend bearer token",
			EnvVars: []string{"BACKEND_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "currency",
			Usage:   "Currency symbol shown on records",
			EnvVars: []string{"CURRENCY_SYMBOL"},
			Value:   "CUR",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue of the sync worker",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "comchain-ledger-sync",
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "Server URL for API commands and health checks",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level for diagnostics on stderr",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "error",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
