package main

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/brojonat/comchain/service/activation"
	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/urfave/cli/v2"
)

// activationFlags mirror the service configuration so that the CLI and the
// server validate accounts the same way.
func activationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "wallet",
			Aliases:  []string{"w"},
			Usage:    "Administrator wallet file",
			Required: true,
		},
		&cli.IntSliceFlag{
			Name:    "admin-type-codes",
			Usage:   "Account types allowed to validate",
			EnvVars: []string{"ADMIN_TYPE_CODES"},
			Value:   cli.NewIntSlice(2, 3),
		},
		&cli.IntFlag{
			Name:    "active-status",
			Usage:   "Account status meaning active",
			EnvVars: []string{"ACTIVE_STATUS"},
			Value:   1,
		},
		&cli.IntFlag{
			Name:    "wallet-account-type",
			Usage:   "Account type written when validating a wallet",
			EnvVars: []string{"WALLET_ACCOUNT_TYPE"},
		},
		&cli.StringFlag{
			Name:    "wallet-limit-min",
			Usage:   "Lower balance limit written when validating a wallet",
			EnvVars: []string{"WALLET_LIMIT_MIN"},
			Value:   "0.00",
		},
		&cli.StringFlag{
			Name:    "wallet-limit-max",
			Usage:   "Upper balance limit written when validating a wallet",
			EnvVars: []string{"WALLET_LIMIT_MAX"},
			Value:   "1000.00",
		},
		&cli.IntFlag{
			Name:    "credit-account-type",
			Usage:   "Account type written when validating a credit request",
			EnvVars: []string{"CREDIT_ACCOUNT_TYPE"},
		},
		&cli.StringFlag{
			Name:    "credit-limit-min",
			Usage:   "Lower balance limit written when validating a credit request",
			EnvVars: []string{"CREDIT_LIMIT_MIN"},
			Value:   "0.00",
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Delay between activation status checks",
			EnvVars: []string{"ACTIVATION_POLL_INTERVAL"},
			Value:   2 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "deadline",
			Usage:   "How long to wait for the account to become active",
			EnvVars: []string{"ACTIVATION_DEADLINE"},
			Value:   60 * time.Second,
		},
	}
}

func activationParams(c *cli.Context) (activation.Params, error) {
	var limits [3]*big.Int
	for i, name := range []string{"wallet-limit-min", "wallet-limit-max", "credit-limit-min"} {
		v, err := amount.Decode(c.String(name))
		if err != nil {
			return activation.Params{}, fmt.Errorf("--%s: %w", name, err)
		}
		limits[i] = v
	}
	return activation.Params{
		AdminTypeCodes: c.IntSlice("admin-type-codes"),
		ActiveStatus:   c.Int("active-status"),
		Wallet: activation.ParamSet{
			Type:     c.Int("wallet-account-type"),
			LimitMin: limits[0],
			LimitMax: limits[1],
		},
		Credit: activation.ParamSet{
			Type:     c.Int("credit-account-type"),
			LimitMin: limits[2],
		},
		PollInterval: c.Duration("poll-interval"),
		Deadline:     c.Duration("deadline"),
	}, nil
}

func getCoordinator(c *cli.Context) (*activation.Coordinator, error) {
	params, err := activationParams(c)
	if err != nil {
		return nil, err
	}
	ledgerClient, err := getLedger(c)
	if err != nil {
		return nil, err
	}
	backendClient, err := getBackend(c)
	if err != nil {
		return nil, err
	}
	unlocker, caller, err := walletUnlocker(c, c.String("wallet"))
	if err != nil {
		return nil, err
	}
	return activation.NewCoordinator(ledgerClient, backendClient, unlocker, caller, params, nil, getLogger(c))
}

func validateWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate-wallet",
		Usage:     "Activate a new wallet and record it in the backend",
		ArgsUsage: "<address>",
		Flags:     activationFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			target := ledger.NormalizeAddress(c.Args().First())

			coordinator, err := getCoordinator(c)
			if err != nil {
				return err
			}
			if err := coordinator.ValidateWallet(c.Context, target, terminalPrompt(os.Stderr)); err != nil {
				return fmt.Errorf("wallet validation failed: %w", err)
			}

			fmt.Printf("✓ Wallet %s validated\n", target)
			return nil
		},
	}
}

func validateCreditCommand() *cli.Command {
	flags := append(activationFlags(),
		&cli.Int64Flag{
			Name:     "id",
			Usage:    "Backend id of the credit request",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "address",
			Usage:    "Account receiving the credit",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "Credited amount, e.g. 100.00",
			Required: true,
		},
	)
	return &cli.Command{
		Name:  "validate-credit",
		Usage: "Validate a pending credit request",
		Flags: flags,
		Action: func(c *cli.Context) error {
			cents, err := amount.Parse(c.String("amount"))
			if err != nil {
				return err
			}

			coordinator, err := getCoordinator(c)
			if err != nil {
				return err
			}
			req := activation.CreditRequest{
				ID:      c.Int64("id"),
				Address: c.String("address"),
				Amount:  cents,
			}
			if err := coordinator.ValidateCreditRequest(c.Context, req, terminalPrompt(os.Stderr)); err != nil {
				return fmt.Errorf("credit validation failed: %w", err)
			}

			fmt.Printf("✓ Credit request %d validated (%s)\n", req.ID, amount.Encode(cents))
			return nil
		},
	}
}

func creditURLCommand() *cli.Command {
	return &cli.Command{
		Name:  "credit-url",
		Usage: "Ask the backend for a payment URL crediting an account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "owner",
				Usage:    "Backend id of the account owner",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount to credit, e.g. 20.00",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			cents, err := amount.Parse(c.String("amount"))
			if err != nil {
				return err
			}
			if cents.Sign() <= 0 {
				return activation.ErrInvalidCreditAmount
			}

			backendClient, err := getBackend(c)
			if err != nil {
				return err
			}
			url, err := backendClient.CreditURL(c.Context, c.String("owner"), cents)
			if err != nil {
				return fmt.Errorf("failed to request credit url: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"url": url})
			}
			fmt.Println(url)
			return nil
		},
	}
}
