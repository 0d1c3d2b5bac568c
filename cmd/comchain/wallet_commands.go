package main

import (
	"fmt"
	"os"

	"github.com/brojonat/comchain/service/keystore"
	"github.com/urfave/cli/v2"
)

func newWalletCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Create an encrypted wallet file",
		Description: `Generates a signing key and a memo key pair and writes them to a
password protected wallet file. The new address still has to be validated
by an administrator before it can transfer.

Example:
  comchain wallet new --out ./wallet.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Path of the wallet file to write",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing file",
			},
			&cli.BoolFlag{
				Name:  "light",
				Usage: "Use cheap key derivation (throwaway wallets only)",
			},
		},
		Action: func(c *cli.Context) error {
			path := c.String("out")
			if _, err := os.Stat(path); err == nil && !c.Bool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			password, err := newPassword(os.Stderr)
			if err != nil {
				return err
			}

			key, err := keystore.NewKey()
			if err != nil {
				return err
			}
			defer key.Zero()

			params := keystore.StandardScrypt
			if c.Bool("light") {
				params = keystore.LightScrypt
			}
			walletJSON, err := keystore.Encrypt(key, password, params)
			if err != nil {
				return fmt.Errorf("failed to encrypt wallet: %w", err)
			}
			if err := os.WriteFile(path, walletJSON, 0o600); err != nil {
				return fmt.Errorf("failed to write wallet file: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"address":     key.Address(),
					"message_key": key.MessageKey.PublicHex(),
					"path":        path,
				})
			}
			fmt.Printf("✓ Wallet written to %s\n", path)
			fmt.Printf("  Address:     %s\n", key.Address())
			fmt.Printf("  Message key: %s\n", key.MessageKey.PublicHex())
			return nil
		},
	}
}

func walletAddressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Print the address of a wallet file",
		ArgsUsage: "<wallet-file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet file")
			}
			walletJSON, err := os.ReadFile(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to read wallet file: %w", err)
			}
			address, err := keystore.Address(walletJSON)
			if err != nil {
				return err
			}
			fmt.Println(address)
			return nil
		},
	}
}
