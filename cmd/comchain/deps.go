package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/comchain/service/backend"
	"github.com/brojonat/comchain/service/db"
	"github.com/brojonat/comchain/service/keystore"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/temporal"
	"github.com/brojonat/comchain/service/unlock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func getLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getLedger(c *cli.Context) (*ledger.Client, error) {
	rpcURL := c.String("ledger-rpc-url")
	if rpcURL == "" {
		return nil, fmt.Errorf("ledger-rpc-url is required (set LEDGER_RPC_URL env var or use --ledger-rpc-url)")
	}
	return ledger.NewClient(ledger.NewRPCCaller(rpcURL), nil, getLogger(c)), nil
}

func getBackend(c *cli.Context) (*backend.Client, error) {
	backendURL := c.String("backend-url")
	if backendURL == "" {
		return nil, fmt.Errorf("backend-url is required (set BACKEND_URL env var or use --backend-url)")
	}
	return backend.NewClient(backendURL, c.String("backend-token"), nil, nil, getLogger(c)), nil
}

// getStore connects to the database.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		nil,
		getLogger(c),
	)
}

// walletUnlocker reads a wallet file and returns an unlocker for it
// together with the wallet address.
func walletUnlocker(c *cli.Context, path string) (*unlock.Unlocker, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("--wallet is required")
	}
	walletJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read wallet file: %w", err)
	}
	address, err := keystore.Address(walletJSON)
	if err != nil {
		return nil, "", err
	}
	return unlock.NewUnlocker(walletJSON, address, nil, nil, getLogger(c)), address, nil
}

// parseAccount reads "ADDRESS" or "ADDRESS:TYPE".
func parseAccount(s string) (ledger.AccountRef, error) {
	addr, typ, _ := strings.Cut(strings.TrimSpace(s), ":")
	addr = ledger.NormalizeAddress(addr)
	if addr == "" {
		return ledger.AccountRef{}, fmt.Errorf("invalid account %q", s)
	}
	return ledger.AccountRef{Address: addr, Type: typ}, nil
}

func parseAccounts(values []string) ([]ledger.AccountRef, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one --account is required")
	}
	refs := make([]ledger.AccountRef, 0, len(values))
	for _, v := range values {
		ref, err := parseAccount(v)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

