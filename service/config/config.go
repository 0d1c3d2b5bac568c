package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/comchain/service/activation"
	"github.com/brojonat/comchain/service/amount"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Ledger configuration
	LedgerRPCURL   string
	CurrencySymbol string
	PageSize       int

	// Administrative backend configuration
	BackendURL   string
	BackendToken string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	SyncInterval      time.Duration

	// Validation configuration
	AdminTypeCodes         []int
	ActiveStatus           int
	WalletAccountType      int
	WalletLimitMin         *big.Int
	WalletLimitMax         *big.Int
	CreditAccountType      int
	CreditLimitMin         *big.Int
	ActivationPollInterval time.Duration
	ActivationDeadline     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Ledger configuration
	cfg.LedgerRPCURL = os.Getenv("LEDGER_RPC_URL")
	if cfg.LedgerRPCURL == "" {
		errs = append(errs, fmt.Errorf("LEDGER_RPC_URL is required"))
	}
	cfg.CurrencySymbol = getEnvOrDefault("CURRENCY_SYMBOL", "CUR")

	pageSize, err := parseInt("PAGE_SIZE", 30)
	if err != nil {
		errs = append(errs, err)
	} else if pageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", pageSize))
	} else {
		cfg.PageSize = pageSize
	}

	// Administrative backend configuration
	cfg.BackendURL = os.Getenv("BACKEND_URL")
	if cfg.BackendURL == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL is required"))
	}
	cfg.BackendToken = os.Getenv("BACKEND_TOKEN")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "comchain-ledger-sync")

	syncInterval, err := parseDuration("SYNC_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SyncInterval = syncInterval
	}

	// Validation configuration
	adminCodes, err := parseIntList("ADMIN_TYPE_CODES", "2,3")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AdminTypeCodes = adminCodes
	}

	for _, f := range []struct {
		key string
		def int
		dst *int
	}{
		{"ACTIVE_STATUS", 1, &cfg.ActiveStatus},
		{"WALLET_ACCOUNT_TYPE", 0, &cfg.WalletAccountType},
		{"CREDIT_ACCOUNT_TYPE", 0, &cfg.CreditAccountType},
	} {
		v, err := parseInt(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
	}

	for _, f := range []struct {
		key string
		def string
		dst **big.Int
	}{
		{"WALLET_LIMIT_MIN", "0.00", &cfg.WalletLimitMin},
		{"WALLET_LIMIT_MAX", "1000.00", &cfg.WalletLimitMax},
		{"CREDIT_LIMIT_MIN", "0.00", &cfg.CreditLimitMin},
	} {
		v, err := parseAmount(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
	}

	pollInterval, err := parseDuration("ACTIVATION_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ActivationPollInterval = pollInterval
	}

	deadline, err := parseDuration("ACTIVATION_DEADLINE", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ActivationDeadline = deadline
	}

	// Validate intervals
	if cfg.ActivationPollInterval > cfg.ActivationDeadline {
		errs = append(errs, fmt.Errorf("ACTIVATION_POLL_INTERVAL (%v) cannot be greater than ACTIVATION_DEADLINE (%v)",
			cfg.ActivationPollInterval, cfg.ActivationDeadline))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.LedgerRPCURL == "" {
		errs = append(errs, fmt.Errorf("LedgerRPCURL is required"))
	}

	if c.BackendURL == "" {
		errs = append(errs, fmt.Errorf("BackendURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PageSize must be positive"))
	}

	if c.SyncInterval < time.Minute {
		errs = append(errs, fmt.Errorf("SyncInterval must be at least 1 minute"))
	}

	if err := c.ActivationParams().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ActivationParams returns the validation parameters for the coordinator.
func (c *Config) ActivationParams() activation.Params {
	return activation.Params{
		AdminTypeCodes: c.AdminTypeCodes,
		ActiveStatus:   c.ActiveStatus,
		Wallet: activation.ParamSet{
			Type:     c.WalletAccountType,
			LimitMin: c.WalletLimitMin,
			LimitMax: c.WalletLimitMax,
		},
		Credit: activation.ParamSet{
			Type:     c.CreditAccountType,
			LimitMin: c.CreditLimitMin,
		},
		PollInterval: c.ActivationPollInterval,
		Deadline:     c.ActivationDeadline,
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseIntList parses a comma separated list of integers.
func parseIntList(key, defaultValue string) ([]int, error) {
	value := getEnvOrDefault(key, defaultValue)
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q: %w", key, part, err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: at least one value is required", key)
	}
	return out, nil
}

// parseAmount parses a two-decimal amount such as "1000.00" into cents.
func parseAmount(key, defaultValue string) (*big.Int, error) {
	value := getEnvOrDefault(key, defaultValue)
	cents, err := amount.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return cents, nil
}
