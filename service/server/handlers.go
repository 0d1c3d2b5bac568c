package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/db"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/brojonat/comchain/service/resolver"
	"github.com/brojonat/comchain/service/stream"
	"github.com/brojonat/comchain/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAccountsPerFeed = 16
	defaultLimit       = 100
	maxLimit           = 1000
	minSyncInterval    = time.Minute
)

var (
	validAddressRegex  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)
	validWalletIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// handleLiveTransactions returns a handler that merges the live ledger
// history of one or more accounts.
// GET /api/v1/transactions?account=ADDR[:TYPE]&account=...&start=T&end=T&limit=N&order=asc|desc
func handleLiveTransactions(l Ledger, labels resolver.LabelLookup, opts Options, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		accounts := query["account"]
		if len(accounts) == 0 {
			writeError(w, "account query parameter is required", http.StatusBadRequest)
			return
		}
		if len(accounts) > maxAccountsPerFeed {
			writeError(w, fmt.Sprintf("at most %d accounts per request", maxAccountsPerFeed), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(query.Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		start, err := parseTime(query.Get("start"))
		if err != nil {
			writeError(w, "invalid start parameter: "+err.Error(), http.StatusBadRequest)
			return
		}
		end, err := parseTime(query.Get("end"))
		if err != nil {
			writeError(w, "invalid end parameter: "+err.Error(), http.StatusBadRequest)
			return
		}

		var ascending bool
		switch query.Get("order") {
		case "", "desc":
		case "asc":
			ascending = true
		default:
			writeError(w, "order must be asc or desc", http.StatusBadRequest)
			return
		}

		configs := make([]stream.SourceConfig, 0, len(accounts))
		for _, raw := range accounts {
			ref, err := parseAccountRef(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			configs = append(configs, stream.SourceConfig{
				Account:  ref,
				Currency: opts.Currency,
				Limit:    opts.PageSize,
				Start:    start,
				End:      end,
			})
		}

		session := resolver.NewSession(labels, m, logger)
		feed, err := stream.Open(stream.Options{Accounts: configs, Ascending: ascending}, l, session, m, logger)
		if errors.Is(err, stream.ErrPartialDateRange) || errors.Is(err, stream.ErrAscendingNeedsRange) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to open record stream", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		records, err := stream.Collect(r.Context(), feed, limit)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			logger.ErrorContext(r.Context(), "failed to read ledger history",
				"accounts", accounts,
				"error", err,
			)
			writeError(w, "ledger unavailable", http.StatusBadGateway)
			return
		}

		logger.DebugContext(r.Context(), "live transactions listed",
			"accounts", len(configs),
			"count", len(records),
		)

		writeJSON(w, map[string]interface{}{
			"transactions": nonNil(records),
			"count":        len(records),
			"limit":        limit,
		}, http.StatusOK)
	})
}

// handleStoredTransactions returns a handler that lists records written by
// the sync workflow.
// GET /api/v1/transactions/stored?account=ADDR&limit=N&offset=N
func handleStoredTransactions(store RecordStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		account := query.Get("account")

		if account == "" {
			writeError(w, "account query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(account); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(query.Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		offset := 0
		if offsetStr := query.Get("offset"); offsetStr != "" {
			offset, err = strconv.Atoi(offsetStr)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if offset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
		}

		records, err := store.ListRecords(r.Context(), db.ListRecordsParams{
			Account: account,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list records", "account", account, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"transactions": nonNil(records),
			"count":        len(records),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

type balanceResponse struct {
	Address  string `json:"address"`
	Type     string `json:"type"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// handleBalance returns a handler that reads an account balance from the ledger.
// GET /api/v1/accounts/{address}/balance?type=TYPE
func handleBalance(l Ledger, opts Options, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		currencyType := r.URL.Query().Get("type")
		if currencyType == "" {
			writeError(w, "type query parameter is required", http.StatusBadRequest)
			return
		}

		cents, err := l.GetBalance(r.Context(), address, currencyType)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read balance",
				"address", address,
				"type", currencyType,
				"error", err,
			)
			writeError(w, "ledger unavailable", http.StatusBadGateway)
			return
		}

		writeJSON(w, balanceResponse{
			Address:  ledger.NormalizeAddress(address),
			Type:     currencyType,
			Balance:  amount.Encode(cents),
			Currency: opts.Currency,
		}, http.StatusOK)
	})
}

type syncScheduleRequest struct {
	Accounts   []temporal.SyncAccount `json:"accounts"`
	Interval   string                 `json:"interval,omitempty"`
	MaxRecords int                    `json:"max_records,omitempty"`
}

// handleUpsertSyncSchedule returns a handler that creates or updates a
// wallet's sync schedule.
// PUT /api/v1/wallets/{wallet_id}/sync-schedule
func handleUpsertSyncSchedule(scheduler temporal.Scheduler, opts Options, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		walletID := r.PathValue("wallet_id")
		if !validWalletIDRegex.MatchString(walletID) {
			writeError(w, "invalid wallet id", http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req syncScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if len(req.Accounts) == 0 {
			writeError(w, "at least one account is required", http.StatusBadRequest)
			return
		}
		for i := range req.Accounts {
			if err := validateAddress(req.Accounts[i].Address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			req.Accounts[i].Address = ledger.NormalizeAddress(req.Accounts[i].Address)
			if req.Accounts[i].Currency == "" {
				req.Accounts[i].Currency = opts.Currency
			}
		}

		interval := opts.SyncInterval
		if req.Interval != "" {
			parsed, err := time.ParseDuration(req.Interval)
			if err != nil {
				writeError(w, "invalid interval: "+err.Error(), http.StatusBadRequest)
				return
			}
			interval = parsed
		}
		if interval < minSyncInterval {
			writeError(w, fmt.Sprintf("interval must be at least %s", minSyncInterval), http.StatusBadRequest)
			return
		}

		input := temporal.SyncWalletInput{
			WalletID:   walletID,
			Accounts:   req.Accounts,
			MaxRecords: req.MaxRecords,
		}
		if err := scheduler.UpsertSyncSchedule(r.Context(), input, interval); err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert sync schedule", "wallet_id", walletID, "error", err)
			writeError(w, "failed to schedule sync", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "sync schedule upserted",
			"wallet_id", walletID,
			"accounts", len(req.Accounts),
			"interval", interval,
		)

		writeJSON(w, map[string]interface{}{
			"wallet_id": walletID,
			"accounts":  req.Accounts,
			"interval":  interval.String(),
		}, http.StatusOK)
	})
}

// handleDeleteSyncSchedule returns a handler that stops syncing a wallet.
// DELETE /api/v1/wallets/{wallet_id}/sync-schedule
func handleDeleteSyncSchedule(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		walletID := r.PathValue("wallet_id")
		if !validWalletIDRegex.MatchString(walletID) {
			writeError(w, "invalid wallet id", http.StatusBadRequest)
			return
		}

		if err := scheduler.DeleteSyncSchedule(r.Context(), walletID); err != nil {
			logger.ErrorContext(r.Context(), "failed to delete sync schedule", "wallet_id", walletID, "error", err)
			writeError(w, "failed to delete schedule", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress checks for a 20-byte hex address, with or without 0x.
func validateAddress(address string) error {
	if address == "" {
		return errors.New("address is required")
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address %q: expected 40 hex characters", address)
	}
	return nil
}

// parseAccountRef parses "ADDRESS" or "ADDRESS:TYPE".
func parseAccountRef(raw string) (ledger.AccountRef, error) {
	address, currencyType, _ := strings.Cut(raw, ":")
	if err := validateAddress(address); err != nil {
		return ledger.AccountRef{}, err
	}
	return ledger.AccountRef{Address: ledger.NormalizeAddress(address), Type: currencyType}, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid limit parameter: must be an integer")
	}
	if limit < 1 {
		return 0, errors.New("limit must be at least 1")
	}
	if limit > maxLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxLimit)
	}
	return limit, nil
}

// parseTime accepts RFC 3339 or unix seconds. Empty means unset.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.New("expected RFC 3339 or unix seconds")
	}
	return &t, nil
}

func nonNil(records []*ledger.Record) []*ledger.Record {
	if records == nil {
		return []*ledger.Record{}
	}
	return records
}
