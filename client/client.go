package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/ledger"
)

// Client is the HTTP client for the comchain ledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// TransactionsQuery selects a live merged feed. Accounts are "ADDRESS" or
// "ADDRESS:TYPE". Start and End are given together or not at all.
type TransactionsQuery struct {
	Accounts  []string
	Start     *time.Time
	End       *time.Time
	Limit     int
	Ascending bool
}

// Balance is an account balance in cents.
type Balance struct {
	Address  string
	Type     string
	Amount   *big.Int
	Currency string
}

// SyncAccount is one account a sync schedule tracks.
type SyncAccount struct {
	Address  string `json:"address"`
	Type     string `json:"type,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type recordsResponse struct {
	Transactions []*ledger.Record `json:"transactions"`
	Count        int              `json:"count"`
}

// Transactions reads the live merged history of the query's accounts.
func (c *Client) Transactions(ctx context.Context, q TransactionsQuery) ([]*ledger.Record, error) {
	params := url.Values{}
	for _, a := range q.Accounts {
		params.Add("account", a)
	}
	if q.Start != nil {
		params.Set("start", q.Start.UTC().Format(time.RFC3339))
	}
	if q.End != nil {
		params.Set("end", q.End.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Ascending {
		params.Set("order", "asc")
	}

	var resp recordsResponse
	if err := c.get(ctx, "/api/v1/transactions?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("live transactions fetched", "accounts", len(q.Accounts), "count", resp.Count)
	return resp.Transactions, nil
}

// StoredTransactions lists records the sync workflow has stored for an account.
func (c *Client) StoredTransactions(ctx context.Context, account string, limit, offset int) ([]*ledger.Record, error) {
	params := url.Values{}
	params.Set("account", account)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var resp recordsResponse
	if err := c.get(ctx, "/api/v1/transactions/stored?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Balance reads one currency leg's balance.
func (c *Client) Balance(ctx context.Context, address, currencyType string) (*Balance, error) {
	path := fmt.Sprintf("/api/v1/accounts/%s/balance?type=%s", url.PathEscape(address), url.QueryEscape(currencyType))

	var resp struct {
		Address  string `json:"address"`
		Type     string `json:"type"`
		Balance  string `json:"balance"`
		Currency string `json:"currency"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	cents, err := amount.Decode(resp.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance in response: %w", err)
	}
	return &Balance{
		Address:  resp.Address,
		Type:     resp.Type,
		Amount:   cents,
		Currency: resp.Currency,
	}, nil
}

// ScheduleSync creates or updates a wallet's sync schedule. A zero interval
// uses the server default.
func (c *Client) ScheduleSync(ctx context.Context, walletID string, accounts []SyncAccount, interval time.Duration) error {
	reqBody := map[string]interface{}{
		"accounts": accounts,
	}
	if interval > 0 {
		reqBody["interval"] = interval.String()
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/wallets/%s/sync-schedule", c.baseURL, url.PathEscape(walletID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("sync scheduled", "wallet_id", walletID, "accounts", len(accounts))
	return nil
}

// UnscheduleSync stops syncing a wallet.
func (c *Client) UnscheduleSync(ctx context.Context, walletID string) error {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/sync-schedule", c.baseURL, url.PathEscape(walletID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("sync unscheduled", "wallet_id", walletID)
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
