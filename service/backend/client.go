// Package backend is the JSON-over-HTTP client for the administrative
// backend that owns partner labels, activations and credit requests.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/metrics"
)

// Backend endpoints.
const (
	EndpointPartners       = "/comchain/partners"
	EndpointActivate       = "/comchain/activate"
	EndpointValidateCredit = "/partner/validate-credit-request"
	EndpointCredit         = "/comchain/credit"
)

// Client posts JSON payloads to the administrative backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a backend client. token may be empty.
func NewClient(baseURL, token string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// Post sends payload to endpoint and decodes the JSON response into out.
// out may be nil.
func (c *Client) Post(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend %s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

type partner struct {
	DisplayName string `json:"display_name"`
}

// LookupLabels returns display names for the given addresses in one call.
// Addresses unknown to the backend are absent from the result.
func (c *Client) LookupLabels(ctx context.Context, addresses []string) (map[string]string, error) {
	var partners map[string]partner
	err := c.Post(ctx, EndpointPartners, map[string]interface{}{"addresses": addresses}, &partners)
	c.metrics.RecordResolverBatchCall(err)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string, len(partners))
	for addr, p := range partners {
		labels[strings.TrimPrefix(strings.ToLower(addr), "0x")] = p.DisplayName
	}
	c.logger.DebugContext(ctx, "resolved partner labels",
		"requested", len(addresses),
		"resolved", len(labels),
	)
	return labels, nil
}

// Notify posts payload to endpoint and reports whether the backend
// acknowledged it. null, false, 0, "" and empty containers are not
// acknowledgements.
func (c *Client) Notify(ctx context.Context, endpoint string, payload interface{}) (bool, error) {
	var ack json.RawMessage
	err := c.Post(ctx, endpoint, payload, &ack)
	c.metrics.RecordBackendNotification(endpoint, err)
	if err != nil {
		return false, err
	}
	return truthy(ack), nil
}

// CreditURL asks the backend for a payment URL crediting amount to ownerID.
func (c *Client) CreditURL(ctx context.Context, ownerID string, cents *big.Int) (string, error) {
	payload := map[string]interface{}{
		"owner_id": ownerID,
		"amount":   json.Number(amount.Encode(cents)),
	}
	var url string
	if err := c.Post(ctx, EndpointCredit, payload, &url); err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("backend returned an empty credit url")
	}
	return url, nil
}

func truthy(raw json.RawMessage) bool {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}
