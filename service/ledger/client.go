package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/memo"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/crypto/sha3"
)

// RPC method names exposed by the ledger node.
const (
	MethodTransList          = "comchain_getTransList"
	MethodExportTransList    = "comchain_exportTransList"
	MethodMessageKey         = "comchain_getMessageKey"
	MethodAccountStatus      = "comchain_getAccountStatus"
	MethodAccountType        = "comchain_getAccountType"
	MethodBalance            = "comchain_getBalance"
	MethodTransactionInfo    = "comchain_getTransactionInfo"
	MethodTransfer           = "comchain_transfer"
	MethodSetAccountParam    = "comchain_setAccountParam"
	submissionActionTransfer = "transfer"
	submissionActionParam    = "set_account_param"
)

// RPCCaller is the subset of a JSON-RPC client the ledger needs.
// *jsonrpc client from solana-go satisfies it; tests provide fakes.
type RPCCaller interface {
	CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error
}

// Signer authorizes submissions. A decrypted keystore key implements it.
type Signer interface {
	Address() string
	Sign(digest []byte) ([]byte, error)
}

// AccountParams is an administrative account parameter change.
type AccountParams struct {
	Flag     int
	Type     int
	LimitMin *big.Int
	LimitMax *big.Int
}

// Client performs ledger reads and signed submissions over JSON-RPC.
// It never retries; callers decide what is safe to repeat.
type Client struct {
	rpc     RPCCaller
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRPCCaller dials the ledger node's JSON-RPC endpoint.
func NewRPCCaller(url string) RPCCaller {
	return jsonrpc.NewClient(url)
}

// NewClient creates a ledger client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCCaller, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:     rpcClient,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchPage reads one page of an account's history, newest first.
func (c *Client) FetchPage(ctx context.Context, address string, limit, offset int) ([]Movement, error) {
	var page []Movement
	if err := c.call(ctx, &page, MethodTransList, HexAddress(address), limit, offset); err != nil {
		return nil, fmt.Errorf("failed to fetch history page: %w", err)
	}
	c.metrics.RecordPageSize("paged", len(page))
	return page, nil
}

// FetchRange reads all of an account's history in [start, end) in one call.
func (c *Client) FetchRange(ctx context.Context, address string, start, end int64) ([]Movement, error) {
	var page []Movement
	if err := c.call(ctx, &page, MethodExportTransList, HexAddress(address), start, end); err != nil {
		return nil, fmt.Errorf("failed to export history range: %w", err)
	}
	c.metrics.RecordPageSize("ranged", len(page))
	return page, nil
}

// GetMessageKey returns the public memo key registered for an address.
func (c *Client) GetMessageKey(ctx context.Context, address string) (*MessageKey, error) {
	var key MessageKey
	if err := c.call(ctx, &key, MethodMessageKey, HexAddress(address)); err != nil {
		return nil, fmt.Errorf("failed to get message key: %w", err)
	}
	if key.Public == "" {
		return nil, fmt.Errorf("no message key registered for %s", NormalizeAddress(address))
	}
	return &key, nil
}

// GetAccountStatus returns the status code of an address.
func (c *Client) GetAccountStatus(ctx context.Context, address string) (int, error) {
	var status int
	if err := c.call(ctx, &status, MethodAccountStatus, HexAddress(address)); err != nil {
		return 0, fmt.Errorf("failed to get account status: %w", err)
	}
	return status, nil
}

// GetAccountType returns the type code of an address.
func (c *Client) GetAccountType(ctx context.Context, address string) (int, error) {
	var accountType int
	if err := c.call(ctx, &accountType, MethodAccountType, HexAddress(address)); err != nil {
		return 0, fmt.Errorf("failed to get account type: %w", err)
	}
	return accountType, nil
}

// GetBalance returns the balance in cents held by an address for one
// currency leg.
func (c *Client) GetBalance(ctx context.Context, address, currencyType string) (*big.Int, error) {
	var raw json.Number
	if err := c.call(ctx, &raw, MethodBalance, HexAddress(address), currencyType); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	cents, err := parseCents(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return cents, nil
}

// GetTransactionInfo returns the confirmed movement for a transaction id.
func (c *Client) GetTransactionInfo(ctx context.Context, txID string) (*Movement, error) {
	var mv Movement
	if err := c.call(ctx, &mv, MethodTransactionInfo, txID); err != nil {
		return nil, fmt.Errorf("failed to get transaction info: %w", err)
	}
	return &mv, nil
}

// submission is the payload signed by the sender. Its JSON encoding is
// hashed with Keccak-256 and the digest signed.
type submission struct {
	Action      string `json:"action"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount,omitempty"`
	MemoFrom    string `json:"memo_from,omitempty"`
	MemoTo      string `json:"memo_to,omitempty"`
	Flag        *int   `json:"flag,omitempty"`
	AccountType *int   `json:"account_type,omitempty"`
	LimitMin    string `json:"limit_min,omitempty"`
	LimitMax    string `json:"limit_max,omitempty"`
	Nonce       int64  `json:"nonce"`
}

// SubmitTransfer signs and submits a transfer and returns the transaction
// id reported by the ledger. Remote refusals come back as *RemoteError.
func (c *Client) SubmitTransfer(ctx context.Context, signer Signer, dest string, cents *big.Int, note memo.Ciphered) (string, error) {
	payload := submission{
		Action:   submissionActionTransfer,
		From:     HexAddress(signer.Address()),
		To:       HexAddress(dest),
		Amount:   cents.String(),
		MemoFrom: note.From,
		MemoTo:   note.To,
		Nonce:    c.now().UnixNano(),
	}
	params, err := signSubmission(signer, payload)
	if err != nil {
		return "", err
	}

	var txID string
	if err := c.call(ctx, &txID, MethodTransfer, params...); err != nil {
		return "", fmt.Errorf("failed to submit transfer: %w", err)
	}

	c.logger.InfoContext(ctx, "transfer submitted",
		"from", NormalizeAddress(signer.Address()),
		"to", NormalizeAddress(dest),
		"amount", amount.Encode(cents),
		"tx_id", txID,
	)
	return txID, nil
}

// SubmitAccountParam signs and submits an administrative parameter change
// for dest.
func (c *Client) SubmitAccountParam(ctx context.Context, signer Signer, dest string, p AccountParams) error {
	payload := submission{
		Action:      submissionActionParam,
		From:        HexAddress(signer.Address()),
		To:          HexAddress(dest),
		Flag:        &p.Flag,
		AccountType: &p.Type,
		LimitMin:    bigString(p.LimitMin),
		LimitMax:    bigString(p.LimitMax),
		Nonce:       c.now().UnixNano(),
	}
	params, err := signSubmission(signer, payload)
	if err != nil {
		return err
	}

	var txID string
	if err := c.call(ctx, &txID, MethodSetAccountParam, params...); err != nil {
		return fmt.Errorf("failed to submit account param: %w", err)
	}

	c.logger.InfoContext(ctx, "account param submitted",
		"admin", NormalizeAddress(signer.Address()),
		"target", NormalizeAddress(dest),
		"flag", p.Flag,
		"account_type", p.Type,
		"tx_id", txID,
	)
	return nil
}

func signSubmission(signer Signer, payload submission) ([]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}
	sig, err := signer.Sign(Digest(body))
	if err != nil {
		return nil, fmt.Errorf("failed to sign submission: %w", err)
	}
	return []interface{}{string(body), "0x" + hex.EncodeToString(sig)}, nil
}

// Digest is the Keccak-256 hash signed for a submission payload.
func Digest(payload []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return h.Sum(nil)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (c *Client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	start := time.Now()
	err := c.rpc.CallForInto(ctx, out, method, params)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		c.logger.DebugContext(ctx, "ledger call failed",
			"method", method,
			"error", err,
		)
	}
	c.metrics.RecordRPCCall(method, status, duration)

	return toRemoteError(err)
}

// toRemoteError converts a JSON-RPC error object into a *RemoteError so
// that Classify can inspect it. Transport errors pass through.
func toRemoteError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	remote := &RemoteError{Code: rpcErr.Message}
	if rpcErr.Data != nil {
		remote.Detail = fmt.Sprint(rpcErr.Data)
	}
	return remote
}
