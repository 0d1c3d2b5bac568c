// Package transfer sends value to a recipient and returns the confirmed
// ledger record.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/memo"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/brojonat/comchain/service/unlock"
)

var (
	// ErrNullAmount is returned for a zero amount.
	ErrNullAmount = errors.New("amount must not be zero")

	// ErrNegativeAmount is returned for a negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrMalformedTransactionID means the ledger accepted the transfer but
	// answered with something that is not a transaction id.
	ErrMalformedTransactionID = errors.New("malformed transaction id")

	// ErrPaymentConfirmationMissing matches *ConfirmationMissingError.
	ErrPaymentConfirmationMissing = errors.New("payment confirmation missing")
)

var txIDRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ConfirmationMissingError is returned when a transfer was submitted but
// its confirmed record could not be read back. The transfer has most
// likely gone through; submitting it again may pay twice.
type ConfirmationMissingError struct {
	TxID string
	Err  error
}

func (e *ConfirmationMissingError) Error() string {
	return fmt.Sprintf("transfer %s was submitted but its confirmation is missing: %v", e.TxID, e.Err)
}

func (e *ConfirmationMissingError) Is(target error) bool {
	return target == ErrPaymentConfirmationMissing
}

func (e *ConfirmationMissingError) Unwrap() error {
	return e.Err
}

// Ledger is the part of the ledger client a transfer needs.
type Ledger interface {
	GetMessageKey(ctx context.Context, address string) (*ledger.MessageKey, error)
	SubmitTransfer(ctx context.Context, signer ledger.Signer, dest string, cents *big.Int, note memo.Ciphered) (string, error)
	GetTransactionInfo(ctx context.Context, txID string) (*ledger.Movement, error)
}

// Unlocker hands out signing sessions.
type Unlocker interface {
	Unlock(ctx context.Context, prompt unlock.PromptFunc) (*unlock.Session, error)
}

// Recipient is the destination of a transfer. Display is shown on the
// resulting record as is.
type Recipient struct {
	Address string
	Display string
}

// Executor runs transfers from one wallet.
type Executor struct {
	ledger   Ledger
	unlocker Unlocker
	currency string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewExecutor creates a transfer executor.
func NewExecutor(l Ledger, u Unlocker, currency string, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ledger:   l,
		unlocker: u,
		currency: currency,
		metrics:  m,
		logger:   logger,
	}
}

// Transfer sends cents to recipient with an optional description.
//
// The amount is checked before anything else. Ledger refusals are mapped
// by ledger.Classify. Once the ledger has returned a transaction id, a
// failure to read the confirmation is a *ConfirmationMissingError, never a
// plain error.
func (e *Executor) Transfer(ctx context.Context, recipient Recipient, cents *big.Int, description string, prompt unlock.PromptFunc) (*ledger.Record, error) {
	if cents == nil || cents.Sign() == 0 {
		return nil, ErrNullAmount
	}
	if cents.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	dest := ledger.NormalizeAddress(recipient.Address)

	session, err := e.unlocker.Unlock(ctx, prompt)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if session.Key.MessageKey == nil {
		return nil, errors.New("wallet has no message key")
	}
	destKey, err := e.ledger.GetMessageKey(ctx, dest)
	if err != nil {
		return nil, err
	}
	destPub, err := memo.ParsePublicKey(destKey.Public)
	if err != nil {
		return nil, err
	}
	note, err := memo.Seal(description, &session.Key.MessageKey.Public, destPub)
	if err != nil {
		return nil, err
	}

	txID, err := e.ledger.SubmitTransfer(ctx, session.Key, dest, cents, note)
	if err != nil {
		classified := ledger.Classify(err)
		e.metrics.RecordTransfer(outcome(classified))
		e.logger.WarnContext(ctx, "transfer refused",
			"to", dest,
			"amount", amount.Encode(cents),
			"error", classified,
		)
		return nil, classified
	}

	if !txIDRegex.MatchString(txID) {
		e.metrics.RecordTransfer("malformed_tx_id")
		return nil, fmt.Errorf("%w: %q", ErrMalformedTransactionID, txID)
	}

	record, err := e.confirm(ctx, txID, session.Key.Address(), recipient, dest, description)
	if err != nil {
		e.metrics.RecordTransfer("confirmation_missing")
		e.logger.ErrorContext(ctx, "transfer submitted but not confirmed",
			"tx_id", txID,
			"to", dest,
			"amount", amount.Encode(cents),
			"error", err,
		)
		return nil, &ConfirmationMissingError{TxID: txID, Err: err}
	}

	e.metrics.RecordTransfer("success")
	e.logger.InfoContext(ctx, "transfer confirmed",
		"tx_id", txID,
		"to", dest,
		"amount", amount.Encode(record.Amount),
	)
	return record, nil
}

func (e *Executor) confirm(ctx context.Context, txID, sender string, recipient Recipient, dest, description string) (*ledger.Record, error) {
	mv, err := e.ledger.GetTransactionInfo(ctx, txID)
	if err != nil {
		return nil, err
	}
	sent, err := mv.SentCents()
	if err != nil {
		return nil, err
	}
	return &ledger.Record{
		ID:                  txID,
		Account:             ledger.NormalizeAddress(sender),
		Leg:                 ledger.LegSent,
		Date:                mv.Date(),
		Amount:              sent.Neg(sent),
		Currency:            e.currency,
		CounterpartyAddress: dest,
		CounterpartyDisplay: recipient.Display,
		Description:         description,
		Direction:           mv.Direction,
	}, nil
}

func outcome(err error) string {
	var refused *ledger.RefusedAmountError
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.As(err, &refused):
		return "refused_amount"
	case errors.Is(err, ledger.ErrInactiveAccount):
		return "inactive_account"
	default:
		return "error"
	}
}
