// Package activation validates new wallets and pending credit requests:
// it submits the administrative parameter change, waits for the ledger to
// report the account active, and records the result in the backend.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/backend"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/brojonat/comchain/service/unlock"
)

var (
	// ErrPermissionDenied means the caller's account type has no validation rights.
	ErrPermissionDenied = errors.New("permission denied: account cannot validate accounts")

	// ErrTimeout means the target did not become active before the deadline.
	ErrTimeout = errors.New("timed out waiting for account activation")

	// ErrBackendRefused means the ledger changed but the backend did not
	// acknowledge it.
	ErrBackendRefused = errors.New("backend refused the validation")

	// ErrInvalidCreditAmount is returned for a credit request without a positive amount.
	ErrInvalidCreditAmount = errors.New("credit amount must be positive")
)

const (
	kindWallet = "wallet"
	kindCredit = "credit"
)

// ParamSet is the account type and limits written by one kind of validation.
type ParamSet struct {
	Type     int
	LimitMin *big.Int
	LimitMax *big.Int
}

// Params configures both validation flows. Wallet and Credit are
// independent; neither is derived from the other.
type Params struct {
	AdminTypeCodes []int
	ActiveStatus   int
	Wallet         ParamSet
	Credit         ParamSet
	PollInterval   time.Duration
	Deadline       time.Duration
}

// Validate checks that Params can drive a poll loop.
func (p Params) Validate() error {
	if len(p.AdminTypeCodes) == 0 {
		return errors.New("at least one admin type code is required")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.PollInterval)
	}
	if p.Deadline < p.PollInterval {
		return fmt.Errorf("deadline %s is shorter than poll interval %s", p.Deadline, p.PollInterval)
	}
	return nil
}

// Ledger is the part of the ledger client validations need.
type Ledger interface {
	GetAccountStatus(ctx context.Context, address string) (int, error)
	GetAccountType(ctx context.Context, address string) (int, error)
	SubmitAccountParam(ctx context.Context, signer ledger.Signer, dest string, p ledger.AccountParams) error
}

// Notifier records validations in the administrative backend.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, payload interface{}) (bool, error)
}

// Unlocker hands out signing sessions.
type Unlocker interface {
	Unlock(ctx context.Context, prompt unlock.PromptFunc) (*unlock.Session, error)
}

// CreditRequest is a pending credit issuance.
type CreditRequest struct {
	ID      int64
	Address string
	Amount  *big.Int
}

// Coordinator runs validations on behalf of one administrator wallet.
type Coordinator struct {
	ledger   Ledger
	notifier Notifier
	unlocker Unlocker
	caller   string
	params   Params
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator acting as caller, the address of the
// wallet the unlocker opens.
func NewCoordinator(l Ledger, n Notifier, u Unlocker, caller string, params Params, m *metrics.Metrics, logger *slog.Logger) (*Coordinator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid activation params: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		ledger:   l,
		notifier: n,
		unlocker: u,
		caller:   ledger.NormalizeAddress(caller),
		params:   params,
		metrics:  m,
		logger:   logger,
	}, nil
}

// ValidateWallet activates target with the wallet parameter set. A target
// that is already active is not submitted again; the backend is still
// notified.
func (c *Coordinator) ValidateWallet(ctx context.Context, target string, prompt unlock.PromptFunc) error {
	target = ledger.NormalizeAddress(target)
	err := c.validateWallet(ctx, target, prompt)
	c.metrics.RecordActivation(kindWallet, outcome(err))
	return err
}

func (c *Coordinator) validateWallet(ctx context.Context, target string, prompt unlock.PromptFunc) error {
	if err := c.checkRights(ctx); err != nil {
		return err
	}

	status, err := c.ledger.GetAccountStatus(ctx, target)
	if err != nil {
		return err
	}

	if status == c.params.ActiveStatus {
		c.logger.InfoContext(ctx, "wallet already active, skipping submission",
			"target", target,
		)
	} else {
		err := c.submit(ctx, target, prompt, ledger.AccountParams{
			Flag:     c.params.ActiveStatus,
			Type:     c.params.Wallet.Type,
			LimitMin: c.params.Wallet.LimitMin,
			LimitMax: c.params.Wallet.LimitMax,
		})
		if err != nil {
			return err
		}
		if err := c.waitActive(ctx, target, kindWallet); err != nil {
			return err
		}
	}

	return c.notify(ctx, backend.EndpointActivate, target, map[string]interface{}{
		"address":      ledger.HexAddress(target),
		"account_type": c.params.Wallet.Type,
		"limit_min":    limitString(c.params.Wallet.LimitMin),
		"limit_max":    limitString(c.params.Wallet.LimitMax),
	})
}

// ValidateCreditRequest approves req: the credited account must be active
// and the caller an administrator. The credit parameter set is submitted
// with req.Amount as the upper limit.
func (c *Coordinator) ValidateCreditRequest(ctx context.Context, req CreditRequest, prompt unlock.PromptFunc) error {
	req.Address = ledger.NormalizeAddress(req.Address)
	err := c.validateCredit(ctx, req, prompt)
	c.metrics.RecordActivation(kindCredit, outcome(err))
	return err
}

func (c *Coordinator) validateCredit(ctx context.Context, req CreditRequest, prompt unlock.PromptFunc) error {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return ErrInvalidCreditAmount
	}

	status, err := c.ledger.GetAccountStatus(ctx, req.Address)
	if err != nil {
		return err
	}
	if status != c.params.ActiveStatus {
		return fmt.Errorf("cannot credit %s: %w", req.Address, ledger.ErrInactiveAccount)
	}
	if err := c.checkRights(ctx); err != nil {
		return err
	}

	err = c.submit(ctx, req.Address, prompt, ledger.AccountParams{
		Flag:     c.params.ActiveStatus,
		Type:     c.params.Credit.Type,
		LimitMin: c.params.Credit.LimitMin,
		LimitMax: req.Amount,
	})
	if err != nil {
		return err
	}
	if err := c.waitActive(ctx, req.Address, kindCredit); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "credit request confirmed on ledger",
		"credit_id", req.ID,
		"address", req.Address,
		"amount", amount.Encode(req.Amount),
	)
	return c.notify(ctx, backend.EndpointValidateCredit, req.Address, map[string]interface{}{
		"ids": []int64{req.ID},
	})
}

func (c *Coordinator) checkRights(ctx context.Context) error {
	accountType, err := c.ledger.GetAccountType(ctx, c.caller)
	if err != nil {
		return err
	}
	if !slices.Contains(c.params.AdminTypeCodes, accountType) {
		c.logger.WarnContext(ctx, "validation rights denied",
			"caller", c.caller,
			"account_type", accountType,
		)
		return ErrPermissionDenied
	}
	return nil
}

func (c *Coordinator) submit(ctx context.Context, target string, prompt unlock.PromptFunc, p ledger.AccountParams) error {
	session, err := c.unlocker.Unlock(ctx, prompt)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := c.ledger.SubmitAccountParam(ctx, session.Key, target, p); err != nil {
		return ledger.Classify(err)
	}
	return nil
}

// waitActive polls the target's status every PollInterval until it is
// active or Deadline has passed.
func (c *Coordinator) waitActive(ctx context.Context, target, kind string) error {
	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, c.params.Deadline)
	defer cancel()

	ticker := time.NewTicker(c.params.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		status, err := c.ledger.GetAccountStatus(pollCtx, target)
		if err == nil && status == c.params.ActiveStatus {
			c.metrics.RecordActivationPoll(kind, "active", time.Since(start).Seconds())
			c.logger.InfoContext(ctx, "account active",
				"kind", kind,
				"target", target,
				"attempts", attempt,
			)
			return nil
		}
		if err != nil && pollCtx.Err() == nil {
			return err
		}

		select {
		case <-pollCtx.Done():
		case <-ticker.C:
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.metrics.RecordActivationPoll(kind, "timeout", time.Since(start).Seconds())
		c.logger.ErrorContext(ctx, "account did not become active in time",
			"kind", kind,
			"target", target,
			"deadline", c.params.Deadline,
			"attempts", attempt,
		)
		return fmt.Errorf("%w: %s not active after %s", ErrTimeout, target, c.params.Deadline)
	}
}

func (c *Coordinator) notify(ctx context.Context, endpoint, target string, payload interface{}) error {
	ok, err := c.notifier.Notify(ctx, endpoint, payload)
	if err != nil {
		return fmt.Errorf("failed to notify backend: %w", err)
	}
	if !ok {
		c.logger.ErrorContext(ctx, "backend refused validation",
			"endpoint", endpoint,
			"target", target,
		)
		return fmt.Errorf("%w: %s for %s", ErrBackendRefused, endpoint, target)
	}
	return nil
}

func limitString(v *big.Int) string {
	return amount.Encode(v)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ledger.ErrInactiveAccount):
		return "inactive_account"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrBackendRefused):
		return "backend_refused"
	default:
		return "error"
	}
}
