package ledger

import (
	"errors"
	"fmt"
)

// Remote error codes reported by the ledger on submissions.
const (
	CodeIncompatibleAmount = "Incompatible_Amount"
	CodeAccountLocked      = "Account_Locked_Error"

	DetailInsufficientBalance = "InsufficientNantBalance"
)

var (
	// ErrInsufficientBalance means the sender cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInactiveAccount means an involved account is locked or not yet active.
	ErrInactiveAccount = errors.New("inactive account")
)

// RemoteError is a structured failure returned by the ledger.
type RemoteError struct {
	Code   string
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ledger error: %s", e.Code)
	}
	return fmt.Sprintf("ledger error: %s/%s", e.Code, e.Detail)
}

// RefusedAmountError is returned when the ledger refuses the amount for a
// reason other than an insufficient balance.
type RefusedAmountError struct {
	Reason string
}

func (e *RefusedAmountError) Error() string {
	return fmt.Sprintf("amount refused: %s", e.Reason)
}

// Classify translates a submission failure into the stable error taxonomy.
// Errors that are not a *RemoteError, or carry an unknown code, are
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var remote *RemoteError
	if !errors.As(err, &remote) {
		return err
	}

	switch remote.Code {
	case CodeIncompatibleAmount:
		if remote.Detail == DetailInsufficientBalance {
			return ErrInsufficientBalance
		}
		return &RefusedAmountError{Reason: remote.Detail}
	case CodeAccountLocked:
		return ErrInactiveAccount
	default:
		return err
	}
}
