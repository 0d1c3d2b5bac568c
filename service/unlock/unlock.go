// Package unlock obtains decrypted signing material by prompting for the
// wallet password until decryption succeeds.
package unlock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/comchain/service/keystore"
	"github.com/brojonat/comchain/service/metrics"
)

// State tells the prompt why it is being asked for a password.
type State int

const (
	// StateFirstTry is the first prompt of an unlock.
	StateFirstTry State = iota
	// StateFailedUnlock follows a password that did not decrypt the wallet.
	StateFailedUnlock
)

func (s State) String() string {
	switch s {
	case StateFirstTry:
		return "first_try"
	case StateFailedUnlock:
		return "failed_unlock"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PromptFunc supplies a password. Returning an error aborts the unlock;
// that is the only way to stop retrying.
type PromptFunc func(ctx context.Context, state State, accountRef string) (string, error)

// Decrypter opens an encrypted wallet with a password.
type Decrypter interface {
	DecryptWallet(walletJSON []byte, password string) (*keystore.Key, error)
}

// Session is decrypted material owned by one operation. Close it when the
// operation ends.
type Session struct {
	Password string
	Key      *keystore.Key
}

// Close wipes the key and forgets the password.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.Key.Zero()
	s.Key = nil
	s.Password = ""
}

// Unlocker runs the password loop for one wallet. It keeps no reference to
// the material it hands out.
type Unlocker struct {
	walletJSON []byte
	accountRef string
	decrypter  Decrypter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewUnlocker creates an unlocker for walletJSON. accountRef is passed to
// the prompt so it can tell the user which wallet is being unlocked.
func NewUnlocker(walletJSON []byte, accountRef string, decrypter Decrypter, m *metrics.Metrics, logger *slog.Logger) *Unlocker {
	if decrypter == nil {
		decrypter = keystore.Decrypter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Unlocker{
		walletJSON: walletJSON,
		accountRef: accountRef,
		decrypter:  decrypter,
		metrics:    m,
		logger:     logger,
	}
}

// Unlock prompts and decrypts until a password works. Decryption failures
// are logged and re-prompted with StateFailedUnlock; there is no attempt
// limit. A prompt error or a canceled context ends the loop.
func (u *Unlocker) Unlock(ctx context.Context, prompt PromptFunc) (*Session, error) {
	state := StateFirstTry
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		password, err := prompt(ctx, state, u.accountRef)
		if err != nil {
			return nil, fmt.Errorf("unlock aborted: %w", err)
		}

		key, err := u.decrypter.DecryptWallet(u.walletJSON, password)
		if err != nil {
			u.logger.WarnContext(ctx, "failed to unlock wallet",
				"account", u.accountRef,
				"attempt", attempt,
				"error", err,
			)
			u.metrics.RecordUnlockAttempt("failure")
			state = StateFailedUnlock
			continue
		}

		u.metrics.RecordUnlockAttempt("success")
		u.logger.DebugContext(ctx, "wallet unlocked",
			"account", u.accountRef,
			"attempts", attempt,
		)
		return &Session{Password: password, Key: key}, nil
	}
}
