package unlock

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/comchain/service/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDecrypter fails a fixed number of times, then succeeds.
type scriptedDecrypter struct {
	failures  int
	passwords []string
	key       *keystore.Key
}

func (d *scriptedDecrypter) DecryptWallet(walletJSON []byte, password string) (*keystore.Key, error) {
	d.passwords = append(d.passwords, password)
	if len(d.passwords) <= d.failures {
		return nil, keystore.ErrWrongPassword
	}
	return d.key, nil
}

func TestUnlock_RetriesUntilSuccess(t *testing.T) {
	key := &keystore.Key{}
	decrypter := &scriptedDecrypter{failures: 2, key: key}
	unlocker := NewUnlocker([]byte(`{}`), "aa11", decrypter, nil, nil)

	var states []State
	passwords := []string{"one", "two", "three"}
	prompt := func(ctx context.Context, state State, accountRef string) (string, error) {
		assert.Equal(t, "aa11", accountRef)
		states = append(states, state)
		return passwords[len(states)-1], nil
	}

	session, err := unlocker.Unlock(context.Background(), prompt)
	require.NoError(t, err)

	assert.Equal(t, []State{StateFirstTry, StateFailedUnlock, StateFailedUnlock}, states)
	assert.Equal(t, passwords, decrypter.passwords)
	assert.Same(t, key, session.Key)
	assert.Equal(t, "three", session.Password)

	session.Close()
	assert.Nil(t, session.Key)
	assert.Empty(t, session.Password)
}

func TestUnlock_PromptErrorAborts(t *testing.T) {
	decrypter := &scriptedDecrypter{failures: 100}
	unlocker := NewUnlocker(nil, "aa11", decrypter, nil, nil)

	cancelled := errors.New("user cancelled")
	calls := 0
	prompt := func(ctx context.Context, state State, accountRef string) (string, error) {
		calls++
		if calls == 3 {
			return "", cancelled
		}
		return "wrong", nil
	}

	_, err := unlocker.Unlock(context.Background(), prompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, cancelled)
	assert.Len(t, decrypter.passwords, 2)
}

func TestUnlock_ContextCanceled(t *testing.T) {
	unlocker := NewUnlocker(nil, "aa11", &scriptedDecrypter{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := unlocker.Unlock(ctx, func(ctx context.Context, state State, accountRef string) (string, error) {
		t.Fatal("prompt must not be called")
		return "", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnlock_WithKeystore(t *testing.T) {
	key, err := keystore.NewKey()
	require.NoError(t, err)
	walletJSON, err := keystore.Encrypt(key, "right", keystore.LightScrypt)
	require.NoError(t, err)

	unlocker := NewUnlocker(walletJSON, key.Address(), nil, nil, nil)
	attempts := []string{"wrong", "right"}
	i := 0
	session, err := unlocker.Unlock(context.Background(), func(ctx context.Context, state State, accountRef string) (string, error) {
		p := attempts[i]
		i++
		return p, nil
	})
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, 2, i)
	assert.Equal(t, key.Address(), session.Key.Address())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "first_try", StateFirstTry.String())
	assert.Equal(t, "failed_unlock", StateFailedUnlock.String())
}
