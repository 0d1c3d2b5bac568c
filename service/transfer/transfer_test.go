package transfer

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/brojonat/comchain/service/keystore"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/memo"
	"github.com/brojonat/comchain/service/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetMessageKey(ctx context.Context, address string) (*ledger.MessageKey, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.MessageKey), args.Error(1)
}

func (m *MockLedger) SubmitTransfer(ctx context.Context, signer ledger.Signer, dest string, cents *big.Int, note memo.Ciphered) (string, error) {
	args := m.Called(ctx, signer, dest, cents, note)
	return args.String(0), args.Error(1)
}

func (m *MockLedger) GetTransactionInfo(ctx context.Context, txID string) (*ledger.Movement, error) {
	args := m.Called(ctx, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Movement), args.Error(1)
}

type MockUnlocker struct {
	mock.Mock
}

func (m *MockUnlocker) Unlock(ctx context.Context, prompt unlock.PromptFunc) (*unlock.Session, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*unlock.Session), args.Error(1)
}

var validTxID = "0x" + strings.Repeat("ab", 32)

type fixture struct {
	ledger    *MockLedger
	unlocker  *MockUnlocker
	executor  *Executor
	key       *keystore.Key
	recipient *memo.KeyPair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := keystore.NewKey()
	require.NoError(t, err)
	recipientKey, err := memo.GenerateKeyPair()
	require.NoError(t, err)

	l := new(MockLedger)
	u := new(MockUnlocker)
	u.On("Unlock", mock.Anything, mock.Anything).Return(&unlock.Session{Password: "pw", Key: key}, nil).Maybe()
	l.On("GetMessageKey", mock.Anything, "bb22").Return(&ledger.MessageKey{Public: recipientKey.PublicHex()}, nil).Maybe()

	return &fixture{
		ledger:    l,
		unlocker:  u,
		executor:  NewExecutor(l, u, "CUR", nil, nil),
		key:       key,
		recipient: recipientKey,
	}
}

func noPrompt(ctx context.Context, state unlock.State, accountRef string) (string, error) {
	return "pw", nil
}

func TestTransfer_AmountGuards(t *testing.T) {
	tests := []struct {
		name     string
		cents    *big.Int
		expected error
	}{
		{name: "zero", cents: big.NewInt(0), expected: ErrNullAmount},
		{name: "nil", cents: nil, expected: ErrNullAmount},
		{name: "negative", cents: big.NewInt(-5), expected: ErrNegativeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := new(MockLedger)
			u := new(MockUnlocker)
			executor := NewExecutor(l, u, "CUR", nil, nil)

			_, err := executor.Transfer(context.Background(), Recipient{Address: "bb22"}, tt.cents, "", noPrompt)
			assert.ErrorIs(t, err, tt.expected)

			u.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
			l.AssertNotCalled(t, "GetMessageKey", mock.Anything, mock.Anything)
			l.AssertNotCalled(t, "SubmitTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTransfer_Success(t *testing.T) {
	f := newFixture(t)
	var sealed memo.Ciphered
	f.ledger.On("SubmitTransfer", mock.Anything, f.key, "bb22", big.NewInt(1250), mock.AnythingOfType("memo.Ciphered")).
		Run(func(args mock.Arguments) { sealed = args.Get(4).(memo.Ciphered) }).
		Return(validTxID, nil)
	f.ledger.On("GetTransactionInfo", mock.Anything, validTxID).
		Return(&ledger.Movement{Hash: validTxID, Sent: "1250", Received: "1250", Time: 1700000000, Direction: "2"}, nil)

	senderMemoKey := *f.key.MessageKey
	record, err := f.executor.Transfer(context.Background(), Recipient{Address: "0xBB22", Display: "Bob"}, big.NewInt(1250), "lunch", noPrompt)
	require.NoError(t, err)

	assert.Equal(t, validTxID, record.ID)
	assert.Equal(t, f.key.Address(), record.Account)
	assert.NotEqual(t, [32]byte{}, senderMemoKey.Private)
	assert.Equal(t, ledger.LegSent, record.Leg)
	assert.Equal(t, int64(-1250), record.Amount.Int64())
	assert.Equal(t, "CUR", record.Currency)
	assert.Equal(t, "bb22", record.CounterpartyAddress)
	assert.Equal(t, "Bob", record.CounterpartyDisplay)
	assert.Equal(t, "lunch", record.Description)
	assert.Equal(t, int64(1700000000), record.Date.Unix())

	// Both parties can read the memo.
	text, err := memo.Open(sealed.To, f.recipient)
	require.NoError(t, err)
	assert.Equal(t, "lunch", text)
	text, err = memo.Open(sealed.From, &senderMemoKey)
	require.NoError(t, err)
	assert.Equal(t, "lunch", text)

	f.ledger.AssertExpectations(t)
}

func TestTransfer_ErrorMapping(t *testing.T) {
	unrelated := &ledger.RemoteError{Code: "Weird_Error", Detail: "x"}

	tests := []struct {
		name   string
		submit error
		check  func(t *testing.T, err error)
	}{
		{
			name:   "insufficient balance",
			submit: &ledger.RemoteError{Code: ledger.CodeIncompatibleAmount, Detail: ledger.DetailInsufficientBalance},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			},
		},
		{
			name:   "refused amount",
			submit: &ledger.RemoteError{Code: ledger.CodeIncompatibleAmount, Detail: "LimitExceeded"},
			check: func(t *testing.T, err error) {
				var refused *ledger.RefusedAmountError
				require.ErrorAs(t, err, &refused)
				assert.Equal(t, "LimitExceeded", refused.Reason)
			},
		},
		{
			name:   "account locked",
			submit: &ledger.RemoteError{Code: ledger.CodeAccountLocked},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ledger.ErrInactiveAccount)
			},
		},
		{
			name:   "unrelated code passes through",
			submit: unrelated,
			check: func(t *testing.T, err error) {
				assert.Same(t, unrelated, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.On("SubmitTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return("", tt.submit)

			_, err := f.executor.Transfer(context.Background(), Recipient{Address: "bb22"}, big.NewInt(1), "", noPrompt)
			require.Error(t, err)
			tt.check(t, err)
			f.ledger.AssertNotCalled(t, "GetTransactionInfo", mock.Anything, mock.Anything)
		})
	}
}

func TestTransfer_MalformedTransactionID(t *testing.T) {
	for _, txID := range []string{"", "0x1234", "ab" + strings.Repeat("0", 64), "0x" + strings.Repeat("g", 64)} {
		t.Run(txID, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.On("SubmitTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(txID, nil)

			_, err := f.executor.Transfer(context.Background(), Recipient{Address: "bb22"}, big.NewInt(1), "", noPrompt)
			assert.ErrorIs(t, err, ErrMalformedTransactionID)
			f.ledger.AssertNotCalled(t, "GetTransactionInfo", mock.Anything, mock.Anything)
		})
	}
}

func TestTransfer_ConfirmationMissing(t *testing.T) {
	f := newFixture(t)
	f.ledger.On("SubmitTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(validTxID, nil)
	cause := errors.New("timeout")
	f.ledger.On("GetTransactionInfo", mock.Anything, validTxID).Return(nil, cause)

	_, err := f.executor.Transfer(context.Background(), Recipient{Address: "bb22"}, big.NewInt(1), "", noPrompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentConfirmationMissing)
	assert.ErrorIs(t, err, cause)

	var missing *ConfirmationMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, validTxID, missing.TxID)
}

func TestTransfer_UnlockErrorStopsBeforeSubmit(t *testing.T) {
	l := new(MockLedger)
	u := new(MockUnlocker)
	aborted := errors.New("unlock aborted")
	u.On("Unlock", mock.Anything, mock.Anything).Return(nil, aborted)

	executor := NewExecutor(l, u, "CUR", nil, nil)
	_, err := executor.Transfer(context.Background(), Recipient{Address: "bb22"}, big.NewInt(1), "", noPrompt)
	assert.ErrorIs(t, err, aborted)
	l.AssertNotCalled(t, "SubmitTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTransfer_ZeroesSessionKey(t *testing.T) {
	f := newFixture(t)
	f.ledger.On("SubmitTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("boom"))

	_, err := f.executor.Transfer(context.Background(), Recipient{Address: "bb22"}, big.NewInt(1), "", noPrompt)
	require.Error(t, err)

	_, err = f.key.Sign(make([]byte, 32))
	assert.Error(t, err, "key must be zeroed once the transfer ends")
}
