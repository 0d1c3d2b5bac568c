package activation

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/brojonat/comchain/service/backend"
	"github.com/brojonat/comchain/service/keystore"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	adminAddr  = "ad01"
	targetAddr = "ee02"
	active     = 1
	inactive   = 0
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetAccountStatus(ctx context.Context, address string) (int, error) {
	args := m.Called(ctx, address)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) GetAccountType(ctx context.Context, address string) (int, error) {
	args := m.Called(ctx, address)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) SubmitAccountParam(ctx context.Context, signer ledger.Signer, dest string, p ledger.AccountParams) error {
	args := m.Called(ctx, signer, dest, p)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, endpoint string, payload interface{}) (bool, error) {
	args := m.Called(ctx, endpoint, payload)
	return args.Bool(0), args.Error(1)
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

func testParams() Params {
	return Params{
		AdminTypeCodes: []int{2, 3},
		ActiveStatus:   active,
		Wallet:         ParamSet{Type: 0, LimitMin: big.NewInt(0), LimitMax: big.NewInt(100_000)},
		Credit:         ParamSet{Type: 1, LimitMin: big.NewInt(0)},
		PollInterval:   5 * time.Millisecond,
		Deadline:       200 * time.Millisecond,
	}
}

type fixture struct {
	ledger   *MockLedger
	notifier *MockNotifier
	unlocker *MockUnlocker
	coord    *Coordinator
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	l := new(MockLedger)
	n := new(MockNotifier)
	u := new(MockUnlocker)
	coord, err := NewCoordinator(l, n, u, "0x"+adminAddr, params, nil, nil)
	require.NoError(t, err)
	return &fixture{ledger: l, notifier: n, unlocker: u, coord: coord}
}

func (f *fixture) adminType(code int) {
	f.ledger.On("GetAccountType", mock.Anything, adminAddr).Return(code, nil)
}

func (f *fixture) session(t *testing.T) *keystore.Key {
	t.Helper()
	key, err := keystore.NewKey()
	require.NoError(t, err)
	f.unlocker.On("Unlock", mock.Anything, mock.Anything).Return(&unlock.Session{Key: key}, nil).Once()
	return key
}

func prompt(ctx context.Context, state unlock.State, accountRef string) (string, error) {
	return "pw", nil
}

func TestValidateWallet_AlreadyActiveSkipsSubmission(t *testing.T) {
	f := newFixture(t, testParams())
	f.adminType(2)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(active, nil)
	f.notifier.On("Notify", mock.Anything, backend.EndpointActivate, mock.Anything).Return(true, nil).Once()

	err := f.coord.ValidateWallet(context.Background(), "0xEE02", prompt)
	require.NoError(t, err)

	f.ledger.AssertNotCalled(t, "SubmitAccountParam", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.unlocker.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
	f.ledger.AssertNumberOfCalls(t, "GetAccountStatus", 1)
	f.notifier.AssertExpectations(t)
}

func TestValidateWallet_SubmitsAndPolls(t *testing.T) {
	params := testParams()
	f := newFixture(t, params)
	f.adminType(3)
	key := f.session(t)

	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(inactive, nil).Times(3)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(active, nil)
	f.ledger.On("SubmitAccountParam", mock.Anything, key, targetAddr, ledger.AccountParams{
		Flag:     active,
		Type:     params.Wallet.Type,
		LimitMin: params.Wallet.LimitMin,
		LimitMax: params.Wallet.LimitMax,
	}).Return(nil).Once()

	var payload map[string]interface{}
	f.notifier.On("Notify", mock.Anything, backend.EndpointActivate, mock.Anything).
		Run(func(args mock.Arguments) { payload = args.Get(2).(map[string]interface{}) }).
		Return(true, nil).Once()

	err := f.coord.ValidateWallet(context.Background(), targetAddr, prompt)
	require.NoError(t, err)

	// One precondition read, then polls until active.
	f.ledger.AssertNumberOfCalls(t, "GetAccountStatus", 4)
	f.ledger.AssertExpectations(t)
	assert.Equal(t, "0x"+targetAddr, payload["address"])
	assert.Equal(t, "1000.00", payload["limit_max"])

	_, err = key.Sign(make([]byte, 32))
	assert.Error(t, err, "session key must be zeroed")
}

func TestValidateWallet_PermissionDenied(t *testing.T) {
	f := newFixture(t, testParams())
	f.adminType(0)

	err := f.coord.ValidateWallet(context.Background(), targetAddr, prompt)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	f.ledger.AssertNotCalled(t, "GetAccountStatus", mock.Anything, mock.Anything)
	f.unlocker.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateWallet_Timeout(t *testing.T) {
	params := testParams()
	params.Deadline = 30 * time.Millisecond
	f := newFixture(t, params)
	f.adminType(2)
	f.session(t)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(inactive, nil)
	f.ledger.On("SubmitAccountParam", mock.Anything, mock.Anything, targetAddr, mock.Anything).Return(nil)

	start := time.Now()
	err := f.coord.ValidateWallet(context.Background(), targetAddr, prompt)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), params.Deadline)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateWallet_ParentCancelIsNotTimeout(t *testing.T) {
	f := newFixture(t, testParams())
	f.adminType(2)
	f.session(t)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(inactive, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.ledger.On("SubmitAccountParam", mock.Anything, mock.Anything, targetAddr, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil)

	err := f.coord.ValidateWallet(ctx, targetAddr, prompt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestValidateWallet_BackendRefused(t *testing.T) {
	f := newFixture(t, testParams())
	f.adminType(2)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(active, nil)
	f.notifier.On("Notify", mock.Anything, backend.EndpointActivate, mock.Anything).Return(false, nil)

	err := f.coord.ValidateWallet(context.Background(), targetAddr, prompt)
	assert.ErrorIs(t, err, ErrBackendRefused)
}

func TestValidateWallet_SubmitErrorIsClassified(t *testing.T) {
	f := newFixture(t, testParams())
	f.adminType(2)
	f.session(t)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(inactive, nil)
	f.ledger.On("SubmitAccountParam", mock.Anything, mock.Anything, targetAddr, mock.Anything).
		Return(&ledger.RemoteError{Code: ledger.CodeAccountLocked})

	err := f.coord.ValidateWallet(context.Background(), targetAddr, prompt)
	assert.ErrorIs(t, err, ledger.ErrInactiveAccount)
	f.ledger.AssertNumberOfCalls(t, "GetAccountStatus", 1)
}

func TestValidateCreditRequest_InactiveTarget(t *testing.T) {
	f := newFixture(t, testParams())
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(inactive, nil)

	err := f.coord.ValidateCreditRequest(context.Background(), CreditRequest{ID: 7, Address: targetAddr, Amount: big.NewInt(500)}, prompt)
	assert.ErrorIs(t, err, ledger.ErrInactiveAccount)

	f.ledger.AssertNotCalled(t, "GetAccountType", mock.Anything, mock.Anything)
	f.unlocker.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
}

func TestValidateCreditRequest_PermissionDenied(t *testing.T) {
	f := newFixture(t, testParams())
	f.adminType(0)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(active, nil)

	err := f.coord.ValidateCreditRequest(context.Background(), CreditRequest{ID: 7, Address: targetAddr, Amount: big.NewInt(500)}, prompt)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	f.unlocker.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
}

func TestValidateCreditRequest_Success(t *testing.T) {
	params := testParams()
	f := newFixture(t, params)
	f.adminType(2)
	key := f.session(t)
	f.ledger.On("GetAccountStatus", mock.Anything, targetAddr).Return(active, nil)
	f.ledger.On("SubmitAccountParam", mock.Anything, key, targetAddr, ledger.AccountParams{
		Flag:     active,
		Type:     params.Credit.Type,
		LimitMin: params.Credit.LimitMin,
		LimitMax: big.NewInt(500),
	}).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, backend.EndpointValidateCredit, map[string]interface{}{"ids": []int64{7}}).
		Return(true, nil).Once()

	err := f.coord.ValidateCreditRequest(context.Background(), CreditRequest{ID: 7, Address: targetAddr, Amount: big.NewInt(500)}, prompt)
	require.NoError(t, err)
	f.ledger.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestValidateCreditRequest_InvalidAmount(t *testing.T) {
	f := newFixture(t, testParams())

	err := f.coord.ValidateCreditRequest(context.Background(), CreditRequest{ID: 7, Address: targetAddr, Amount: big.NewInt(0)}, prompt)
	assert.ErrorIs(t, err, ErrInvalidCreditAmount)
	f.ledger.AssertNotCalled(t, "GetAccountStatus", mock.Anything, mock.Anything)
}

func TestParamsValidate(t *testing.T) {
	p := testParams()
	p.AdminTypeCodes = nil
	assert.Error(t, p.Validate())

	p = testParams()
	p.PollInterval = 0
	assert.Error(t, p.Validate())

	p = testParams()
	p.Deadline = time.Millisecond
	assert.Error(t, p.Validate())

	_, err := NewCoordinator(nil, nil, nil, adminAddr, p, nil, nil)
	assert.Error(t, err)
	assert.NoError(t, testParams().Validate())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "timeout", outcome(ErrTimeout))
	assert.Equal(t, "error", outcome(errors.New("x")))
}
