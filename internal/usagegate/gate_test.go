package usagegate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ledgerMock struct {
	mock.Mock
}

func (m *ledgerMock) InitAccount(ctx context.Context, req domain.InitAccountRequest) (domain.InitAccountResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.InitAccountResponse), args.Error(1)
}

func (m *ledgerMock) Deduct(ctx context.Context, req domain.DeductRequest) (domain.MutationResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.MutationResult), args.Error(1)
}

func (m *ledgerMock) Credit(ctx context.Context, req domain.CreditRequest) (domain.MutationResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.MutationResult), args.Error(1)
}

func (m *ledgerMock) GetBalance(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ledgerMock) Account(ctx context.Context, userID string) (domain.Account, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.Account), args.Error(1)
}

func (m *ledgerMock) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.HistoryResponse), args.Error(1)
}

func (m *ledgerMock) Reserve(ctx context.Context, req domain.ReserveRequest) (domain.Reservation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Reservation), args.Error(1)
}

func (m *ledgerMock) Commit(ctx context.Context, userID string, id snowflake.ID) (domain.MutationResult, error) {
	args := m.Called(ctx, userID, id)
	return args.Get(0).(domain.MutationResult), args.Error(1)
}

func (m *ledgerMock) Release(ctx context.Context, userID string, id snowflake.ID) (domain.Reservation, error) {
	args := m.Called(ctx, userID, id)
	return args.Get(0).(domain.Reservation), args.Error(1)
}

func (m *ledgerMock) Reservations(ctx context.Context, userID string) ([]domain.Reservation, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Reservation), args.Error(1)
}

func (m *ledgerMock) ExpireReservations(ctx context.Context, userID string, olderThan time.Duration) ([]domain.Reservation, error) {
	args := m.Called(ctx, userID, olderThan)
	return args.Get(0).([]domain.Reservation), args.Error(1)
}

func (m *ledgerMock) Reconcile(ctx context.Context, userID string) (domain.ReconcileReport, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.ReconcileReport), args.Error(1)
}

type denyLimiter struct{ retryAfter time.Duration }

func (l denyLimiter) Allow(context.Context, string, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: false, RetryAfter: l.retryAfter}, nil
}

func newGate(t *testing.T, ledger *ledgerMock, limiter ratelimit.FeatureLimiter) *Gate {
	t.Helper()
	catalog, err := config.NewStaticFeatureCatalog(config.DefaultFeatures())
	require.NoError(t, err)
	return New(Params{Ledger: ledger, Catalog: catalog, Log: zap.NewNop(), Limiter: limiter})
}

func answer(v bool) *bool {
	return &v
}

func deductFor(userID string, reason domain.Reason) any {
	return mock.MatchedBy(func(req domain.DeductRequest) bool {
		return req.UserID == userID && req.Amount == 1 && req.Reason == reason
	})
}

func TestRequestFeatureWithoutConfirmationCharges(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Deduct", mock.Anything, deductFor("u1", domain.ReasonFollowUpDraft)).
		Return(domain.MutationResult{NewBalance: 9, Transaction: domain.Transaction{Amount: -1}}, nil).Once()

	decision, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "follow-up-draft"})
	require.NoError(t, err)
	assert.Equal(t, StateAllowed, decision.State)
	require.NotNil(t, decision.NewBalance)
	assert.Equal(t, int64(9), *decision.NewBalance)
	ledger.AssertExpectations(t)
}

func TestRequestFeatureAsksForConfirmationFirst(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Account", mock.Anything, "u1").Return(domain.Account{UserID: "u1", Balance: 3}, nil).Once()

	decision, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "card-scan"})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmationPending, decision.State)
	assert.False(t, decision.State.Terminal())
	require.NotNil(t, decision.Quote)
	assert.Equal(t, Quote{Feature: "card-scan", Balance: 3, Cost: 1, BalanceAfter: 2, Affordable: true}, *decision.Quote)
	ledger.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
}

func TestRequestFeatureCancelledDoesNotCharge(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)

	decision, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "export", Confirmation: answer(false)})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, decision.State)
	ledger.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
}

func TestRequestFeatureConfirmedCharges(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Deduct", mock.Anything, deductFor("u1", domain.ReasonExport)).
		Return(domain.MutationResult{NewBalance: 0}, nil).Once()

	decision, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "export", Confirmation: answer(true)})
	require.NoError(t, err)
	assert.Equal(t, StateAllowed, decision.State)
	ledger.AssertExpectations(t)
}

func TestRequestFeatureDeniedWhenBalanceTooLow(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Deduct", mock.Anything, deductFor("u1", domain.ReasonAutoEmail)).
		Return(domain.MutationResult{}, domain.ErrInsufficientBalance).Once()
	ledger.On("Account", mock.Anything, "u1").Return(domain.Account{UserID: "u1"}, nil).Once()

	decision, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "auto-email", Confirmation: answer(true)})
	require.NoError(t, err)
	assert.Equal(t, StateDenied, decision.State)
	assert.Contains(t, decision.Message, "Top up")
	assert.Contains(t, decision.Message, "upgrade")
	assert.Nil(t, decision.NewBalance)
}

func TestRequestFeaturePropagatesLedgerErrors(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Deduct", mock.Anything, mock.Anything).Return(domain.MutationResult{}, domain.ErrAccountNotFound).Once()

	_, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "intro-suggestion"})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRequestFeatureRejectsUnknownInput(t *testing.T) {
	gate := newGate(t, &ledgerMock{}, nil)

	_, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "teleport"})
	assert.ErrorIs(t, err, ErrFeatureNotFound)

	_, err = gate.RequestFeature(context.Background(), Request{UserID: " ", FeatureKey: "export"})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}

func TestRequestFeatureRateLimited(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, denyLimiter{retryAfter: 2 * time.Second})

	decision, err := gate.RequestFeature(context.Background(), Request{UserID: "u1", FeatureKey: "follow-up-draft"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2*time.Second, decision.RetryAfter)
	ledger.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
}

func TestExecuteCommitsOnSuccess(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	reservation := domain.Reservation{ID: 77, UserID: "u1", Amount: 1, Reason: domain.ReasonCardScan}
	ledger.On("Reserve", mock.Anything, mock.Anything).Return(reservation, nil).Once()
	ledger.On("Commit", mock.Anything, "u1", snowflake.ID(77)).Return(domain.MutationResult{NewBalance: 4}, nil).Once()

	ran := false
	decision, err := gate.Execute(context.Background(), Request{UserID: "u1", FeatureKey: "card-scan", Confirmation: answer(true)}, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, StateAllowed, decision.State)
	assert.Equal(t, int64(4), *decision.NewBalance)
	ledger.AssertExpectations(t)
}

func TestExecuteReleasesOnFailure(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	reservation := domain.Reservation{ID: 78, UserID: "u1", Amount: 1, Reason: domain.ReasonFollowUpDraft}
	ledger.On("Reserve", mock.Anything, mock.Anything).Return(reservation, nil).Once()
	ledger.On("Release", mock.Anything, "u1", snowflake.ID(78)).Return(reservation, nil).Once()

	boom := errors.New("model timeout")
	decision, err := gate.Execute(context.Background(), Request{UserID: "u1", FeatureKey: "follow-up-draft"}, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, ErrFeatureFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateReleased, decision.State)
	ledger.AssertExpectations(t)
	ledger.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteDeniedSkipsFeature(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Reserve", mock.Anything, mock.Anything).Return(domain.Reservation{}, domain.ErrInsufficientBalance).Once()
	ledger.On("Account", mock.Anything, "u1").Return(domain.Account{UserID: "u1"}, nil).Once()

	decision, err := gate.Execute(context.Background(), Request{UserID: "u1", FeatureKey: "follow-up-draft"}, func(context.Context) error {
		t.Fatal("feature must not run without coins")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateDenied, decision.State)
}

func TestQuoteReportsUnaffordable(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Account", mock.Anything, "u1").Return(domain.Account{UserID: "u1"}, nil).Once()

	quote, err := gate.Quote(context.Background(), "u1", "Export")
	require.NoError(t, err)
	assert.False(t, quote.Affordable)
	assert.Equal(t, int64(-1), quote.BalanceAfter)
}

func TestQuoteLeavesOutHeldCoins(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Account", mock.Anything, "u1").Return(domain.Account{UserID: "u1", Balance: 3, Reserved: 3}, nil).Once()

	quote, err := gate.Quote(context.Background(), "u1", "card-scan")
	require.NoError(t, err)
	assert.Equal(t, Quote{Feature: "card-scan", Balance: 0, Cost: 1, BalanceAfter: -1, Affordable: false}, quote)
}

func TestHoldReservesWithoutCharging(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	reservation := domain.Reservation{ID: 90, UserID: "u1", Amount: 1, Reason: domain.ReasonFollowUpDraft, Status: domain.ReservationStatusPending}
	ledger.On("Reserve", mock.Anything, mock.MatchedBy(func(req domain.ReserveRequest) bool {
		return req.UserID == "u1" && req.Amount == 1 && req.Reason == domain.ReasonFollowUpDraft && req.ContactName == "Ada"
	})).Return(reservation, nil).Once()

	decision, err := gate.Hold(context.Background(), Request{UserID: "u1", FeatureKey: "follow-up-draft", ContactName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, StateHeld, decision.State)
	require.NotNil(t, decision.Reservation)
	assert.Equal(t, snowflake.ID(90), decision.Reservation.ID)
	assert.Nil(t, decision.NewBalance)
	ledger.AssertExpectations(t)
	ledger.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
}

func TestHoldAsksForConfirmationAndDenies(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Account", mock.Anything, "u1").Return(domain.Account{UserID: "u1", Balance: 1}, nil)

	decision, err := gate.Hold(context.Background(), Request{UserID: "u1", FeatureKey: "card-scan"})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmationPending, decision.State)
	ledger.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)

	ledger.On("Reserve", mock.Anything, mock.Anything).Return(domain.Reservation{}, domain.ErrInsufficientBalance).Once()
	decision, err = gate.Hold(context.Background(), Request{UserID: "u1", FeatureKey: "card-scan", Confirmation: answer(true)})
	require.NoError(t, err)
	assert.Equal(t, StateDenied, decision.State)
	assert.Nil(t, decision.Reservation)
	assert.Contains(t, decision.Message, "Top up")
}

func TestSettleCommitsCompletedFeature(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	ledger.On("Commit", mock.Anything, "u1", snowflake.ID(91)).Return(domain.MutationResult{
		NewBalance:  8,
		Transaction: domain.Transaction{Amount: -1, Reason: domain.ReasonExport},
	}, nil).Once()

	decision, err := gate.Settle(context.Background(), " u1 ", 91, true)
	require.NoError(t, err)
	assert.Equal(t, StateAllowed, decision.State)
	assert.Equal(t, "export", decision.Feature.Key)
	require.NotNil(t, decision.NewBalance)
	assert.Equal(t, int64(8), *decision.NewBalance)
	ledger.AssertExpectations(t)
}

func TestSettleReleasesFailedFeature(t *testing.T) {
	ledger := &ledgerMock{}
	gate := newGate(t, ledger, nil)
	reservation := domain.Reservation{ID: 92, UserID: "u1", Amount: 1, Reason: domain.ReasonCardScan, Status: domain.ReservationStatusReleased}
	ledger.On("Release", mock.Anything, "u1", snowflake.ID(92)).Return(reservation, nil).Once()
	ledger.On("Release", mock.Anything, "u1", snowflake.ID(93)).Return(domain.Reservation{}, domain.ErrReservationClosed).Once()

	decision, err := gate.Settle(context.Background(), "u1", 92, false)
	require.NoError(t, err)
	assert.Equal(t, StateReleased, decision.State)
	assert.Equal(t, "card-scan", decision.Feature.Key)
	assert.Contains(t, decision.Message, "not charged")

	_, err = gate.Settle(context.Background(), "u1", 93, false)
	assert.ErrorIs(t, err, domain.ErrReservationClosed)

	_, err = gate.Settle(context.Background(), "", 92, false)
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
	ledger.AssertExpectations(t)
}

func TestInvocationRejectsIllegalTransitions(t *testing.T) {
	inv := newInvocation()
	inv.to(StateAllowed)
	assert.Error(t, inv.err)
	assert.Equal(t, StateIdle, inv.state)

	inv = newInvocation()
	inv.to(StateConfirmationPending)
	inv.to(StateConfirmed)
	inv.to(StateCharging)
	inv.to(StateDenied)
	require.NoError(t, inv.err)
	assert.Equal(t, []State{StateIdle, StateConfirmationPending, StateConfirmed, StateCharging, StateDenied}, inv.path)
	assert.True(t, inv.state.Terminal())

	inv = newInvocation()
	inv.to(StateCharging)
	inv.to(StateReleased)
	assert.Error(t, inv.err, "release needs a hold first")

	inv = resumeInvocation(StateHeld)
	assert.False(t, inv.state.Terminal())
	inv.to(StateReleased)
	require.NoError(t, inv.err)
	assert.True(t, inv.state.Terminal())
}
