package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldErrorsAreInvalidRequests(t *testing.T) {
	for _, err := range []error{ErrInvalidUserID, ErrInvalidAmount, ErrInvalidReason, ErrInvalidLimit, ErrInvalidCursor, ErrInvalidReservation} {
		assert.ErrorIs(t, err, ErrInvalidRequest, err.Error())
		assert.True(t, IsValidationError(fmt.Errorf("deduct: %w", err)))
	}
	assert.NotErrorIs(t, ErrInvalidAmount, ErrInvalidUserID)
	assert.False(t, IsValidationError(ErrInsufficientBalance))
}

func TestLockTimeoutIsTransient(t *testing.T) {
	assert.ErrorIs(t, ErrLockTimeout, ErrStoreUnavailable)
	assert.True(t, IsTransient(ErrLockTimeout))
	assert.True(t, IsTransient(fmt.Errorf("%w: connection refused", ErrStoreUnavailable)))
	assert.False(t, IsTransient(ErrAccountNotFound))
}

func TestReasonCategories(t *testing.T) {
	assert.True(t, ParseReason(" Card-Scan ").IsSpend())
	assert.False(t, ReasonCardScan.IsCredit())
	assert.True(t, ReasonRefund.IsCredit())
	assert.False(t, Reason("teleport").IsSpend())
	assert.Equal(t, int64(3), Account{Balance: 5, Reserved: 2}.Spendable())
}
