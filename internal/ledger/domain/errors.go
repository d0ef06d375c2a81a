package domain

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrInvalidUserID      = invalid("invalid_user_id")
	ErrInvalidAmount      = invalid("invalid_amount")
	ErrInvalidReason      = invalid("invalid_reason")
	ErrInvalidLimit       = invalid("invalid_limit")
	ErrInvalidCursor      = invalid("invalid_cursor")
	ErrInvalidReservation = invalid("invalid_reservation_id")

	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrReservationNotFound = errors.New("reservation_not_found")
	ErrReservationClosed   = errors.New("reservation_closed")

	// ErrStoreUnavailable marks transient persistence failures. Operations failing with it
	// were not applied and are safe to retry.
	ErrStoreUnavailable = errors.New("store_unavailable")
	ErrLockTimeout      = &classified{code: "lock_timeout", class: ErrStoreUnavailable}
)

// classified is a sentinel that also matches its broader class with errors.Is.
type classified struct {
	code  string
	class error
}

func (e *classified) Error() string { return e.code }

func (e *classified) Is(target error) bool { return target == e.class }

func invalid(code string) error {
	return &classified{code: code, class: ErrInvalidRequest}
}

// IsValidationError reports whether err was raised before touching the store.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
