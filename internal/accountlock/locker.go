// Package accountlock serializes balance mutations per account.
package accountlock

import (
	"context"
	"errors"
)

var ErrTimeout = errors.New("account lock wait exceeded")

// Locker grants exclusive access to a key. Lock blocks until the key is held or ctx
// is done; the returned release func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
