package clock

import (
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return System{} }),
)

// Clock abstracts wall time so ledger timestamps can be pinned in tests.
type Clock interface {
	Now() time.Time
}

// System reads the real clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }
