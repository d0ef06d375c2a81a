package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadLedgerSettings(t *testing.T) {
	t.Setenv("LEDGER_DEFAULT_GRANT", "25")
	t.Setenv("LEDGER_LOCK_WAIT", "250ms")
	t.Setenv("LEDGER_LOCK_TTL", "not-a-duration")
	t.Setenv("LEDGER_LOCK_BACKEND", "REDIS")
	t.Setenv("LEDGER_STORE", "cassandra")

	cfg := Load()

	assert.Equal(t, int64(25), cfg.Ledger.DefaultGrant)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.LockWait)
	assert.Equal(t, 10*time.Second, cfg.Ledger.LockTTL)
	assert.Equal(t, LockRedis, cfg.Ledger.LockBackend)
	assert.Equal(t, StoreSQL, cfg.Ledger.Store)
}

func TestLoadReservationTTL(t *testing.T) {
	assert.Equal(t, DefaultReservationTTL, Load().Reconcile.ReservationTTL)

	t.Setenv("RECONCILE_RESERVATION_TTL", "2m")
	assert.Equal(t, 2*time.Minute, Load().Reconcile.ReservationTTL)

	t.Setenv("RECONCILE_RESERVATION_TTL", "-1m")
	assert.Equal(t, DefaultReservationTTL, Load().Reconcile.ReservationTTL)
}
