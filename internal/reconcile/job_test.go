package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/wowcoin/internal/accountlock"
	"github.com/smallbiznis/wowcoin/internal/clock"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/ledger/repository"
	"github.com/smallbiznis/wowcoin/internal/ledger/service"
	"github.com/smallbiznis/wowcoin/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPusher struct {
	registry *prometheus.Registry
	err      error
}

func (p *recordingPusher) Push(_ context.Context, registry *prometheus.Registry) error {
	p.registry = registry
	return p.err
}

type fixture struct {
	conn   *gorm.DB
	ledger domain.Service
	job    *Job
	pusher *recordingPusher
	clock  *clock.FakeClock
}

func newFixture(t *testing.T, batchSize int) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.Reconcile.BatchSize = batchSize
	store := repository.Provide(conn)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	ledger := service.NewService(service.Params{
		Store:  store,
		Locker: accountlock.NewLocal(),
		Log:    zap.NewNop(),
		GenID:  node,
		Cfg:    cfg,
		Clock:  fake,
	})
	pusher := &recordingPusher{}
	job, err := NewJob(Params{Ledger: ledger, Store: store, Cfg: cfg, Log: zap.NewNop(), Clock: fake, Pusher: pusher})
	require.NoError(t, err)

	return fixture{conn: conn, ledger: ledger, job: job, pusher: pusher, clock: fake}
}

func (f fixture) open(t *testing.T, userIDs ...string) {
	t.Helper()
	for _, id := range userIDs {
		_, err := f.ledger.InitAccount(context.Background(), domain.InitAccountRequest{UserID: id})
		require.NoError(t, err)
	}
}

func TestRunReportsConsistentLedger(t *testing.T) {
	f := newFixture(t, 2)
	f.open(t, "alice", "bob", "carol", "dave", "erin")
	_, err := f.ledger.Deduct(context.Background(), domain.DeductRequest{UserID: "bob", Amount: 3, Reason: domain.ReasonExport})
	require.NoError(t, err)

	summary, err := f.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Checked)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, summary.Drifted)
	assert.True(t, summary.Consistent())

	require.NotNil(t, f.pusher.registry)
	count, err := testutil.GatherAndCount(f.pusher.registry, "wowcoin_reconcile_accounts_checked", "wowcoin_reconcile_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunFlagsDrift(t *testing.T) {
	f := newFixture(t, 10)
	f.open(t, "alice", "bob")
	require.NoError(t, f.conn.Exec("UPDATE wow_accounts SET balance = balance + 5 WHERE user_id = ?", "bob").Error)

	summary, err := f.job.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Drifted, 1)
	assert.Equal(t, "bob", summary.Drifted[0].UserID)
	assert.False(t, summary.Consistent())

	families, err := f.pusher.registry.Gather()
	require.NoError(t, err)
	var drift float64
	for _, family := range families {
		if family.GetName() == "wowcoin_reconcile_drift_coins" {
			drift = family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(5), drift)
}

func TestRunReleasesStaleReservations(t *testing.T) {
	f := newFixture(t, 10)
	f.open(t, "alice", "bob")
	ctx := context.Background()

	stale, err := f.ledger.Reserve(ctx, domain.ReserveRequest{UserID: "alice", Amount: 2, Reason: domain.ReasonCardScan})
	require.NoError(t, err)
	f.clock.Advance(config.DefaultReservationTTL + time.Minute)
	fresh, err := f.ledger.Reserve(ctx, domain.ReserveRequest{UserID: "bob", Amount: 1, Reason: domain.ReasonExport})
	require.NoError(t, err)

	summary, err := f.job.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Consistent())
	require.Len(t, summary.Expired, 1)
	assert.Equal(t, stale.ID, summary.Expired[0].ID)

	account, err := f.ledger.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, account.Reserved)
	assert.Equal(t, int64(10), account.Spendable())

	pending, err := f.ledger.Reservations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	assert.Equal(t, float64(1), gaugeValue(t, f.pusher.registry, "wowcoin_reconcile_reservations_expired"))
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not pushed", name)
	return 0
}

func TestRunStopsOnCancellation(t *testing.T) {
	f := newFixture(t, 1)
	f.open(t, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := f.job.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Checked)
	count, gatherErr := testutil.GatherAndCount(f.pusher.registry, "wowcoin_reconcile_last_success_timestamp_seconds")
	require.NoError(t, gatherErr)
	assert.Zero(t, count)
}

func TestRunReturnsPushFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.open(t, "alice")
	f.pusher.err = errors.New("gateway down")

	summary, err := f.job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")
	assert.Equal(t, 1, summary.Checked)
}

func TestNewPusher(t *testing.T) {
	cfg := config.Defaults()

	pusher, err := NewPusher(cfg)
	require.NoError(t, err)
	assert.Nil(t, pusher)

	cfg.Reconcile.PushExporter = ExporterPushgateway
	_, err = NewPusher(cfg)
	assert.Error(t, err)

	cfg.Reconcile.PushEndpoint = "http://pushgateway:9091"
	pusher, err = NewPusher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &PushgatewayPusher{}, pusher)

	cfg.Reconcile.PushExporter = ExporterRemoteWrite
	cfg.Reconcile.PushEndpoint = "not a url"
	_, err = NewPusher(cfg)
	assert.Error(t, err)

	cfg.Reconcile.PushExporter = "statsd"
	_, err = NewPusher(cfg)
	assert.Error(t, err)
}

func sampleRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	checked := prometheus.NewGauge(prometheus.GaugeOpts{Name: "wowcoin_reconcile_accounts_checked"})
	checked.Set(4)
	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "wowcoin_reconcile_drift_coins"}, []string{"user_id"})
	drift.WithLabelValues("bob").Set(-2)
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "ignored_seconds"})
	histogram.Observe(1)
	registry.MustRegister(checked, drift, histogram)
	return registry
}

func TestRemoteWritePusher(t *testing.T) {
	var (
		auth     string
		encoding string
		written  prompb.WriteRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		encoding = r.Header.Get("Content-Encoding")
		body, _ := io.ReadAll(r.Body)
		raw, err := snappy.Decode(nil, body)
		if !assert.NoError(t, err) || !assert.NoError(t, written.Unmarshal(raw)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	pusher := NewRemoteWritePusher(srv.URL, "tok", func() time.Time { return at })
	require.NoError(t, pusher.Push(context.Background(), sampleRegistry(t)))

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "snappy", encoding)
	require.Len(t, written.Timeseries, 2)
	for _, ts := range written.Timeseries {
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, at.UnixMilli(), ts.Samples[0].Timestamp)
		assert.Equal(t, "__name__", ts.Labels[0].Name)
	}
}

func TestRemoteWritePusherSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "", time.Now).Push(context.Background(), sampleRegistry(t))
	assert.ErrorContains(t, err, "400")
}

func TestPushgatewayPusher(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "wowcoin_reconcile", map[string]string{"environment": "test", "blank": " "})
	require.NoError(t, pusher.Push(context.Background(), sampleRegistry(t)))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/wowcoin_reconcile/environment/test", path)
}
