// Package reconcile checks every wallet against its transaction log in one batch run
// and releases reservations that were never settled.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/wowcoin/internal/clock"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reconcile",
	fx.Provide(NewJob),
)

// Summary is the outcome of one run over all accounts.
type Summary struct {
	Checked  int                      `json:"checked"`
	Failed   int                      `json:"failed"`
	Drifted  []domain.ReconcileReport `json:"drifted"`
	Expired  []domain.Reservation     `json:"expired"`
	Duration time.Duration            `json:"duration"`
}

// Consistent is true when every account was checked and none drifted.
func (s Summary) Consistent() bool {
	return s.Failed == 0 && len(s.Drifted) == 0
}

type Params struct {
	fx.In

	Ledger domain.Service
	Store  domain.Store
	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock `optional:"true"`
	Pusher Pusher      `optional:"true"`
}

type Job struct {
	ledger    domain.Service
	store     domain.Store
	pusher    Pusher
	clock     clock.Clock
	log       *zap.Logger
	batchSize int
	holdTTL   time.Duration
}

func NewJob(p Params) (*Job, error) {
	pusher := p.Pusher
	if pusher == nil {
		var err error
		if pusher, err = NewPusher(p.Cfg); err != nil {
			return nil, err
		}
	}
	c := p.Clock
	if c == nil {
		c = clock.System{}
	}
	batch := p.Cfg.Reconcile.BatchSize
	if batch <= 0 {
		batch = 200
	}
	holdTTL := p.Cfg.Reconcile.ReservationTTL
	if holdTTL <= 0 {
		holdTTL = config.DefaultReservationTTL
	}
	return &Job{
		ledger:    p.Ledger,
		store:     p.Store,
		pusher:    pusher,
		clock:     c,
		log:       p.Log.Named("reconcile"),
		batchSize: batch,
		holdTTL:   holdTTL,
	}, nil
}

// Run reconciles every account, then releases its pending reservations older than
// the reservation TTL. A failure on one account is counted and logged and the run
// moves on; only cancellation or a failing account listing stops it early. Results
// are pushed when a pusher is configured, even for a partial run.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	start := j.clock.Now()
	summary := Summary{Drifted: []domain.ReconcileReport{}, Expired: []domain.Reservation{}}

	runErr := j.each(ctx, func(userID string) {
		report, err := j.ledger.Reconcile(ctx, userID)
		if err != nil {
			summary.Failed++
			j.log.Warn("reconcile failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		summary.Checked++
		if !report.Consistent {
			summary.Drifted = append(summary.Drifted, report)
		}
		if report.Pending == 0 {
			return
		}

		expired, err := j.ledger.ExpireReservations(ctx, userID, j.holdTTL)
		summary.Expired = append(summary.Expired, expired...)
		if err != nil {
			summary.Failed++
			j.log.Warn("expiring reservations failed", zap.String("user_id", userID), zap.Error(err))
		}
	})
	summary.Duration = j.clock.Now().Sub(start)

	j.log.Info("reconcile finished",
		zap.Int("checked", summary.Checked),
		zap.Int("failed", summary.Failed),
		zap.Int("drifted", len(summary.Drifted)),
		zap.Int("expired", len(summary.Expired)),
		zap.Duration("duration", summary.Duration),
		zap.Error(runErr),
	)

	if j.pusher != nil {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := j.pusher.Push(pushCtx, j.registry(summary, runErr == nil)); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("push reconcile metrics: %w", err))
		}
	}
	return summary, runErr
}

func (j *Job) each(ctx context.Context, fn func(userID string)) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := j.store.ListAccountIDs(ctx, after, j.batchSize)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(id)
		}
		if len(ids) < j.batchSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

func (j *Job) registry(summary Summary, complete bool) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		g.Set(value)
		registry.MustRegister(g)
	}
	gauge("wowcoin_reconcile_accounts_checked", "Accounts reconciled in the last run.", float64(summary.Checked))
	gauge("wowcoin_reconcile_accounts_failed", "Accounts that could not be reconciled in the last run.", float64(summary.Failed))
	gauge("wowcoin_reconcile_accounts_drifted", "Accounts whose balance disagrees with their transactions.", float64(len(summary.Drifted)))
	gauge("wowcoin_reconcile_reservations_expired", "Pending reservations released by the last run.", float64(len(summary.Expired)))
	gauge("wowcoin_reconcile_duration_seconds", "Wall time of the last run.", summary.Duration.Seconds())
	if complete {
		gauge("wowcoin_reconcile_last_success_timestamp_seconds", "Unix time of the last complete run.", float64(j.clock.Now().Unix()))
	}

	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wowcoin_reconcile_drift_coins",
		Help: "Stored balance minus the balance implied by the transaction log.",
	}, []string{"user_id"})
	for _, report := range summary.Drifted {
		drift.WithLabelValues(report.UserID).Set(float64(report.Balance - report.InitialGrant - report.Sum))
	}
	registry.MustRegister(drift)

	return registry
}
