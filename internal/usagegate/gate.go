// Package usagegate decides whether a paid feature may run and charges for it.
package usagegate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wowcoin/internal/observability/metrics"
	"github.com/smallbiznis/wowcoin/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrFeatureNotFound = config.ErrFeatureNotFound
	ErrRateLimited     = errors.New("rate_limited")
	ErrFeatureFailed   = errors.New("feature_failed")
)

type Request struct {
	UserID      string
	FeatureKey  string
	ContactName string
	// Confirmation is the user's answer to the confirmation prompt. Nil means the
	// user has not been asked yet.
	Confirmation *bool
}

// Quote is what the confirmation prompt shows. Balance is the spendable balance,
// which leaves out coins held by pending reservations.
type Quote struct {
	Feature      string `json:"feature"`
	Balance      int64  `json:"balance"`
	Cost         int64  `json:"cost"`
	BalanceAfter int64  `json:"balance_after"`
	Affordable   bool   `json:"affordable"`
}

type Decision struct {
	State       State               `json:"state"`
	Feature     config.Feature      `json:"feature"`
	Quote       *Quote              `json:"quote,omitempty"`
	NewBalance  *int64              `json:"new_balance,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Reservation *domain.Reservation `json:"reservation,omitempty"`
	Message     string              `json:"message,omitempty"`
	RetryAfter  time.Duration       `json:"-"`
}

type Params struct {
	fx.In

	Ledger  domain.Service
	Catalog *config.FeatureCatalog
	Log     *zap.Logger
	Limiter ratelimit.FeatureLimiter `optional:"true"`
	Metrics *obsmetrics.Metrics      `optional:"true"`
}

type Gate struct {
	ledger  domain.Service
	catalog *config.FeatureCatalog
	limiter ratelimit.FeatureLimiter
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func New(p Params) *Gate {
	limiter := p.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Gate{
		ledger:  p.Ledger,
		catalog: p.Catalog,
		limiter: limiter,
		metrics: p.Metrics,
		log:     p.Log.Named("usagegate"),
	}
}

// Features lists the paid features and their prices.
func (g *Gate) Features() []config.Feature {
	return g.catalog.List()
}

// Quote reports what using a feature would cost without changing anything.
func (g *Gate) Quote(ctx context.Context, userID, featureKey string) (Quote, error) {
	feature, err := g.catalog.Lookup(featureKey)
	if err != nil {
		return Quote{}, err
	}
	return g.quote(ctx, userID, feature)
}

// RequestFeature charges for one use of a feature, asking for confirmation first when
// the feature requires it. The charge is final: a feature that fails afterwards is not
// refunded here.
func (g *Gate) RequestFeature(ctx context.Context, req Request) (Decision, error) {
	feature, userID, err := g.resolve(req)
	if err != nil {
		return Decision{}, err
	}

	inv := newInvocation()
	decision := Decision{Feature: feature}
	if proceed, err := g.confirm(ctx, inv, &decision, userID, req.Confirmation); !proceed || err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	if err := g.throttle(ctx, &decision, userID); err != nil {
		return g.finish(ctx, inv, decision, err)
	}

	inv.to(StateCharging)
	result, err := g.ledger.Deduct(ctx, domain.DeductRequest{
		UserID:      userID,
		Amount:      feature.Cost,
		Reason:      domain.Reason(feature.Reason),
		ContactName: req.ContactName,
		Metadata:    map[string]any{"feature": feature.Key},
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		inv.to(StateDenied)
		decision.Message = g.denial(ctx, userID, feature)
		return g.finish(ctx, inv, decision, nil)
	case err != nil:
		return g.finish(ctx, inv, decision, err)
	}

	inv.to(StateAllowed)
	decision.NewBalance = &result.NewBalance
	decision.Transaction = &result.Transaction
	return g.finish(ctx, inv, decision, nil)
}

// Hold reserves the cost of one feature use without charging it. The caller runs the
// feature and then settles the returned reservation with Settle. A hold that is never
// settled is released by the reconcile job once it expires.
func (g *Gate) Hold(ctx context.Context, req Request) (Decision, error) {
	feature, userID, err := g.resolve(req)
	if err != nil {
		return Decision{}, err
	}

	inv := newInvocation()
	decision := Decision{Feature: feature}
	if proceed, err := g.confirm(ctx, inv, &decision, userID, req.Confirmation); !proceed || err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	if err := g.throttle(ctx, &decision, userID); err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	_, err = g.reserve(ctx, inv, &decision, userID, req.ContactName)
	return g.finish(ctx, inv, decision, err)
}

// Settle closes a hold made by Hold. A completed feature is charged; otherwise the
// coins go back to the user.
func (g *Gate) Settle(ctx context.Context, userID string, reservationID snowflake.ID, completed bool) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, domain.ErrInvalidUserID
	}

	inv := resumeInvocation(StateHeld)
	var decision Decision
	if !completed {
		reservation, err := g.ledger.Release(ctx, userID, reservationID)
		if err != nil {
			return g.finish(ctx, inv, decision, err)
		}
		inv.to(StateReleased)
		decision.Feature = g.featureFor(reservation.Reason)
		decision.Reservation = &reservation
		decision.Message = releasedMessage(decision.Feature)
		return g.finish(ctx, inv, decision, nil)
	}

	result, err := g.ledger.Commit(ctx, userID, reservationID)
	if err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	inv.to(StateAllowed)
	decision.Feature = g.featureFor(result.Transaction.Reason)
	decision.NewBalance = &result.NewBalance
	decision.Transaction = &result.Transaction
	return g.finish(ctx, inv, decision, nil)
}

// Execute holds the feature cost, runs fn, then keeps the coins when fn succeeds and
// gives them back when it fails.
func (g *Gate) Execute(ctx context.Context, req Request, fn func(ctx context.Context) error) (Decision, error) {
	feature, userID, err := g.resolve(req)
	if err != nil {
		return Decision{}, err
	}

	inv := newInvocation()
	decision := Decision{Feature: feature}
	if proceed, err := g.confirm(ctx, inv, &decision, userID, req.Confirmation); !proceed || err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	if err := g.throttle(ctx, &decision, userID); err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	if held, err := g.reserve(ctx, inv, &decision, userID, req.ContactName); !held || err != nil {
		return g.finish(ctx, inv, decision, err)
	}
	reservation := *decision.Reservation

	log := logger.WithContext(ctx, g.log).With(
		zap.String("feature", feature.Key),
		zap.String("reservation_id", reservation.ID.String()),
	)

	if runErr := fn(ctx); runErr != nil {
		if _, err := g.ledger.Release(context.WithoutCancel(ctx), userID, reservation.ID); err != nil {
			log.Error("release after failed feature, hold stays pending until it expires", zap.Error(err))
		}
		inv.to(StateReleased)
		decision.Message = releasedMessage(feature)
		return g.finish(ctx, inv, decision, fmt.Errorf("%w: %w", ErrFeatureFailed, runErr))
	}

	result, err := g.ledger.Commit(context.WithoutCancel(ctx), userID, reservation.ID)
	if err != nil {
		log.Error("commit after completed feature", zap.Error(err))
		return g.finish(ctx, inv, decision, err)
	}

	inv.to(StateAllowed)
	decision.NewBalance = &result.NewBalance
	decision.Transaction = &result.Transaction
	return g.finish(ctx, inv, decision, nil)
}

// reserve runs the charging step of a two-phase invocation. held is false when the
// user cannot afford the feature.
func (g *Gate) reserve(ctx context.Context, inv *invocation, decision *Decision, userID, contactName string) (bool, error) {
	inv.to(StateCharging)
	reservation, err := g.ledger.Reserve(ctx, domain.ReserveRequest{
		UserID:      userID,
		Amount:      decision.Feature.Cost,
		Reason:      domain.Reason(decision.Feature.Reason),
		ContactName: contactName,
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		inv.to(StateDenied)
		decision.Message = g.denial(ctx, userID, decision.Feature)
		return false, nil
	case err != nil:
		return false, err
	}

	inv.to(StateHeld)
	decision.Reservation = &reservation
	return true, nil
}

func (g *Gate) featureFor(reason domain.Reason) config.Feature {
	for _, feature := range g.catalog.List() {
		if domain.Reason(feature.Reason) == reason {
			return feature
		}
	}
	return config.Feature{Reason: string(reason)}
}

func releasedMessage(feature config.Feature) string {
	name := feature.Name
	if name == "" {
		name = "The feature"
	}
	return fmt.Sprintf("%s did not complete. You were not charged.", name)
}

func (g *Gate) resolve(req Request) (config.Feature, string, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return config.Feature{}, "", domain.ErrInvalidUserID
	}
	feature, err := g.catalog.Lookup(req.FeatureKey)
	if err != nil {
		return config.Feature{}, "", err
	}
	return feature, userID, nil
}

// confirm walks the confirmation part of the flow. proceed is false when the call
// stops here, either waiting for an answer or cancelled.
func (g *Gate) confirm(ctx context.Context, inv *invocation, decision *Decision, userID string, answer *bool) (bool, error) {
	if !decision.Feature.RequiresConfirmation {
		return true, nil
	}

	inv.to(StateConfirmationPending)
	switch {
	case answer == nil:
		quote, err := g.quote(ctx, userID, decision.Feature)
		if err != nil {
			return false, err
		}
		decision.Quote = &quote
		return false, nil
	case !*answer:
		inv.to(StateCancelled)
		return false, nil
	default:
		inv.to(StateConfirmed)
		return true, nil
	}
}

func (g *Gate) throttle(ctx context.Context, decision *Decision, userID string) error {
	result, err := g.limiter.Allow(ctx, userID, decision.Feature.Key)
	if err != nil {
		g.log.Warn("feature rate limiter unavailable", zap.String("feature", decision.Feature.Key), zap.Error(err))
		return nil
	}
	if result.Allowed {
		return nil
	}
	decision.RetryAfter = result.RetryAfter
	return ErrRateLimited
}

func (g *Gate) quote(ctx context.Context, userID string, feature config.Feature) (Quote, error) {
	account, err := g.ledger.Account(ctx, userID)
	if err != nil {
		return Quote{}, err
	}
	spendable := account.Spendable()
	return Quote{
		Feature:      feature.Key,
		Balance:      spendable,
		Cost:         feature.Cost,
		BalanceAfter: spendable - feature.Cost,
		Affordable:   spendable >= feature.Cost,
	}, nil
}

func (g *Gate) denial(ctx context.Context, userID string, feature config.Feature) string {
	account, err := g.ledger.Account(ctx, userID)
	if err != nil {
		return fmt.Sprintf("Not enough WowCoins for %s. Top up your WowCoins or upgrade your plan to continue.", feature.Name)
	}
	return fmt.Sprintf(
		"%s costs %d WowCoin(s) and you have %d. Top up your WowCoins or upgrade your plan to continue.",
		feature.Name, feature.Cost, account.Spendable(),
	)
}

func (g *Gate) finish(ctx context.Context, inv *invocation, decision Decision, err error) (Decision, error) {
	if inv.err != nil {
		return Decision{}, inv.err
	}
	decision.State = inv.state

	outcome := string(inv.state)
	switch {
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case err != nil && !errors.Is(err, ErrFeatureFailed):
		outcome = "error"
	}
	g.metrics.RecordGateDecision(ctx, decision.Feature.Key, outcome)

	logger.WithContext(ctx, g.log).Debug("usage gate decision",
		zap.String("feature", decision.Feature.Key),
		zap.String("state", string(decision.State)),
		zap.Stringers("path", inv.path),
		zap.Error(err),
	)

	if err != nil && !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrFeatureFailed) {
		return Decision{}, err
	}
	return decision, err
}
