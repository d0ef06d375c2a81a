package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/accountlock"
	"github.com/smallbiznis/wowcoin/internal/clock"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/cache"
	ledgerdomain "github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/ledger/events"
	obscontext "github.com/smallbiznis/wowcoin/internal/observability/context"
	"github.com/smallbiznis/wowcoin/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wowcoin/internal/observability/metrics"
	"github.com/smallbiznis/wowcoin/internal/observability/tracing"
	"github.com/smallbiznis/wowcoin/pkg/db"
	"github.com/smallbiznis/wowcoin/pkg/db/pagination"
	"github.com/smallbiznis/wowcoin/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	opInit    = "init"
	opDeduct  = "deduct"
	opCredit  = "credit"
	opReserve = "reserve"
	opCommit  = "commit"
	opRelease = "release"

	maxUserIDLength = 128
	retryBackoff    = 10 * time.Millisecond
)

type Params struct {
	fx.In

	Store   ledgerdomain.Store
	Locker  accountlock.Locker
	Log     *zap.Logger
	GenID   *snowflake.Node
	Cfg     config.Config
	Cache   cache.BalanceCache  `optional:"true"`
	Hub     *events.Hub         `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
	Clock   clock.Clock         `optional:"true"`
}

type Service struct {
	store   ledgerdomain.Store
	locker  accountlock.Locker
	log     *zap.Logger
	genID   *snowflake.Node
	cache   cache.BalanceCache
	hub     *events.Hub
	metrics *obsmetrics.Metrics
	clock   clock.Clock
	tracer  trace.Tracer

	defaultGrant int64
	historyLimit int
	lockWait     time.Duration
	maxRetries   int
}

func NewService(p Params) ledgerdomain.Service {
	balanceCache := p.Cache
	if balanceCache == nil {
		balanceCache = cache.Nop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}

	ledgerCfg := p.Cfg.Ledger
	historyLimit := ledgerCfg.HistoryLimit
	if historyLimit <= 0 || historyLimit > ledgerdomain.MaxHistoryLimit {
		historyLimit = ledgerdomain.DefaultHistoryLimit
	}
	lockWait := ledgerCfg.LockWait
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	maxRetries := ledgerCfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Service{
		store:        p.Store,
		locker:       p.Locker,
		log:          p.Log.Named("ledger.service"),
		genID:        p.GenID,
		cache:        balanceCache,
		hub:          p.Hub,
		metrics:      p.Metrics,
		clock:        clk,
		tracer:       otel.Tracer("wowcoin/ledger"),
		defaultGrant: ledgerCfg.DefaultGrant,
		historyLimit: historyLimit,
		lockWait:     lockWait,
		maxRetries:   maxRetries,
	}
}

func (s *Service) InitAccount(ctx context.Context, req ledgerdomain.InitAccountRequest) (ledgerdomain.InitAccountResponse, error) {
	ctx, span := s.startSpan(ctx, opInit)
	defer span.End()

	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return ledgerdomain.InitAccountResponse{}, err
	}
	grant := s.defaultGrant
	if req.InitialBalance != nil {
		grant = *req.InitialBalance
	}
	if grant < 0 {
		return ledgerdomain.InitAccountResponse{}, ledgerdomain.ErrInvalidAmount
	}

	release, err := s.lock(ctx, opInit, userID)
	if err != nil {
		return ledgerdomain.InitAccountResponse{}, err
	}
	defer release()

	var (
		account ledgerdomain.Account
		created bool
	)
	err = s.withRetry(ctx, func() error {
		now := s.clock.Now()
		account = ledgerdomain.Account{
			UserID:       userID,
			Balance:      grant,
			InitialGrant: grant,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		var err error
		created, err = s.store.InitAccount(ctx, &account)
		if err != nil || created {
			return err
		}

		existing, err := s.store.FindAccount(ctx, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		account = *existing
		return nil
	})
	if err != nil {
		return ledgerdomain.InitAccountResponse{}, s.storeError(ctx, span, opInit, userID, err)
	}

	if created {
		s.invalidateCached(ctx, userID)
		s.log.Info("account initialized", zap.String("user_id", userID), zap.Int64("initial_grant", grant))
		s.hub.Publish(events.BalanceChanged{
			UserID:     userID,
			Balance:    account.Balance,
			Delta:      account.Balance,
			Reason:     opInit,
			OccurredAt: account.CreatedAt,
		})
	}

	return ledgerdomain.InitAccountResponse{Account: account, Created: created}, nil
}

func (s *Service) Deduct(ctx context.Context, req ledgerdomain.DeductRequest) (ledgerdomain.MutationResult, error) {
	ctx, span := s.startSpan(ctx, opDeduct)
	defer span.End()

	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return ledgerdomain.MutationResult{}, s.rejected(ctx, opDeduct, req.Reason, err)
	}
	if req.Amount <= 0 {
		return ledgerdomain.MutationResult{}, s.rejected(ctx, opDeduct, req.Reason, ledgerdomain.ErrInvalidAmount)
	}
	reason := ledgerdomain.ParseReason(string(req.Reason))
	if !reason.IsSpend() {
		return ledgerdomain.MutationResult{}, s.rejected(ctx, opDeduct, req.Reason, ledgerdomain.ErrInvalidReason)
	}
	span.SetAttributes(attribute.String("reason", string(reason)), attribute.Int64("amount", req.Amount))

	txn := &ledgerdomain.Transaction{
		UserID:      userID,
		Amount:      -req.Amount,
		Reason:      reason,
		ContactName: strings.TrimSpace(req.ContactName),
		Metadata:    s.metadata(ctx, req.Metadata),
	}
	return s.append(ctx, span, opDeduct, txn)
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (ledgerdomain.MutationResult, error) {
	ctx, span := s.startSpan(ctx, opCredit)
	defer span.End()

	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return ledgerdomain.MutationResult{}, s.rejected(ctx, opCredit, req.Reason, err)
	}
	if req.Amount <= 0 {
		return ledgerdomain.MutationResult{}, s.rejected(ctx, opCredit, req.Reason, ledgerdomain.ErrInvalidAmount)
	}
	reason := ledgerdomain.ParseReason(string(req.Reason))
	if !reason.IsCredit() {
		return ledgerdomain.MutationResult{}, s.rejected(ctx, opCredit, req.Reason, ledgerdomain.ErrInvalidReason)
	}
	span.SetAttributes(attribute.String("reason", string(reason)), attribute.Int64("amount", req.Amount))

	txn := &ledgerdomain.Transaction{
		UserID:   userID,
		Amount:   req.Amount,
		Reason:   reason,
		Metadata: s.metadata(ctx, req.Metadata),
	}
	return s.append(ctx, span, opCredit, txn)
}

func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return 0, err
	}

	entry, cacheErr := s.cache.Get(ctx, userID)
	if cacheErr != nil {
		s.log.Warn("balance cache read failed", zap.String("user_id", userID), zap.Error(cacheErr))
	} else if entry.Hit {
		return entry.Balance, nil
	}

	account, err := s.store.FindAccount(ctx, userID)
	if err != nil {
		return 0, s.unavailable(ctx, "get_balance", userID, err)
	}
	if account == nil {
		return 0, nil
	}

	if cacheErr == nil {
		if err := s.cache.Fill(ctx, userID, account.Balance, entry.Generation); err != nil {
			s.log.Warn("balance cache fill failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return account.Balance, nil
}

func (s *Service) Account(ctx context.Context, userID string) (ledgerdomain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return ledgerdomain.Account{}, err
	}

	account, err := s.store.FindAccount(ctx, userID)
	if err != nil {
		return ledgerdomain.Account{}, s.unavailable(ctx, "account", userID, err)
	}
	if account == nil {
		return ledgerdomain.Account{UserID: userID}, nil
	}
	return *account, nil
}

func (s *Service) History(ctx context.Context, req ledgerdomain.HistoryRequest) (ledgerdomain.HistoryResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return ledgerdomain.HistoryResponse{}, err
	}

	limit := req.Limit
	switch {
	case limit < 0:
		return ledgerdomain.HistoryResponse{}, ledgerdomain.ErrInvalidLimit
	case limit == 0:
		limit = s.historyLimit
	case limit > ledgerdomain.MaxHistoryLimit:
		limit = ledgerdomain.MaxHistoryLimit
	}

	filter := ledgerdomain.ListFilter{Limit: limit + 1}
	if strings.TrimSpace(req.Before) != "" {
		before, err := decodeCursor(req.Before)
		if err != nil {
			return ledgerdomain.HistoryResponse{}, err
		}
		filter.Before = before
	}

	items, err := s.store.ListTransactions(ctx, userID, filter)
	if err != nil {
		return ledgerdomain.HistoryResponse{}, s.unavailable(ctx, "history", userID, err)
	}

	items, hasMore := pagination.Trim(items, limit)
	resp := ledgerdomain.HistoryResponse{Transactions: items}
	if resp.Transactions == nil {
		resp.Transactions = []ledgerdomain.Transaction{}
	}
	if hasMore {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: items[len(items)-1].ID.String()})
		if err != nil {
			return ledgerdomain.HistoryResponse{}, err
		}
		resp.NextCursor = token
	}
	return resp, nil
}

func (s *Service) Reserve(ctx context.Context, req ledgerdomain.ReserveRequest) (ledgerdomain.Reservation, error) {
	ctx, span := s.startSpan(ctx, opReserve)
	defer span.End()

	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return ledgerdomain.Reservation{}, err
	}
	if req.Amount <= 0 {
		return ledgerdomain.Reservation{}, ledgerdomain.ErrInvalidAmount
	}
	reason := ledgerdomain.ParseReason(string(req.Reason))
	if !reason.IsSpend() {
		return ledgerdomain.Reservation{}, ledgerdomain.ErrInvalidReason
	}

	release, err := s.lock(ctx, opReserve, userID)
	if err != nil {
		return ledgerdomain.Reservation{}, err
	}
	defer release()

	var reservation ledgerdomain.Reservation
	err = s.withRetry(ctx, func() error {
		now := s.clock.Now()
		reservation = ledgerdomain.Reservation{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Amount:      req.Amount,
			Reason:      reason,
			ContactName: strings.TrimSpace(req.ContactName),
			Status:      ledgerdomain.ReservationStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.store.CreateReservation(ctx, &reservation)
	})
	if err != nil {
		s.metrics.RecordLedgerMutation(ctx, opReserve, string(reason), outcomeOf(err), 0)
		return ledgerdomain.Reservation{}, s.storeError(ctx, span, opReserve, userID, err)
	}

	s.metrics.RecordLedgerMutation(ctx, opReserve, string(reason), obsmetrics.OutcomeOK, req.Amount)
	return reservation, nil
}

func (s *Service) Commit(ctx context.Context, userID string, reservationID snowflake.ID) (ledgerdomain.MutationResult, error) {
	ctx, span := s.startSpan(ctx, opCommit)
	defer span.End()

	userID, err := normalizeUserID(userID)
	if err != nil {
		return ledgerdomain.MutationResult{}, err
	}
	if reservationID <= 0 {
		return ledgerdomain.MutationResult{}, ledgerdomain.ErrInvalidReservation
	}

	release, err := s.lock(ctx, opCommit, userID)
	if err != nil {
		return ledgerdomain.MutationResult{}, err
	}
	defer release()

	txn := &ledgerdomain.Transaction{}
	err = s.withRetry(ctx, func() error {
		*txn = ledgerdomain.Transaction{
			ID:        s.genID.Generate(),
			CreatedAt: s.clock.Now(),
			Metadata:  s.metadata(ctx, map[string]any{"reservation_id": reservationID.String()}),
		}
		_, err := s.store.CommitReservation(ctx, userID, reservationID, txn)
		return err
	})
	if err != nil {
		s.metrics.RecordLedgerMutation(ctx, opCommit, "", outcomeOf(err), 0)
		return ledgerdomain.MutationResult{}, s.storeError(ctx, span, opCommit, userID, err)
	}

	s.committed(ctx, opCommit, *txn)
	return ledgerdomain.MutationResult{NewBalance: txn.BalanceAfter, Transaction: *txn}, nil
}

func (s *Service) Release(ctx context.Context, userID string, reservationID snowflake.ID) (ledgerdomain.Reservation, error) {
	ctx, span := s.startSpan(ctx, opRelease)
	defer span.End()

	userID, err := normalizeUserID(userID)
	if err != nil {
		return ledgerdomain.Reservation{}, err
	}
	if reservationID <= 0 {
		return ledgerdomain.Reservation{}, ledgerdomain.ErrInvalidReservation
	}

	release, err := s.lock(ctx, opRelease, userID)
	if err != nil {
		return ledgerdomain.Reservation{}, err
	}
	defer release()

	var released *ledgerdomain.Reservation
	err = s.withRetry(ctx, func() error {
		var err error
		released, err = s.store.ReleaseReservation(ctx, userID, reservationID, s.clock.Now())
		return err
	})
	if err != nil {
		return ledgerdomain.Reservation{}, s.storeError(ctx, span, opRelease, userID, err)
	}

	s.metrics.RecordLedgerMutation(ctx, opRelease, string(released.Reason), obsmetrics.OutcomeOK, released.Amount)
	return *released, nil
}

func (s *Service) Reservations(ctx context.Context, userID string) ([]ledgerdomain.Reservation, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListReservations(ctx, userID, ledgerdomain.ReservationFilter{
		Status: ledgerdomain.ReservationStatusPending,
	})
	if err != nil {
		return nil, s.unavailable(ctx, "reservations", userID, err)
	}
	return items, nil
}

func (s *Service) ExpireReservations(ctx context.Context, userID string, olderThan time.Duration) ([]ledgerdomain.Reservation, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if olderThan <= 0 {
		return nil, ledgerdomain.ErrInvalidRequest
	}

	stale, err := s.store.ListReservations(ctx, userID, ledgerdomain.ReservationFilter{
		Status:        ledgerdomain.ReservationStatusPending,
		CreatedBefore: s.clock.Now().Add(-olderThan),
	})
	if err != nil {
		return nil, s.unavailable(ctx, "expire_reservations", userID, err)
	}

	expired := make([]ledgerdomain.Reservation, 0, len(stale))
	for _, reservation := range stale {
		released, err := s.Release(ctx, userID, reservation.ID)
		if errors.Is(err, ledgerdomain.ErrReservationClosed) {
			// Settled between the listing and the release.
			continue
		}
		if err != nil {
			return expired, err
		}
		logger.WithContext(ctx, s.log).Info("stale reservation released",
			zap.String("user_id", userID),
			zap.String("reservation_id", released.ID.String()),
			zap.Int64("amount", released.Amount),
			zap.Time("created_at", released.CreatedAt),
		)
		expired = append(expired, released)
	}
	return expired, nil
}

func (s *Service) Reconcile(ctx context.Context, userID string) (ledgerdomain.ReconcileReport, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return ledgerdomain.ReconcileReport{}, err
	}

	release, err := s.lock(ctx, "reconcile", userID)
	if err != nil {
		return ledgerdomain.ReconcileReport{}, err
	}
	defer release()

	account, err := s.store.FindAccount(ctx, userID)
	if err != nil {
		return ledgerdomain.ReconcileReport{}, s.unavailable(ctx, "reconcile", userID, err)
	}
	if account == nil {
		return ledgerdomain.ReconcileReport{}, ledgerdomain.ErrAccountNotFound
	}

	sum, count, err := s.store.SumTransactions(ctx, userID)
	if err != nil {
		return ledgerdomain.ReconcileReport{}, s.unavailable(ctx, "reconcile", userID, err)
	}
	pending, err := s.store.ListReservations(ctx, userID, ledgerdomain.ReservationFilter{
		Status: ledgerdomain.ReservationStatusPending,
	})
	if err != nil {
		return ledgerdomain.ReconcileReport{}, s.unavailable(ctx, "reconcile", userID, err)
	}
	var held int64
	for _, reservation := range pending {
		held += reservation.Amount
	}

	report := ledgerdomain.ReconcileReport{
		UserID:       userID,
		Balance:      account.Balance,
		InitialGrant: account.InitialGrant,
		Sum:          sum,
		Count:        count,
		Reserved:     account.Reserved,
		Held:         held,
		Pending:      len(pending),
		Consistent:   account.Balance == account.InitialGrant+sum && account.Reserved == held,
	}
	if !report.Consistent {
		logger.WithContext(ctx, s.log).Error("ledger drift detected",
			zap.String("user_id", userID),
			zap.Int64("balance", account.Balance),
			zap.Int64("expected", account.InitialGrant+sum),
			zap.Int64("reserved", account.Reserved),
			zap.Int64("held", held),
		)
	}
	return report, nil
}

// append serializes txn against other mutations of the same account and records it.
func (s *Service) append(ctx context.Context, span trace.Span, op string, txn *ledgerdomain.Transaction) (ledgerdomain.MutationResult, error) {
	release, err := s.lock(ctx, op, txn.UserID)
	if err != nil {
		s.metrics.RecordLedgerMutation(ctx, op, string(txn.Reason), outcomeOf(err), 0)
		return ledgerdomain.MutationResult{}, err
	}
	defer release()

	err = s.withRetry(ctx, func() error {
		txn.ID = s.genID.Generate()
		txn.CreatedAt = s.clock.Now()
		txn.BalanceAfter = 0
		return s.store.AppendTransaction(ctx, txn)
	})
	if err != nil {
		s.metrics.RecordLedgerMutation(ctx, op, string(txn.Reason), outcomeOf(err), 0)
		return ledgerdomain.MutationResult{}, s.storeError(ctx, span, op, txn.UserID, err)
	}

	s.committed(ctx, op, *txn)
	return ledgerdomain.MutationResult{NewBalance: txn.BalanceAfter, Transaction: *txn}, nil
}

func (s *Service) committed(ctx context.Context, op string, txn ledgerdomain.Transaction) {
	amount := txn.Amount
	if amount < 0 {
		amount = -amount
	}
	s.metrics.RecordLedgerMutation(ctx, op, string(txn.Reason), obsmetrics.OutcomeOK, amount)
	s.invalidateCached(ctx, txn.UserID)
	s.hub.Publish(events.BalanceChanged{
		UserID:        txn.UserID,
		Balance:       txn.BalanceAfter,
		Delta:         txn.Amount,
		Reason:        string(txn.Reason),
		TransactionID: txn.ID.String(),
		OccurredAt:    txn.CreatedAt,
	})
	logger.WithContext(ctx, s.log).Debug("ledger mutation committed",
		zap.String("operation", op),
		zap.String("user_id", txn.UserID),
		zap.Int64("amount", txn.Amount),
		zap.Int64("balance_after", txn.BalanceAfter),
		zap.String("transaction_id", txn.ID.String()),
	)
}

func (s *Service) lock(ctx context.Context, op, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := s.locker.Lock(lockCtx, userID)
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, accountlock.ErrTimeout) {
		s.metrics.RecordLockTimeout(ctx, op)
		s.log.Warn("account lock wait exceeded",
			zap.String("operation", op),
			zap.String("user_id", userID),
			zap.Duration("wait", s.lockWait),
		)
		return nil, ledgerdomain.ErrLockTimeout
	}
	return nil, s.unavailable(ctx, op, userID, err)
}

// withRetry replays fn when the database aborted it because of contention.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || attempt >= s.maxRetries || !db.IsRetryable(err) {
			return err
		}
		s.log.Debug("retrying ledger write", zap.Int("attempt", attempt+1), zap.String("cause", db.Classify(err)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
}

// storeError passes domain outcomes through and wraps everything else as unavailable.
func (s *Service) storeError(ctx context.Context, span trace.Span, op, userID string, err error) error {
	if isDomainOutcome(err) {
		span.SetAttributes(attribute.String("outcome", outcomeOf(err)))
		return err
	}
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, "store unavailable")

	// The write may or may not have landed; drop the projection so readers go to the store.
	s.invalidateCached(ctx, userID)
	return s.unavailable(ctx, op, userID, err)
}

func (s *Service) unavailable(ctx context.Context, op, userID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ledgerdomain.ErrStoreUnavailable) {
		return err
	}
	logger.WithContext(ctx, s.log).Error("ledger store failure",
		zap.String("operation", op),
		zap.String("user_id", userID),
		zap.String("cause", db.Classify(err)),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", ledgerdomain.ErrStoreUnavailable, err)
}

func (s *Service) rejected(ctx context.Context, op string, reason ledgerdomain.Reason, err error) error {
	s.metrics.RecordLedgerMutation(ctx, op, string(ledgerdomain.ParseReason(string(reason))), obsmetrics.OutcomeInvalid, 0)
	return err
}

// invalidateCached drops the cached balance after a commit. The next read refills it
// from the store.
func (s *Service) invalidateCached(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), userID); err != nil {
		s.log.Warn("balance cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) metadata(ctx context.Context, in map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		out["request_id"] = requestID
	}
	if cid := correlation.From(ctx); cid != "" {
		out["correlation_id"] = cid
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Service) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("operation", op)))
}

func normalizeUserID(raw string) (string, error) {
	userID := strings.TrimSpace(raw)
	if userID == "" || len(userID) > maxUserIDLength {
		return "", ledgerdomain.ErrInvalidUserID
	}
	return userID, nil
}

func decodeCursor(raw string) (snowflake.ID, error) {
	cursor, err := pagination.DecodeCursor(raw)
	if err != nil {
		return 0, ledgerdomain.ErrInvalidCursor
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil || id <= 0 {
		return 0, ledgerdomain.ErrInvalidCursor
	}
	return id, nil
}

func isDomainOutcome(err error) bool {
	return errors.Is(err, ledgerdomain.ErrAccountNotFound) ||
		errors.Is(err, ledgerdomain.ErrInsufficientBalance) ||
		errors.Is(err, ledgerdomain.ErrReservationNotFound) ||
		errors.Is(err, ledgerdomain.ErrReservationClosed) ||
		ledgerdomain.IsValidationError(err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return obsmetrics.OutcomeOK
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return obsmetrics.OutcomeInsufficient
	case errors.Is(err, ledgerdomain.ErrAccountNotFound), errors.Is(err, ledgerdomain.ErrReservationNotFound):
		return obsmetrics.OutcomeNotFound
	case ledgerdomain.IsValidationError(err), errors.Is(err, ledgerdomain.ErrReservationClosed):
		return obsmetrics.OutcomeInvalid
	default:
		return obsmetrics.OutcomeUnavailable
	}
}
