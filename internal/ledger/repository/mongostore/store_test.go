package mongostore

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBalanceGuardExpression(t *testing.T) {
	guard := balanceGuard("u1", -3)

	assert.Equal(t, "u1", guard["_id"])
	expr := guard["$expr"].(bson.M)["$gte"].(bson.A)
	assert.Equal(t, bson.M{"$subtract": bson.A{"$balance", "$reserved"}}, expr[0])
	assert.Equal(t, int64(3), expr[1])
}

func TestBalanceGuardBoundsCredits(t *testing.T) {
	guard := balanceGuard("u1", 10)

	assert.Equal(t, "u1", guard["_id"])
	assert.Nil(t, guard["$expr"])
	assert.Equal(t, bson.M{"$lte": int64(math.MaxInt64 - 10)}, guard["balance"])
}

func TestReserveGuardExpression(t *testing.T) {
	guard := reserveGuard("u1", 2)

	expr := guard["$expr"].(bson.M)["$gte"].(bson.A)
	assert.Equal(t, bson.M{"$subtract": bson.A{"$balance", "$reserved"}}, expr[0])
	assert.Equal(t, int64(2), expr[1])
}

func TestTransactionDocRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	txn := &domain.Transaction{
		ID:           7,
		UserID:       "u1",
		Amount:       -1,
		Reason:       domain.ReasonCardScan,
		BalanceAfter: 9,
		ContactName:  "Ada",
		CreatedAt:    at,
	}

	got := newTransactionDoc(txn).toDomain()
	assert.Equal(t, *txn, got)
}

func TestReservationDocKeepsTransactionID(t *testing.T) {
	txID := int64(42)
	doc := reservationDoc{ID: 1, UserID: "u1", Amount: 1, Status: "committed", TransactionID: &txID}

	reservation := doc.toDomain()
	assert.Equal(t, domain.ReservationStatusCommitted, reservation.Status)
	if assert.NotNil(t, reservation.TransactionID) {
		assert.Equal(t, int64(42), reservation.TransactionID.Int64())
	}
}

var liveTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// liveStore connects to MONGO_URI, which must point at a replica set, and uses a
// throwaway database per test.
func liveStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database := fmt.Sprintf("wowcoin_test_%d", time.Now().UnixNano())
	store, err := Connect(ctx, uri, database)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.client.Database(database).Drop(ctx)
		_ = store.Close(ctx)
	})
	require.NoError(t, store.Ping(ctx))
	return store
}

func seedLive(t *testing.T, store *Store, userID string, balance int64) {
	t.Helper()
	created, err := store.InitAccount(context.Background(), &domain.Account{
		UserID:       userID,
		Balance:      balance,
		InitialGrant: balance,
		CreatedAt:    liveTime,
		UpdatedAt:    liveTime,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestMongoInitAccountKeepsExistingBalance(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()
	seedLive(t, store, "u1", 10)

	created, err := store.InitAccount(ctx, &domain.Account{UserID: "u1", Balance: 99, CreatedAt: liveTime, UpdatedAt: liveTime})
	require.NoError(t, err)
	assert.False(t, created)

	account, err := store.FindAccount(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, int64(10), account.Balance)

	missing, err := store.FindAccount(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongoAppendTransactionGuards(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()
	seedLive(t, store, "u1", 2)

	txn := &domain.Transaction{ID: 1, UserID: "u1", Amount: -2, Reason: domain.ReasonExport, CreatedAt: liveTime}
	require.NoError(t, store.AppendTransaction(ctx, txn))
	assert.Equal(t, int64(0), txn.BalanceAfter)

	err := store.AppendTransaction(ctx, &domain.Transaction{ID: 2, UserID: "u1", Amount: -1, Reason: domain.ReasonExport, CreatedAt: liveTime})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = store.AppendTransaction(ctx, &domain.Transaction{ID: 3, UserID: "nobody", Amount: 5, Reason: domain.ReasonBonus, CreatedAt: liveTime})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	err = store.AppendTransaction(ctx, &domain.Transaction{ID: 4, UserID: "u1", Amount: math.MaxInt64, Reason: domain.ReasonBonus, CreatedAt: liveTime})
	require.NoError(t, err)
	err = store.AppendTransaction(ctx, &domain.Transaction{ID: 5, UserID: "u1", Amount: 1, Reason: domain.ReasonBonus, CreatedAt: liveTime})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	sum, count, err := store.SumTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-2), sum)
	assert.Equal(t, int64(2), count)

	items, err := store.ListTransactions(ctx, "u1", domain.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, snowflake.ID(4), items[0].ID)
}

func TestMongoReservationLifecycle(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()
	seedLive(t, store, "u1", 3)

	hold := func(id snowflake.ID, amount int64) error {
		return store.CreateReservation(ctx, &domain.Reservation{
			ID:        id,
			UserID:    "u1",
			Amount:    amount,
			Reason:    domain.ReasonCardScan,
			Status:    domain.ReservationStatusPending,
			CreatedAt: liveTime,
			UpdatedAt: liveTime,
		})
	}
	require.NoError(t, hold(100, 2))
	assert.ErrorIs(t, hold(101, 2), domain.ErrInsufficientBalance)

	// A debit may not dip into held coins either.
	err := store.AppendTransaction(ctx, &domain.Transaction{ID: 1, UserID: "u1", Amount: -2, Reason: domain.ReasonExport, CreatedAt: liveTime})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	txn := &domain.Transaction{ID: 2, CreatedAt: liveTime}
	committed, err := store.CommitReservation(ctx, "u1", 100, txn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), committed.Amount)
	assert.Equal(t, int64(1), txn.BalanceAfter)
	assert.Equal(t, int64(-2), txn.Amount)

	_, err = store.CommitReservation(ctx, "u1", 100, &domain.Transaction{ID: 3, CreatedAt: liveTime})
	assert.ErrorIs(t, err, domain.ErrReservationClosed)
	_, err = store.ReleaseReservation(ctx, "u1", 999, liveTime)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	require.NoError(t, hold(102, 1))
	released, err := store.ReleaseReservation(ctx, "u1", 102, liveTime)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, released.Status)

	pending, err := store.ListReservations(ctx, "u1", domain.ReservationFilter{Status: domain.ReservationStatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := store.ListReservations(ctx, "u1", domain.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	account, err := store.FindAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.Balance)
	assert.Zero(t, account.Reserved)
}

func TestMongoConcurrentDeductionsNeverOverdraw(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()
	const balance, workers = 5, 20
	seedLive(t, store, "u1", balance)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.AppendTransaction(ctx, &domain.Transaction{
				ID:        snowflake.ID(1000 + id),
				UserID:    "u1",
				Amount:    -1,
				Reason:    domain.ReasonExport,
				CreatedAt: liveTime,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, domain.ErrInsufficientBalance):
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, balance, succeeded)
	assert.Equal(t, workers-balance, rejected)

	account, err := store.FindAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, account.Balance)
	sum, count, err := store.SumTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(-balance), sum)
	assert.Equal(t, int64(balance), count)
}
