// Package mongostore is the MongoDB ledger backend. It relies on multi-document
// transactions, so the target deployment must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	collectionAccounts     = "wow_accounts"
	collectionTransactions = "wow_transactions"
	collectionReservations = "wow_reservations"
)

type Store struct {
	client       *mongo.Client
	accounts     *mongo.Collection
	transactions *mongo.Collection
	reservations *mongo.Collection
}

// Connect dials uri and prepares the ledger collections inside database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	store := New(client, database)
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:       client,
		accounts:     db.Collection(collectionAccounts),
		transactions: db.Collection(collectionTransactions),
		reservations: db.Collection(collectionReservations),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return err
	}
	_, err = s.reservations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) InitAccount(ctx context.Context, account *domain.Account) (bool, error) {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}

	res, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": account.UserID},
		bson.M{"$setOnInsert": bson.M{
			"balance":       account.Balance,
			"reserved":      account.Reserved,
			"initial_grant": account.InitialGrant,
			"created_at":    account.CreatedAt,
			"updated_at":    account.UpdatedAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) FindAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	account := doc.toDomain()
	return &account, nil
}

func (s *Store) ListAccountIDs(ctx context.Context, after string, limit int) ([]string, error) {
	cursor, err := s.accounts.Find(ctx,
		bson.M{"_id": bson.M{"$gt": after}},
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, err
	}

	var docs []struct {
		UserID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.UserID)
	}
	return ids, nil
}

func (s *Store) AppendTransaction(ctx context.Context, txn *domain.Transaction) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		updated, err := s.applyToAccount(ctx,
			balanceGuard(txn.UserID, txn.Amount),
			bson.M{
				"$inc": bson.M{"balance": txn.Amount},
				"$set": bson.M{"updated_at": txn.CreatedAt},
			},
		)
		if err != nil {
			return err
		}
		if updated == nil {
			if txn.Amount > 0 {
				return s.missingOr(ctx, txn.UserID, domain.ErrInvalidAmount)
			}
			return s.missingOrInsufficient(ctx, txn.UserID)
		}

		txn.BalanceAfter = updated.Balance
		_, err = s.transactions.InsertOne(ctx, newTransactionDoc(txn))
		return err
	})
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filter domain.ListFilter) ([]domain.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}

	query := bson.M{"user_id": userID}
	if filter.Before != 0 {
		query["_id"] = bson.M{"$lt": filter.Before.Int64()}
	}

	cursor, err := s.transactions.Find(ctx, query,
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}

	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	items := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return items, nil
}

func (s *Store) SumTransactions(ctx context.Context, userID string) (int64, int64, error) {
	cursor, err := s.transactions.Aggregate(ctx, bson.A{
		bson.M{"$match": bson.M{"user_id": userID}},
		bson.M{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount"},
			"count": bson.M{"$sum": 1},
		}},
	})
	if err != nil {
		return 0, 0, err
	}

	var rows []struct {
		Total int64 `bson:"total"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].Total, rows[0].Count, nil
}

func (s *Store) CreateReservation(ctx context.Context, reservation *domain.Reservation) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		updated, err := s.applyToAccount(ctx,
			reserveGuard(reservation.UserID, reservation.Amount),
			bson.M{
				"$inc": bson.M{"reserved": reservation.Amount},
				"$set": bson.M{"updated_at": reservation.CreatedAt},
			},
		)
		if err != nil {
			return err
		}
		if updated == nil {
			return s.missingOrInsufficient(ctx, reservation.UserID)
		}

		_, err = s.reservations.InsertOne(ctx, newReservationDoc(reservation))
		return err
	})
}

func (s *Store) ListReservations(ctx context.Context, userID string, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	query := bson.M{"user_id": userID}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if !filter.CreatedBefore.IsZero() {
		query["created_at"] = bson.M{"$lt": filter.CreatedBefore}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.reservations.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	var docs []reservationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	items := make([]domain.Reservation, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return items, nil
}

func (s *Store) CommitReservation(ctx context.Context, userID string, reservationID snowflake.ID, txn *domain.Transaction) (*domain.Reservation, error) {
	var committed *domain.Reservation
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		txID := txn.ID.Int64()
		reservation, err := s.closeReservation(ctx, userID, reservationID, domain.ReservationStatusCommitted, &txID, txn.CreatedAt)
		if err != nil {
			return err
		}

		updated, err := s.applyToAccount(ctx,
			bson.M{"_id": userID},
			bson.M{
				"$inc": bson.M{"balance": -reservation.Amount, "reserved": -reservation.Amount},
				"$set": bson.M{"updated_at": txn.CreatedAt},
			},
		)
		if err != nil {
			return err
		}
		if updated == nil {
			return domain.ErrAccountNotFound
		}

		txn.UserID = userID
		txn.Amount = -reservation.Amount
		txn.Reason = reservation.Reason
		txn.ContactName = reservation.ContactName
		txn.BalanceAfter = updated.Balance
		if _, err := s.transactions.InsertOne(ctx, newTransactionDoc(txn)); err != nil {
			return err
		}

		committed = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Store) ReleaseReservation(ctx context.Context, userID string, reservationID snowflake.ID, now time.Time) (*domain.Reservation, error) {
	var released *domain.Reservation
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		reservation, err := s.closeReservation(ctx, userID, reservationID, domain.ReservationStatusReleased, nil, now)
		if err != nil {
			return err
		}

		if _, err := s.accounts.UpdateOne(ctx,
			bson.M{"_id": userID},
			bson.M{
				"$inc": bson.M{"reserved": -reservation.Amount},
				"$set": bson.M{"updated_at": now},
			},
		); err != nil {
			return err
		}

		released = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) applyToAccount(ctx context.Context, filter, update bson.M) (*accountDoc, error) {
	var doc accountDoc
	err := s.accounts.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Store) closeReservation(
	ctx context.Context,
	userID string,
	reservationID snowflake.ID,
	status domain.ReservationStatus,
	transactionID *int64,
	now time.Time,
) (*domain.Reservation, error) {
	set := bson.M{"status": string(status), "updated_at": now}
	if transactionID != nil {
		set["transaction_id"] = *transactionID
	}

	var doc reservationDoc
	err := s.reservations.FindOneAndUpdate(ctx,
		bson.M{"_id": reservationID.Int64(), "user_id": userID, "status": string(domain.ReservationStatusPending)},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		reservation := doc.toDomain()
		return &reservation, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	count, err := s.reservations.CountDocuments(ctx, bson.M{"_id": reservationID.Int64(), "user_id": userID})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domain.ErrReservationNotFound
	}
	return nil, domain.ErrReservationClosed
}

func (s *Store) missingOrInsufficient(ctx context.Context, userID string) error {
	return s.missingOr(ctx, userID, domain.ErrInsufficientBalance)
}

func (s *Store) missingOr(ctx context.Context, userID string, rejected error) error {
	account, err := s.FindAccount(ctx, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrAccountNotFound
	}
	return rejected
}

// balanceGuard matches the account only when a credit keeps balance within int64 and
// a debit keeps balance >= reserved. $inc on an int64 field would otherwise wrap.
func balanceGuard(userID string, amount int64) bson.M {
	if amount > 0 {
		return bson.M{
			"_id":     userID,
			"balance": bson.M{"$lte": math.MaxInt64 - amount},
		}
	}
	return bson.M{
		"_id": userID,
		"$expr": bson.M{"$gte": bson.A{
			bson.M{"$subtract": bson.A{"$balance", "$reserved"}},
			-amount,
		}},
	}
}

// reserveGuard matches the account only when amount fits in the spendable balance.
func reserveGuard(userID string, amount int64) bson.M {
	return bson.M{
		"_id": userID,
		"$expr": bson.M{"$gte": bson.A{
			bson.M{"$subtract": bson.A{"$balance", "$reserved"}},
			amount,
		}},
	}
}
