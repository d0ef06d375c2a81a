package mongostore

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"gorm.io/datatypes"
)

type accountDoc struct {
	UserID       string    `bson:"_id"`
	Balance      int64     `bson:"balance"`
	Reserved     int64     `bson:"reserved"`
	InitialGrant int64     `bson:"initial_grant"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d accountDoc) toDomain() domain.Account {
	return domain.Account{
		UserID:       d.UserID,
		Balance:      d.Balance,
		Reserved:     d.Reserved,
		InitialGrant: d.InitialGrant,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

type transactionDoc struct {
	ID           int64          `bson:"_id"`
	UserID       string         `bson:"user_id"`
	Amount       int64          `bson:"amount"`
	Reason       string         `bson:"reason"`
	BalanceAfter int64          `bson:"balance_after"`
	ContactName  string         `bson:"contact_name,omitempty"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
}

func newTransactionDoc(txn *domain.Transaction) transactionDoc {
	return transactionDoc{
		ID:           txn.ID.Int64(),
		UserID:       txn.UserID,
		Amount:       txn.Amount,
		Reason:       string(txn.Reason),
		BalanceAfter: txn.BalanceAfter,
		ContactName:  txn.ContactName,
		Metadata:     txn.Metadata,
		CreatedAt:    txn.CreatedAt,
	}
}

func (d transactionDoc) toDomain() domain.Transaction {
	var metadata datatypes.JSONMap
	if len(d.Metadata) > 0 {
		metadata = datatypes.JSONMap(d.Metadata)
	}
	return domain.Transaction{
		ID:           snowflake.ID(d.ID),
		UserID:       d.UserID,
		Amount:       d.Amount,
		Reason:       domain.Reason(d.Reason),
		BalanceAfter: d.BalanceAfter,
		ContactName:  d.ContactName,
		Metadata:     metadata,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

type reservationDoc struct {
	ID            int64     `bson:"_id"`
	UserID        string    `bson:"user_id"`
	Amount        int64     `bson:"amount"`
	Reason        string    `bson:"reason"`
	ContactName   string    `bson:"contact_name,omitempty"`
	Status        string    `bson:"status"`
	TransactionID *int64    `bson:"transaction_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func newReservationDoc(r *domain.Reservation) reservationDoc {
	return reservationDoc{
		ID:          r.ID.Int64(),
		UserID:      r.UserID,
		Amount:      r.Amount,
		Reason:      string(r.Reason),
		ContactName: r.ContactName,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (d reservationDoc) toDomain() domain.Reservation {
	reservation := domain.Reservation{
		ID:          snowflake.ID(d.ID),
		UserID:      d.UserID,
		Amount:      d.Amount,
		Reason:      domain.Reason(d.Reason),
		ContactName: d.ContactName,
		Status:      domain.ReservationStatus(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.TransactionID != nil {
		id := snowflake.ID(*d.TransactionID)
		reservation.TransactionID = &id
	}
	return reservation
}
