package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// ListFilter narrows a transaction listing. Before is an exclusive cursor on transaction id.
type ListFilter struct {
	Limit  int
	Before snowflake.ID
}

// ReservationFilter narrows a reservation listing. Zero fields match everything and a
// zero Limit returns every match.
type ReservationFilter struct {
	Status        ReservationStatus
	CreatedBefore time.Time
	Limit         int
}

// Store persists accounts, transactions and reservations.
//
// Balance-changing methods apply the account update and the log write in a single
// durable step and re-check sufficiency against the stored row, so a stale read by the
// caller can never over-withdraw.
type Store interface {
	// InitAccount inserts the account unless it already exists. created is false when
	// the account was already present; its balance is left untouched.
	InitAccount(ctx context.Context, account *Account) (created bool, err error)
	// FindAccount returns nil, nil when the account does not exist.
	FindAccount(ctx context.Context, userID string) (*Account, error)
	// ListAccountIDs pages through user ids in ascending order, strictly after after.
	ListAccountIDs(ctx context.Context, after string, limit int) ([]string, error)
	// AppendTransaction applies txn.Amount to the balance and records txn, filling
	// txn.BalanceAfter.
	AppendTransaction(ctx context.Context, txn *Transaction) error
	ListTransactions(ctx context.Context, userID string, filter ListFilter) ([]Transaction, error)
	SumTransactions(ctx context.Context, userID string) (sum int64, count int64, err error)

	CreateReservation(ctx context.Context, reservation *Reservation) error
	// ListReservations returns the user's reservations oldest first.
	ListReservations(ctx context.Context, userID string, filter ReservationFilter) ([]Reservation, error)
	// CommitReservation closes a pending reservation by recording txn as its deduction.
	CommitReservation(ctx context.Context, userID string, reservationID snowflake.ID, txn *Transaction) (*Reservation, error)
	ReleaseReservation(ctx context.Context, userID string, reservationID snowflake.ID, now time.Time) (*Reservation, error)

	Ping(ctx context.Context) error
}
