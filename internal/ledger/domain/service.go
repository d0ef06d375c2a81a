package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InitAccountRequest struct {
	UserID string
	// InitialBalance overrides the configured trial grant when set.
	InitialBalance *int64
}

type InitAccountResponse struct {
	Account Account `json:"account"`
	Created bool    `json:"created"`
}

type DeductRequest struct {
	UserID      string
	Amount      int64
	Reason      Reason
	ContactName string
	Metadata    map[string]any
}

type CreditRequest struct {
	UserID   string
	Amount   int64
	Reason   Reason
	Metadata map[string]any
}

type MutationResult struct {
	NewBalance  int64       `json:"new_balance"`
	Transaction Transaction `json:"transaction"`
}

type HistoryRequest struct {
	UserID string
	Limit  int
	Before string
}

type HistoryResponse struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   string        `json:"next_cursor,omitempty"`
}

type ReserveRequest struct {
	UserID      string
	Amount      int64
	Reason      Reason
	ContactName string
}

type ReconcileReport struct {
	UserID       string `json:"user_id"`
	Balance      int64  `json:"balance"`
	InitialGrant int64  `json:"initial_grant"`
	Sum          int64  `json:"transaction_sum"`
	Count        int64  `json:"transaction_count"`
	// Reserved is the account's hold counter and Held the sum of its pending
	// reservations. The two must agree.
	Reserved   int64 `json:"reserved"`
	Held       int64 `json:"held"`
	Pending    int   `json:"pending_reservations"`
	Consistent bool  `json:"consistent"`
}

// Service is the only writer of ledger state.
type Service interface {
	InitAccount(ctx context.Context, req InitAccountRequest) (InitAccountResponse, error)
	Deduct(ctx context.Context, req DeductRequest) (MutationResult, error)
	Credit(ctx context.Context, req CreditRequest) (MutationResult, error)
	// GetBalance returns 0 for unknown users and never creates an account.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// Account reads the stored account. Unknown users get a zero account.
	Account(ctx context.Context, userID string) (Account, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)

	Reserve(ctx context.Context, req ReserveRequest) (Reservation, error)
	Commit(ctx context.Context, userID string, reservationID snowflake.ID) (MutationResult, error)
	Release(ctx context.Context, userID string, reservationID snowflake.ID) (Reservation, error)
	// Reservations lists the user's pending reservations oldest first.
	Reservations(ctx context.Context, userID string) ([]Reservation, error)
	// ExpireReservations releases pending reservations older than olderThan and
	// returns the ones it released.
	ExpireReservations(ctx context.Context, userID string, olderThan time.Duration) ([]Reservation, error)

	Reconcile(ctx context.Context, userID string) (ReconcileReport, error)
}
