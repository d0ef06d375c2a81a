package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Store {
	return &repo{db: db}
}

func (r *repo) InitAccount(ctx context.Context, account *domain.Account) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindAccount(ctx context.Context, userID string) (*domain.Account, error) {
	return findAccount(ctx, r.db, userID)
}

func (r *repo) ListAccountIDs(ctx context.Context, after string, limit int) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("user_id > ?", after).
		Order("user_id asc").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) AppendTransaction(ctx context.Context, txn *domain.Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE wow_accounts
			 SET balance = balance + ?, updated_at = ?
			 WHERE user_id = ? AND `+appendGuard(txn.Amount),
			txn.Amount,
			txn.CreatedAt,
			txn.UserID,
			appendBound(txn.Amount),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if txn.Amount > 0 {
				return missingOr(ctx, tx, txn.UserID, domain.ErrInvalidAmount)
			}
			return missingOrInsufficient(ctx, tx, txn.UserID)
		}

		balance, err := currentBalance(ctx, tx, txn.UserID)
		if err != nil {
			return err
		}
		txn.BalanceAfter = balance

		return tx.Create(txn).Error
	})
}

func (r *repo) ListTransactions(ctx context.Context, userID string, filter domain.ListFilter) ([]domain.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}

	stmt := r.db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("user_id = ?", userID)
	if filter.Before != 0 {
		stmt = stmt.Where("id < ?", filter.Before)
	}

	var items []domain.Transaction
	err := stmt.
		Order("id desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumTransactions(ctx context.Context, userID string) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count
		 FROM wow_transactions WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *repo) CreateReservation(ctx context.Context, reservation *domain.Reservation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE wow_accounts
			 SET reserved = reserved + ?, updated_at = ?
			 WHERE user_id = ? AND balance - reserved >= ?`,
			reservation.Amount,
			reservation.CreatedAt,
			reservation.UserID,
			reservation.Amount,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return missingOrInsufficient(ctx, tx, reservation.UserID)
		}
		return tx.Create(reservation).Error
	})
}

func (r *repo) ListReservations(ctx context.Context, userID string, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	stmt := r.db.WithContext(ctx).
		Model(&domain.Reservation{}).
		Where("user_id = ?", userID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if !filter.CreatedBefore.IsZero() {
		stmt = stmt.Where("created_at < ?", filter.CreatedBefore)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	items := []domain.Reservation{}
	if err := stmt.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CommitReservation(ctx context.Context, userID string, reservationID snowflake.ID, txn *domain.Transaction) (*domain.Reservation, error) {
	var committed *domain.Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := closeReservation(ctx, tx, userID, reservationID, domain.ReservationStatusCommitted, &txn.ID, txn.CreatedAt)
		if err != nil {
			return err
		}

		if err := tx.Exec(
			`UPDATE wow_accounts
			 SET balance = balance - ?, reserved = reserved - ?, updated_at = ?
			 WHERE user_id = ?`,
			reservation.Amount,
			reservation.Amount,
			txn.CreatedAt,
			userID,
		).Error; err != nil {
			return err
		}

		balance, err := currentBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		txn.UserID = userID
		txn.Amount = -reservation.Amount
		txn.Reason = reservation.Reason
		txn.ContactName = reservation.ContactName
		txn.BalanceAfter = balance
		if err := tx.Create(txn).Error; err != nil {
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

func (r *repo) ReleaseReservation(ctx context.Context, userID string, reservationID snowflake.ID, now time.Time) (*domain.Reservation, error) {
	var released *domain.Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := closeReservation(ctx, tx, userID, reservationID, domain.ReservationStatusReleased, nil, now)
		if err != nil {
			return err
		}

		if err := tx.Exec(
			`UPDATE wow_accounts SET reserved = reserved - ?, updated_at = ? WHERE user_id = ?`,
			reservation.Amount,
			now,
			userID,
		).Error; err != nil {
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

func (r *repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func closeReservation(
	ctx context.Context,
	tx *gorm.DB,
	userID string,
	reservationID snowflake.ID,
	status domain.ReservationStatus,
	transactionID *snowflake.ID,
	now time.Time,
) (*domain.Reservation, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE wow_reservations
		 SET status = ?, transaction_id = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status = ?`,
		status,
		transactionID,
		now,
		reservationID,
		userID,
		domain.ReservationStatusPending,
	)
	if result.Error != nil {
		return nil, result.Error
	}

	var reservation domain.Reservation
	err := tx.WithContext(ctx).
		Where("id = ? AND user_id = ?", reservationID, userID).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrReservationClosed
	}
	return &reservation, nil
}

func findAccount(ctx context.Context, db *gorm.DB, userID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func currentBalance(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	account, err := findAccount(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, domain.ErrAccountNotFound
	}
	return account.Balance, nil
}

// appendGuard keeps the balance within int64 on credits and never below the reserved
// coins on debits. Neither side of the comparison can overflow.
func appendGuard(amount int64) string {
	if amount > 0 {
		return "balance <= ?"
	}
	return "balance - reserved >= ?"
}

func appendBound(amount int64) int64 {
	if amount > 0 {
		return math.MaxInt64 - amount
	}
	return -amount
}

func missingOrInsufficient(ctx context.Context, tx *gorm.DB, userID string) error {
	return missingOr(ctx, tx, userID, domain.ErrInsufficientBalance)
}

func missingOr(ctx context.Context, tx *gorm.DB, userID string, rejected error) error {
	account, err := findAccount(ctx, tx, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrAccountNotFound
	}
	return rejected
}
