package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Reason categorizes why coins moved.
type Reason string

const (
	// ======================
	// Spend (feature usage)
	// ======================
	ReasonCardScan        Reason = "card-scan"        // AI business card scan
	ReasonFollowUpDraft   Reason = "follow-up-draft"  // generated follow-up message
	ReasonIntroSuggestion Reason = "intro-suggestion" // generated intro line
	ReasonAutoEmail       Reason = "auto-email"       // generated e-mail
	ReasonExport          Reason = "export"           // contact export

	// ======================
	// Credit
	// ======================
	ReasonBonus    Reason = "bonus"    // promo / goodwill
	ReasonRecharge Reason = "recharge" // purchased top-up
	ReasonRefund   Reason = "refund"   // compensation for a failed feature
)

var spendReasons = map[Reason]struct{}{
	ReasonCardScan:        {},
	ReasonFollowUpDraft:   {},
	ReasonIntroSuggestion: {},
	ReasonAutoEmail:       {},
	ReasonExport:          {},
}

var creditReasons = map[Reason]struct{}{
	ReasonBonus:    {},
	ReasonRecharge: {},
	ReasonRefund:   {},
}

// ParseReason normalizes raw input into a Reason. Unknown values are returned as-is.
func ParseReason(raw string) Reason {
	return Reason(strings.ToLower(strings.TrimSpace(raw)))
}

// IsSpend reports whether r may be used for deductions.
func (r Reason) IsSpend() bool {
	_, ok := spendReasons[r]
	return ok
}

// IsCredit reports whether r may be used for credits.
func (r Reason) IsCredit() bool {
	_, ok := creditReasons[r]
	return ok
}

func (r Reason) String() string { return string(r) }

// Account holds the authoritative coin balance of one user.
type Account struct {
	UserID       string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	Balance      int64     `gorm:"not null;default:0" json:"balance"`
	Reserved     int64     `gorm:"not null;default:0" json:"reserved"`
	InitialGrant int64     `gorm:"not null;default:0" json:"initial_grant"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "wow_accounts" }

// Spendable is the balance not held by pending reservations.
func (a Account) Spendable() int64 {
	return a.Balance - a.Reserved
}

// Transaction is an immutable ledger line. Negative amounts are deductions.
type Transaction struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID       string            `gorm:"type:varchar(128);not null;index:ix_wow_transactions_user,priority:1" json:"user_id"`
	Amount       int64             `gorm:"not null" json:"amount"`
	Reason       Reason            `gorm:"type:varchar(64);not null" json:"reason"`
	BalanceAfter int64             `gorm:"not null" json:"balance_after"`
	ContactName  string            `gorm:"type:text" json:"contact_name,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index:ix_wow_transactions_user,priority:2" json:"timestamp"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "wow_transactions" }

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

// Reservation holds coins for a feature that has not finished yet.
type Reservation struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID        string            `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Amount        int64             `gorm:"not null" json:"amount"`
	Reason        Reason            `gorm:"type:varchar(64);not null" json:"reason"`
	ContactName   string            `gorm:"type:text" json:"contact_name,omitempty"`
	Status        ReservationStatus `gorm:"type:varchar(16);not null" json:"status"`
	TransactionID *snowflake.ID     `json:"transaction_id,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Reservation) TableName() string { return "wow_reservations" }

