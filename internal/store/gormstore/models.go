package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccountBalance mirrors the account_balances table.
type AccountBalance struct {
	BalanceID      string    `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"not null;index:uniq_account_balances_user_currency,unique,priority:1"`
	Currency       string    `gorm:"not null;index:uniq_account_balances_user_currency,unique,priority:2"`
	AvailableCents int64     `gorm:"not null;check:chk_account_balances_available,available_cents >= 0"`
	FrozenCents    int64     `gorm:"not null;check:chk_account_balances_frozen,frozen_cents >= 0"`
	Version        int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (AccountBalance) TableName() string { return "account_balances" }

func (balance *AccountBalance) BeforeCreate(tx *gorm.DB) error {
	if balance.BalanceID == "" {
		balance.BalanceID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table. Rows are never updated.
type LedgerEntry struct {
	EntryID     string         `gorm:"type:uuid;primaryKey"`
	UserID      string         `gorm:"not null;index:idx_ledger_entries_user_created,priority:1"`
	Currency    string         `gorm:"not null"`
	AmountCents int64          `gorm:"not null"`
	Bucket      string         `gorm:"not null"`
	Kind        string         `gorm:"not null;index:uniq_ledger_entries_kind_reference,unique,priority:1"`
	Status      string         `gorm:"not null"`
	Reference   *string        `gorm:"index:uniq_ledger_entries_kind_reference,unique,priority:2"`
	Note        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_ledger_entries_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// RoundOrder mirrors the round_orders table.
type RoundOrder struct {
	OrderID     string     `gorm:"type:uuid;primaryKey"`
	UserID      string     `gorm:"not null;index:uniq_round_orders_key,unique,priority:1"`
	GameID      string     `gorm:"not null;index:uniq_round_orders_key,unique,priority:2"`
	RoundID     string     `gorm:"not null;index:uniq_round_orders_key,unique,priority:3"`
	Currency    string     `gorm:"not null"`
	StakeCents  int64      `gorm:"not null;check:chk_round_orders_stake,stake_cents >= 0"`
	PayoutCents int64      `gorm:"not null;check:chk_round_orders_payout,payout_cents >= 0"`
	Status      string     `gorm:"not null"`
	CompletedAt *time.Time `gorm:""`
	Version     int64      `gorm:"not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

func (RoundOrder) TableName() string { return "round_orders" }

func (order *RoundOrder) BeforeCreate(tx *gorm.DB) error {
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	return nil
}

// ProviderEvent mirrors the provider_events table.
type ProviderEvent struct {
	EventID       string         `gorm:"type:uuid;primaryKey"`
	ProviderID    string         `gorm:"not null;index:uniq_provider_events_provider_txn,unique,priority:1"`
	TransactionID string         `gorm:"not null;index:uniq_provider_events_provider_txn,unique,priority:2"`
	Kind          string         `gorm:"not null"`
	GameID        string         `gorm:"not null"`
	UserID        string         `gorm:"not null;index:idx_provider_events_user"`
	RoundID       string         `gorm:"not null"`
	Currency      string         `gorm:"not null"`
	AmountCents   int64          `gorm:"not null"`
	Detail        datatypes.JSON `gorm:"type:jsonb;not null"`
	OrderID       *string        `gorm:"type:uuid"`
	CreatedAt     time.Time      `gorm:"not null"`
}

func (ProviderEvent) TableName() string { return "provider_events" }

func (event *ProviderEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}

// Game mirrors the games catalog table.
type Game struct {
	GameID    string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Enabled   bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Game) TableName() string { return "games" }

// SessionToken mirrors the session_tokens table. Only token digests are stored.
type SessionToken struct {
	TokenHash string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index:idx_session_tokens_user"`
	Currency  string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SessionToken) TableName() string { return "session_tokens" }

// Models lists every table model for AutoMigrate.
func Models() []any {
	return []any{
		&AccountBalance{},
		&LedgerEntry{},
		&RoundOrder{},
		&ProviderEvent{},
		&Game{},
		&SessionToken{},
	}
}
