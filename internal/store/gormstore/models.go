package gormstore

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditBalance mirrors the credit_balances table; one row per user.
type CreditBalance struct {
	UserID       string    `gorm:"size:128;primaryKey"`
	BalanceCents int64     `gorm:"not null;default:0"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

// CreditTransaction mirrors the credit_transactions table.
type CreditTransaction struct {
	Sequence       int64      `gorm:"primaryKey;autoIncrement"`
	TransactionID  string     `gorm:"size:64;not null;uniqueIndex:uniq_credit_transactions_id"`
	UserID         string     `gorm:"size:128;not null;index:idx_credit_transactions_user,priority:1"`
	Type           string     `gorm:"size:32;not null"`
	AmountCents    int64      `gorm:"not null"`
	Description    string     `gorm:"not null;default:''"`
	ActivityID     string     `gorm:"size:128;not null;default:''"`
	ActivityType   string     `gorm:"size:64;not null;default:''"`
	Status         string     `gorm:"size:32;not null"`
	IdempotencyKey *string    `gorm:"size:191;uniqueIndex:uniq_credit_transactions_idempotency_key"`
	CreatedAt      time.Time  `gorm:"not null;index:idx_credit_transactions_user,priority:2"`
	CompletedAt    *time.Time `gorm:""`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// PendingTransaction mirrors the pending_transactions table.
type PendingTransaction struct {
	PendingID    string    `gorm:"size:64;primaryKey"`
	UserID       string    `gorm:"size:128;not null;index:idx_pending_user_expires,priority:1"`
	ActivityType string    `gorm:"size:64;not null"`
	ActivityID   string    `gorm:"size:128;not null;default:''"`
	AmountCents  int64     `gorm:"not null"`
	Description  string    `gorm:"not null;default:''"`
	Status       string    `gorm:"size:16;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"not null;index:idx_pending_user_expires,priority:2;index:idx_pending_expires"`
}

func (PendingTransaction) TableName() string { return "pending_transactions" }

// AuditEvent mirrors the audit_events table.
type AuditEvent struct {
	EventID     string         `gorm:"size:64;primaryKey"`
	UserID      string         `gorm:"size:128;not null;index"`
	Operation   string         `gorm:"size:32;not null"`
	PendingID   string         `gorm:"size:64;not null;default:''"`
	AmountCents int64          `gorm:"not null"`
	Reason      string         `gorm:"not null"`
	Details     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CreditBalance{}, &CreditTransaction{}, &PendingTransaction{}, &AuditEvent{})
}
