package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Transaction is one ingested row. Raw keeps the original uploaded row
// verbatim; the derived columns (Amount, Date, VendorLabel, CategoryLabel,
// Description, Status) are always recomputable from Raw plus the owning
// upload record's current mapping.
type Transaction struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AccountID     uuid.UUID         `gorm:"type:uuid;index;not null"`
	Account       Account           `gorm:"foreignKey:AccountID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	UploadID      uuid.UUID         `gorm:"type:uuid;index;not null"`
	Upload        UploadRecord      `gorm:"foreignKey:UploadID;constraint:OnUpdate:CASCADE;"`
	Amount        decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	Date          time.Time         `gorm:"index;not null"`
	VendorLabel   string            `gorm:"size:512"`
	CategoryLabel string            `gorm:"size:512"`
	Description   string            `gorm:"size:1024"`
	Status        TransactionStatus `gorm:"size:16;not null;default:completed"`
	CategoryID    *uuid.UUID        `gorm:"type:uuid;index"`
	Category      *Category         `gorm:"foreignKey:CategoryID"`
	Raw           datatypes.JSONMap `gorm:"not null"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
