package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is a bank account. Ownership is many-to-many: every owner in the
// account_users join table may ingest and query against the account.
type Account struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string `gorm:"size:255;not null"`
	Institution string `gorm:"size:255"`
	Number      string `gorm:"column:account_number;size:64;uniqueIndex;not null"`
	Routing     string `gorm:"size:64"`
	Users       []User `gorm:"many2many:account_users;"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
