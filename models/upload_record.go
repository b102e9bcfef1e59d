package models

import (
	"time"

	"finbook/pkg/remap"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UploadRecord represents one upload of transaction rows by a user. It keeps
// the attribute->column mapping so the mapping can be edited later, and the
// full set of column names seen across the uploaded rows. AvailableColumns
// is fixed at ingestion time; later mapping edits are validated against it.
type UploadRecord struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	UserID           uuid.UUID                         `gorm:"type:uuid;index;not null"`
	User             User                              `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Mapping          datatypes.JSONType[remap.Mapping] `gorm:"not null"`
	AvailableColumns datatypes.JSONSlice[string]       `gorm:"not null"`
}

func (u *UploadRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
