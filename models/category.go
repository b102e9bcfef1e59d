package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category is a structured spending category, distinct from the free-text
// category label derived from a raw row.
type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string     `gorm:"size:255;not null"`
	Description string     `gorm:"size:512"`
	UserID      *uuid.UUID `gorm:"type:uuid;index"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
