package main

import (
	"errors"
	"net/http"
	"time"

	"finbook/models"
	"finbook/pkg/remap"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type uploadRecordView struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"userId"`
	Mapping          remap.Mapping `json:"mapping"`
	AvailableColumns []string      `json:"availableColumns"`
	CreatedAt        time.Time     `json:"createdAt"`
	TransactionCount int64         `json:"transactionCount"`
	AccountName      string        `json:"accountName"`
}

// findOwnedUploadRecord loads an upload record scoped by owner. A record
// owned by someone else reads the same as a missing one.
func findOwnedUploadRecord(id, userID uuid.UUID) (*models.UploadRecord, error) {
	var record models.UploadRecord
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// buildUploadRecordView assembles the record plus its live transaction count
// and the account name read from any one linked transaction.
func buildUploadRecordView(record *models.UploadRecord) (uploadRecordView, error) {
	var count int64
	if err := db.Model(&models.Transaction{}).Where("upload_id = ?", record.ID).Count(&count).Error; err != nil {
		return uploadRecordView{}, err
	}
	accountName := "Unknown"
	var sample models.Transaction
	if err := db.Preload("Account").Where("upload_id = ?", record.ID).First(&sample).Error; err == nil {
		accountName = sample.Account.Name
	}
	return uploadRecordView{
		ID:               record.ID,
		UserID:           record.UserID,
		Mapping:          record.Mapping.Data(),
		AvailableColumns: []string(record.AvailableColumns),
		CreatedAt:        record.CreatedAt,
		TransactionCount: count,
		AccountName:      accountName,
	}, nil
}

// updateUploadRecordMapping persists a new mapping and re-derives the label
// fields of every linked transaction from its stored raw row. An attribute
// dropped from the mapping clears the field it used to feed. Amount, date
// and status stay as ingested.
func updateUploadRecordMapping(record *models.UploadRecord, newMapping remap.Mapping) error {
	if missing := remap.MissingColumns(newMapping, []string(record.AvailableColumns)); len(missing) > 0 {
		return &columnError{Columns: missing}
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UploadRecord{}).Where("id = ?", record.ID).
			Update("mapping", datatypes.NewJSONType(newMapping)).Error; err != nil {
			return err
		}
		record.Mapping = datatypes.NewJSONType(newMapping)

		var linked []models.Transaction
		if err := tx.Where("upload_id = ?", record.ID).Find(&linked).Error; err != nil {
			return err
		}
		for i := range linked {
			vendor, category, description := remap.Labels(remap.RawRow(linked[i].Raw), newMapping)
			err := tx.Model(&models.Transaction{}).Where("id = ?", linked[i].ID).
				Updates(map[string]any{
					"vendor_label":   vendor,
					"category_label": category,
					"description":    description,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// deleteUploadRecord removes the record and its transactions; transactions
// go first to satisfy the FK. Returns the number of transactions removed.
func deleteUploadRecord(record *models.UploadRecord) (int64, error) {
	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("upload_id = ?", record.ID).Delete(&models.Transaction{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return tx.Delete(&models.UploadRecord{}, "id = ?", record.ID).Error
	})
	return deleted, err
}

// resolveRecordFromRequest parses :id and loads the owner-scoped record.
// Writes the error response itself and returns nil when the caller should stop.
func resolveRecordFromRequest(c *gin.Context) *models.UploadRecord {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid UUID"})
		return nil
	}
	record, err := findOwnedUploadRecord(id, user.ID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		}
		return nil
	}
	return record
}

func getUploadRecordHandler(c *gin.Context) {
	record := resolveRecordFromRequest(c)
	if record == nil {
		return
	}
	view, err := buildUploadRecordView(record)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func updateUploadRecordHandler(c *gin.Context) {
	record := resolveRecordFromRequest(c)
	if record == nil {
		return
	}
	var req struct {
		Mapping map[string]string `json:"mapping" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := updateUploadRecordMapping(record, remap.Mapping(req.Mapping)); err != nil {
		var colErr *columnError
		if errors.As(err, &colErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	view, err := buildUploadRecordView(record)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func deleteUploadRecordHandler(c *gin.Context) {
	record := resolveRecordFromRequest(c)
	if record == nil {
		return
	}
	deleted, err := deleteUploadRecord(record)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletedTransactionCount": deleted})
}
