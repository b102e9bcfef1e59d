package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"finbook/models"
	"finbook/pkg/remap"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

type uploadResult struct {
	UploadRecordID   uuid.UUID `json:"uploadRecordId"`
	TransactionCount int       `json:"transactionCount"`
}

// resolveOwnedAccount loads an account scoped by owner in a single query.
// A miss never reveals whether the account exists for someone else.
func resolveOwnedAccount(userID, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := db.Model(&models.Account{}).
		Joins("JOIN account_users ON account_users.account_id = accounts.id").
		Where("accounts.id = ? AND account_users.user_id = ?", accountID, userID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ingestUpload validates ownership and the mapping, then writes the upload
// record and all derived transactions in one database transaction. A row
// whose mapped date cannot be parsed aborts the whole batch; nothing is
// persisted in that case.
func ingestUpload(user *models.User, accountID uuid.UUID, m remap.Mapping, rows []remap.RawRow) (uploadResult, error) {
	if len(rows) == 0 {
		return uploadResult{}, errEmptyUpload
	}
	account, err := resolveOwnedAccount(user.ID, accountID)
	if err != nil {
		return uploadResult{}, err
	}
	cols := remap.CollectColumns(rows)
	if missing := remap.MissingColumns(m, cols); len(missing) > 0 {
		return uploadResult{}, &columnError{Columns: missing}
	}

	var record models.UploadRecord
	now := time.Now().UTC()
	err = db.Transaction(func(tx *gorm.DB) error {
		record = models.UploadRecord{
			UserID:           user.ID,
			Mapping:          datatypes.NewJSONType(m),
			AvailableColumns: datatypes.JSONSlice[string](cols),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		entities := make([]models.Transaction, 0, len(rows))
		for i, row := range rows {
			d, err := remap.Derive(row, m, now)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			entities = append(entities, models.Transaction{
				AccountID:     account.ID,
				UploadID:      record.ID,
				Amount:        d.Amount,
				Date:          d.Date,
				VendorLabel:   d.VendorLabel,
				CategoryLabel: d.CategoryLabel,
				Description:   d.Description,
				Status:        models.TransactionStatus(d.Status),
				Raw:           datatypes.JSONMap(row),
			})
		}
		return tx.CreateInBatches(entities, 200).Error
	})
	if err != nil {
		return uploadResult{}, err
	}
	return uploadResult{UploadRecordID: record.ID, TransactionCount: len(rows)}, nil
}

// uploadTransactionsHandler ingests a batch of raw rows against an account.
func uploadTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		AccountID    string            `json:"accountId" binding:"required,uuid"`
		Mapping      map[string]string `json:"mapping" binding:"required"`
		Transactions []map[string]any  `json:"transactions" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId must be a valid UUID"})
		return
	}
	rows := make([]remap.RawRow, len(req.Transactions))
	for i, r := range req.Transactions {
		rows[i] = remap.RawRow(r)
	}
	result, err := ingestUpload(user, accountID, remap.Mapping(req.Mapping), rows)
	if err != nil {
		var colErr *columnError
		switch {
		case errors.Is(err, errNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.As(err, &colErr), errors.Is(err, errEmptyUpload), errors.Is(err, remap.ErrInvalidDate):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

type transactionView struct {
	ID              uuid.UUID                `json:"id"`
	Amount          decimal.Decimal          `json:"amount"`
	Date            time.Time                `json:"date"`
	VendorLabel     string                   `json:"vendorLabel,omitempty"`
	CategoryLabel   string                   `json:"categoryLabel,omitempty"`
	Description     string                   `json:"description,omitempty"`
	Status          models.TransactionStatus `json:"status"`
	AccountID       uuid.UUID                `json:"accountId"`
	AccountName     string                   `json:"accountName"`
	CategoryID      *uuid.UUID               `json:"categoryId,omitempty"`
	CategoryName    string                   `json:"categoryName,omitempty"`
	UploadRecordID  uuid.UUID                `json:"uploadRecordId"`
	UploadCreatedAt time.Time                `json:"uploadCreatedAt"`
}

type transactionPage struct {
	Transactions []transactionView `json:"transactions"`
	Total        int64             `json:"total"`
}

// queryTransactions runs the filtered, paginated read. The ownership join
// comes first; every filter predicate narrows within it. Total counts all
// matches before pagination.
func queryTransactions(user *models.User, page, limit int, f transactionFilter) (transactionPage, error) {
	base := db.Model(&models.Transaction{}).
		Joins("JOIN account_users ON account_users.account_id = transactions.account_id").
		Where("account_users.user_id = ?", user.ID)
	base = f.apply(base)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return transactionPage{}, err
	}

	var txs []models.Transaction
	err := base.Session(&gorm.Session{}).
		Select("transactions.*").
		Preload("Account").
		Preload("Category").
		Preload("Upload").
		Order("transactions.date DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return transactionPage{}, err
	}

	views := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		v := transactionView{
			ID:              t.ID,
			Amount:          t.Amount,
			Date:            t.Date,
			VendorLabel:     t.VendorLabel,
			CategoryLabel:   t.CategoryLabel,
			Description:     t.Description,
			Status:          t.Status,
			AccountID:       t.AccountID,
			AccountName:     t.Account.Name,
			CategoryID:      t.CategoryID,
			UploadRecordID:  t.UploadID,
			UploadCreatedAt: t.Upload.CreatedAt,
		}
		if t.Category != nil {
			v.CategoryName = t.Category.Name
		}
		views = append(views, v)
	}
	return transactionPage{Transactions: views, Total: total}, nil
}

// listTransactionsHandler serves GET /transactions with page/limit/filter params.
func listTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	page := 1
	limit := defaultPageSize
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
			return
		}
		page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxPageSize)})
			return
		}
		limit = n
	}
	filter, err := parseTransactionFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := queryTransactions(user, page, limit, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
