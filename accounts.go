package main

import (
	"net/http"

	"finbook/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type accountView struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Institution string    `json:"institution,omitempty"`
	Number      string    `json:"account"`
	Routing     string    `json:"routing"`
}

// createAccountHandler creates an account and attaches the caller to its owner set.
func createAccountHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Name        string `json:"name" binding:"required"`
		Institution string `json:"institution"`
		Number      string `json:"account" binding:"required"`
		Routing     string `json:"routing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account := models.Account{Name: req.Name, Institution: req.Institution, Number: req.Number, Routing: req.Routing}
	if err := db.Create(&account).Error; err != nil {
		if isUniqueConstraintError(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "account number already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	if err := db.Model(&account).Association("Users").Append(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to attach account owner"})
		return
	}
	c.JSON(http.StatusOK, accountView{ID: account.ID, Name: account.Name, Institution: account.Institution, Number: account.Number, Routing: account.Routing})
}

// listAccountsHandler returns the accounts owned by the caller.
func listAccountsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var accounts []models.Account
	err := db.Model(&models.Account{}).
		Joins("JOIN account_users ON account_users.account_id = accounts.id").
		Where("account_users.user_id = ?", user.ID).
		Order("accounts.created_at").
		Find(&accounts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{ID: a.ID, Name: a.Name, Institution: a.Institution, Number: a.Number, Routing: a.Routing})
	}
	c.JSON(http.StatusOK, views)
}
