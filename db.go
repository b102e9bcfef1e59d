package main

import (
	"log"
	"os"
	"strings"

	"finbook/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Any permission errors will be logged and ignored.
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others.
		// Users and accounts first so the FK-carrying tables can reference them.
		if err := db.AutoMigrate(&models.User{}); err != nil {
			log.Printf("migration warning (users): %v", err)
		}
		if err := db.AutoMigrate(&models.Account{}); err != nil {
			log.Printf("migration warning (accounts): %v", err)
		}
		if err := db.AutoMigrate(&models.Category{}); err != nil {
			log.Printf("migration warning (categories): %v", err)
		}
		if err := db.AutoMigrate(&models.UploadRecord{}); err != nil {
			log.Printf("migration warning (upload_records): %v", err)
		}
		if err := db.AutoMigrate(&models.Transaction{}); err != nil {
			log.Printf("migration warning (transactions): %v", err)
		}
		if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
			log.Printf("migration warning (refresh_tokens): %v", err)
		}
		if err := ensureTransactionQueryIndex(); err != nil {
			log.Printf("warning: ensuring transactions query index failed: %v", err)
		}
	}
	seedDB()
}

// ensureTransactionQueryIndex adds the composite index the paginated query
// leans on. AutoMigrate only creates the single-column indexes from tags.
func ensureTransactionQueryIndex() error {
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_account_date ON transactions(account_id, date DESC)`).Error
}

func seedDB() {
	// Check if admin user exists
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count == 0 {
		admin := models.User{Username: "admin"}
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		admin.HashedPassword = hashedPassword
		db.Create(&admin)
		log.Println("Seeded admin user: username=admin, password=admin123")
	}
	// Ensure admin owns at least one account so a fresh install is usable
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		log.Printf("failed to find admin user after seeding: %v", err)
		return
	}
	var acctCount int64
	db.Model(&models.Account{}).
		Joins("JOIN account_users ON account_users.account_id = accounts.id").
		Where("account_users.user_id = ?", admin.ID).
		Count(&acctCount)
	if acctCount == 0 {
		account := models.Account{Name: "Demo Checking", Institution: "Demo Bank", Number: "0000000000", Routing: "000000000"}
		if err := db.Create(&account).Error; err != nil {
			log.Printf("failed to create demo account: %v", err)
			return
		}
		if err := db.Model(&account).Association("Users").Append(&admin); err != nil {
			log.Printf("failed to attach admin to demo account: %v", err)
		} else {
			log.Println("Seeded demo account for admin:", account.ID)
		}
	}
}
