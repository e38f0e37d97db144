package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ikkim/account-backend/config"
	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/internal/app/service"
	"github.com/ikkim/account-backend/internal/db"
	"github.com/ikkim/account-backend/pkg/logger"
	"github.com/ikkim/account-backend/pkg/mailer"
	"github.com/ikkim/account-backend/pkg/util"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: go run cmd/seed/main.go <users.xlsx> <frontBaseUrl>")
	}

	filePath := os.Args[1]
	baseURL := os.Args[2]

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.Initialize(logger.Config{Level: "warn", Format: "console"})

	if err := db.Initialize(&cfg.Database); err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	fmt.Printf("Reading XLSX file: %s\n", filePath)
	rows, skipped, err := readUsersFromXLSX(filePath)
	if err != nil {
		log.Fatal("Failed to read XLSX:", err)
	}

	fmt.Printf("Users to import: %d (skipped rows: %d)\n", len(rows), skipped)

	fmt.Print("Do you want to proceed with the import? (yes/no): ")
	var confirm string
	fmt.Scanln(&confirm)
	if confirm != "yes" && confirm != "y" {
		fmt.Println("Import cancelled.")
		return
	}

	m, err := mailer.New(mailer.Options{
		Provider:     cfg.Mail.Provider,
		From:         cfg.Mail.From,
		SMTPHost:     cfg.Mail.SMTPHost,
		SMTPPort:     cfg.Mail.SMTPPort,
		SMTPUsername: cfg.Mail.SMTPUsername,
		SMTPPassword: cfg.Mail.SMTPPassword,
		ResendAPIKey: cfg.Mail.ResendAPIKey,
		MaxAttempts:  cfg.Mail.MaxAttempts,
	})
	if err != nil {
		log.Fatal("Failed to configure mailer:", err)
	}

	issuer, err := util.NewSessionIssuer(cfg.JWT.Secret, cfg.JWT.Expiry)
	if err != nil {
		log.Fatal("Failed to configure session issuer:", err)
	}

	accounts, err := service.NewAccountService(
		db.GetDB(),
		repository.NewUserRepository(db.GetDB()),
		repository.NewEmailCodeRepository(db.GetDB()),
		m,
		issuer,
		service.AccountOptions{BcryptCost: cfg.Account.BcryptCost, CodeTTL: cfg.Account.CodeTTL},
	)
	if err != nil {
		log.Fatal("Failed to create account service:", err)
	}

	summary := importUsers(context.Background(), accounts, rows, baseURL)

	fmt.Println("Import completed!")
	fmt.Printf("Created: %d, already registered: %d, invalid: %d, failed: %d\n",
		summary.Created, summary.Duplicates, summary.Invalid, summary.Failed)
}
