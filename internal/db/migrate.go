package db

import (
	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/pkg/logger"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, parents first.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.EmailCode{},
	}
}

// Migrate runs database migrations against the global connection
func Migrate() error {
	return MigrateModels(DB)
}

// MigrateModels auto-migrates all models on the given connection
func MigrateModels(conn *gorm.DB) error {
	logger.Info("Running database migrations...")

	models := Models()
	if err := conn.AutoMigrate(models...); err != nil {
		logger.Error("Failed to run migrations", err)
		return err
	}

	logger.Info("Database migrations completed successfully", map[string]interface{}{
		"models_count": len(models),
	})
	return nil
}
