package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ikkim/account-backend/config"
	"github.com/ikkim/account-backend/internal/app/controller"
	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/internal/app/service"
	"github.com/ikkim/account-backend/internal/db"
	"github.com/ikkim/account-backend/internal/middleware"
	"github.com/ikkim/account-backend/internal/router"
	"github.com/ikkim/account-backend/internal/scheduler"
	"github.com/ikkim/account-backend/internal/storage"
	"github.com/ikkim/account-backend/pkg/logger"
	"github.com/ikkim/account-backend/pkg/mailer"
	"github.com/ikkim/account-backend/pkg/redis"
	"github.com/ikkim/account-backend/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	logLevel := "info"
	logFormat := "console"
	if cfg.Server.Environment == "development" {
		logLevel = "debug"
	}
	if cfg.Server.Environment == "production" {
		logFormat = "json"
	}
	logger.Initialize(logger.Config{
		Level:       logLevel,
		Format:      logFormat,
		EnableColor: logFormat == "console",
	})

	logger.Info("Starting account backend", map[string]interface{}{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
		"log_level":   logLevel,
	})

	if err := db.Initialize(&cfg.Database); err != nil {
		logger.Fatal("Failed to initialize database", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}

	identityCache := service.NewNoopIdentityCache()
	if cfg.Redis.Enabled {
		if err := redis.Init(&cfg.Redis); err != nil {
			logger.Warn("Redis unavailable, identity cache disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			identityCache = service.NewRedisIdentityCache(redis.GetClient(), cfg.Redis.UserTTL)
			defer func() {
				if err := redis.Close(); err != nil {
					logger.Error("Failed to close Redis connection", err)
				}
			}()
		}
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
		logger.Fatal("Failed to configure mailer", err)
	}

	issuer, err := util.NewSessionIssuer(cfg.JWT.Secret, cfg.JWT.Expiry)
	if err != nil {
		logger.Fatal("Failed to configure session issuer", err)
	}

	userRepo := repository.NewUserRepository(db.GetDB())
	codeRepo := repository.NewEmailCodeRepository(db.GetDB())

	accountService, err := service.NewAccountService(db.GetDB(), userRepo, codeRepo, m, issuer, service.AccountOptions{
		BcryptCost: cfg.Account.BcryptCost,
		CodeTTL:    cfg.Account.CodeTTL,
		Cache:      identityCache,
	})
	if err != nil {
		logger.Fatal("Failed to create account service", err)
	}
	userService := service.NewUserService(userRepo, identityCache)

	userController := controller.NewUserController(accountService, userService)
	uploadController := newUploadController(context.Background(), &cfg.S3)
	authMiddleware := middleware.NewAuthMiddleware(issuer, userService)

	r := router.NewRouter(userController, uploadController, authMiddleware, cfg)
	engine := r.Setup()

	var cleanup *scheduler.CodeCleanupScheduler
	if cfg.Account.CodeTTL > 0 {
		cleanup = scheduler.NewCodeCleanupScheduler(codeRepo, cfg.Account.CodeCleanupSchedule, cfg.Account.CodeTTL)
		if err := cleanup.Start(); err != nil {
			logger.Fatal("Failed to start email code cleanup scheduler", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server started successfully", map[string]interface{}{
			"address": srv.Addr,
			"pid":     os.Getpid(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}
	if cleanup != nil {
		cleanup.Stop(ctx)
	}

	logger.Info("Server stopped successfully")
}

// newUploadController returns nil when no bucket is configured, which keeps
// the upload routes unregistered.
func newUploadController(ctx context.Context, cfg *config.S3Config) *controller.UploadController {
	if cfg.Bucket == "" {
		logger.Warn("AWS_S3_BUCKET not set, profile image uploads disabled", nil)
		return nil
	}

	s3Storage := storage.NewS3Storage(
		ctx,
		cfg.Region,
		cfg.Bucket,
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		cfg.BaseURL,
	)
	return controller.NewUploadController(s3Storage)
}
