package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/postgres/v3"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"secretsanta/internal/api"
	"secretsanta/internal/assignment"
	"secretsanta/internal/config"
	"secretsanta/internal/daemon"
	"secretsanta/internal/i18n"
	"secretsanta/internal/logger"
	"secretsanta/internal/middleware"
	"secretsanta/internal/monitoring"
	"secretsanta/internal/notifications"
	"secretsanta/internal/repository"
	"secretsanta/internal/service"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := config.NewConfig()
	appLogger := logger.New(*cfg)

	telemetry, err := monitoring.NewOpenTelemetry(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	// Internationalization for outbound mail
	translator := i18n.New("en")
	if err := translator.LoadTranslations("translations"); err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Failed to close database", "error", err)
		}
	}()

	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Redis backs the per-IP throttles on the abuse-prone endpoints
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("Failed to close redis client", "error", err)
		}
	}()
	rateLimiter := service.NewRateLimiter(redisClient)

	// Outbound mail falls back to logging when no relay is configured
	var sender notifications.Sender
	if cfg.SMTP.Host != "" {
		sender = notifications.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		appLogger.Warn("No SMTP relay configured, mail will only be logged")
		sender = &notifications.LogSender{Logger: appLogger.Logger}
	}
	notifier := notifications.NewNotifier(telemetry.Logger(), sender, translator, cfg.Server.BaseURL)

	gameService := service.NewGameService(repo, assignment.New(nil), notifier, telemetry)

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(middleware.Logger(appLogger.Logger))

	// Coarse request ceiling in front of the redis throttles, persisted so a
	// restart does not reset every window.
	limiterStorage := postgres.New(postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		Username: cfg.Database.User,
		Password: cfg.Database.Password,
		Table:    "rate_limits",
		Reset:    false,
	})
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    limiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please slow down",
			})
		},
	}))

	healthHandler := api.NewHealthHandler(repo)
	app.Get("/health", healthHandler.Healthy)

	gameHandler := api.NewGameHandler(gameService, rateLimiter, telemetry)
	gameHandler.RegisterRoutes(app)

	// Background workers
	daemons := daemon.NewManager(appLogger.Logger)
	daemons.Add("retention-sweep", daemon.RetentionSweep(repo, cfg.Retention, appLogger.Logger))
	daemons.Start(ctx)

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		appLogger.Info("Shutting down", "signal", sig.String())
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			appLogger.Error("Failed to shut down server", "error", err)
		}
	}()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	appLogger.Info("Starting server", "addr", addr, "environment", cfg.Server.Environment)
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}

	daemons.Wait()
	return nil
}
