package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/etl-connectors/internal/api/http"
	"github.com/i474232898/etl-connectors/internal/config"
	"github.com/i474232898/etl-connectors/internal/connector"
	"github.com/i474232898/etl-connectors/internal/connector/sources"
	"github.com/i474232898/etl-connectors/internal/scheduler"
	"github.com/i474232898/etl-connectors/internal/storage"
)

const (
	// runTimeout bounds a single scheduled run. Pagination can make pulse
	// runs long, so this is deliberately generous.
	runTimeout = 5 * time.Minute

	// runHistoryLimit is how many results the status API keeps.
	runHistoryLimit = 96
)

func main() {
	// Load configuration.
	cfg, err := config.LoadOTX()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	// Shared HTTP client for outbound API calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	source := sources.NewOTXSource(httpClient, cfg.APIKey, cfg.BaseURL, cfg.ConnectorName, cfg.PageLimit, cfg.MaxPages, sources.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Connect(ctx, storage.Config{
		URI:            cfg.MongoURI,
		Database:       cfg.DBName,
		Collection:     cfg.Collection,
		ConnectTimeout: cfg.MongoConnectTimeout,
		WriteTimeout:   cfg.MongoWriteTimeout,
	})
	if err != nil {
		log.Printf("ERROR: %v", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Printf("error closing storage: %v", err)
		}
	}()

	// Upserts key on pulse_id, so the collection must enforce its uniqueness.
	if err := store.EnsureNaturalKeyIndex(ctx, sources.PulseKeyField); err != nil {
		log.Printf("ERROR: %v", err)
		return 1
	}

	runner := connector.NewRunner(source, store)

	if cfg.RunInterval > 0 {
		return serve(ctx, runner, cfg)
	}

	log.Printf("starting pulses run into %s.%s", cfg.DBName, cfg.Collection)
	res, err := runner.Run(ctx)
	if err != nil {
		log.Printf("ERROR: run %s failed: %v", res.RunID, err)
		return 1
	}
	log.Printf("run %s complete: %d inserted, %d updated in %s", res.RunID, res.Inserted, res.Updated, res.Duration)
	return 0
}

// serve runs the connector on a schedule and exposes the status API until a
// termination signal arrives.
func serve(ctx context.Context, runner *connector.Runner, cfg *config.Config) int {
	log.Printf("scheduling %s every %s; status API on :%s", cfg.ConnectorName, cfg.RunInterval, cfg.Port)

	history := connector.NewRunHistory(runHistoryLimit)

	sched := scheduler.New(runner, history, cfg.RunInterval, runTimeout)
	if err := sched.Start(); err != nil {
		log.Printf("ERROR: failed to start scheduler: %v", err)
		return 1
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               cfg.ConnectorName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"connector": cfg.ConnectorName,
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, history)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return 0
}
