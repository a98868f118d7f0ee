package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"yardflow/compliance"
	"yardflow/config"
	"yardflow/engine"
	"yardflow/middleware"
	"yardflow/queue"
	"yardflow/ratelimit"
	"yardflow/routes"
	"yardflow/synclock"
	"yardflow/utils"
	"yardflow/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "YARDFLOW: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry for error reporting (no-op when DSN is empty)
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         config.AppConfig.SentryDSN,
		Environment: config.AppConfig.Environment,
	}); err != nil {
		logger.Printf("Sentry initialization failed: %v", err)
	}
	defer sentry.Flush(2 * time.Second)

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Delayed job broker: Redis in normal deployments, in-process otherwise
	var broker queue.Broker
	if config.AppConfig.Redis.Enabled {
		broker = queue.NewRedisBroker(redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		}))
	} else {
		logger.Println("Redis disabled - using in-process job broker")
		broker = queue.NewMemoryBroker()
	}

	// Sliding-window limiter in front of the SMTP provider
	limiter := ratelimit.New(
		config.AppConfig.SendMaxPerWindow,
		time.Duration(config.AppConfig.SendWindowSeconds)*time.Second,
	)

	mailer := utils.NewOutreachMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
		config.AppConfig.FromName,
		config.AppConfig.TrackingBaseURL,
		config.AppConfig.PostalAddress,
		log.New(os.Stdout, "MAILER: ", log.LstdFlags),
	)

	gate := compliance.NewGate(config.DB)
	eng := engine.New(config.DB, gate, mailer, queue.NewStepScheduler(broker), limiter,
		logrus.WithField("component", "engine"))

	lockManager := synclock.NewManager(config.DB,
		synclock.WithDefaultTTL(time.Duration(config.AppConfig.SyncLockTTLMinutes)*time.Minute))

	// Initialize and start the outreach worker pool
	outreachWorker := worker.NewOutreachWorker(broker, eng, lockManager, queue.WorkerPoolConfig{
		Workers:      config.AppConfig.WorkerCount,
		PollInterval: time.Duration(config.AppConfig.WorkerPollSeconds) * time.Second,
		MaxAttempts:  config.AppConfig.JobMaxAttempts,
	}, logrus.WithField("component", "outreach-worker"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go outreachWorker.Start(ctx)
	defer outreachWorker.Stop()

	// Setup routes
	routes.SetupRoutes(app, config.DB, eng, gate)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
