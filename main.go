package main

import (
	"context"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"

	"leadline/config"
	"leadline/middleware"
	"leadline/realtime"
	"leadline/routes"
	"leadline/utils"
	"leadline/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "LEADLINE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry error reporting
	if err := utils.InitSentry(config.AppConfig.SentryDSN, config.AppConfig.Environment); err != nil {
		logger.Printf("Failed to initialize Sentry: %v", err)
	}
	defer utils.FlushSentry()

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Realtime fan-out hub and automation webhook client
	hub := realtime.NewHub()
	automation := utils.NewAutomationClient(
		config.AppConfig.AutomationWebhookURL,
		config.AppConfig.AutomationTimeout,
	)

	// Start delivery retry worker
	deliveryWorker := worker.NewDeliveryWorker(config.DB, automation, log.New(os.Stdout, "DELIVERY: ", log.LstdFlags))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deliveryWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, hub, automation)

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
