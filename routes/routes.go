package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "leadline/controllers"
	"leadline/middleware"
	"leadline/realtime"
	"leadline/utils"
)

// SetupRoutes wires the public webhook surface, the realtime websocket and
// the authenticated dashboard API.
func SetupRoutes(app *fiber.App, db *gorm.DB, hub *realtime.Hub, automation *utils.AutomationClient) {
	// Initialize Stripe and OAuth from loaded config
	controller.InitStripe()
	controller.InitOAuth()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, db)
	SetupWebhookRoutes(app, db, hub, automation)
	SetupAPIRoutes(app, db, hub)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Google OAuth routes
	auth.Get("/google", controller.GoogleOAuth)
	auth.Get("/google/callback", controller.GoogleOAuthCallback)

	// Protected auth endpoints
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Get("/me", controller.GetCurrentUser)

	authLogger.Println("Authentication routes initialized successfully")
}

// SetupWebhookRoutes registers the public intake endpoints called by the
// automation webhook and the dashboard's reply form.
func SetupWebhookRoutes(app *fiber.App, db *gorm.DB, hub *realtime.Hub, automation *utils.AutomationClient) {
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags)
	webhookController := controller.NewWebhookController(db, webhookLogger, hub, automation)

	hooks := app.Group("", middleware.WebhookRateLimiter(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	hooks.Post("/hooks", webhookController.HandleHook)
	hooks.Post("/reply", webhookController.HandleReply)
	hooks.Post("/ai-classify", webhookController.HandleClassify)

	// Stripe calls this directly; signature verification is its auth.
	app.Post("/billing/webhook", controller.HandleBillingWebhook)

	// Realtime channel for the dashboard
	rtLogger := log.New(os.Stdout, "REALTIME: ", log.LstdFlags)
	app.Use("/realtime", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/realtime", websocket.New(controller.HandleRealtimeWS(hub, rtLogger)))

	webhookLogger.Println("Webhook routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, hub *realtime.Hub) {
	conversationController := controller.NewConversationController(db, log.New(os.Stdout, "CONVERSATION: ", log.LstdFlags), hub)
	leadController := controller.NewLeadController(db, log.New(os.Stdout, "LEAD: ", log.LstdFlags))

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Conversation routes
	conversation := api.Group("/conversations")
	conversation.Get("/", conversationController.GetConversations)
	conversation.Get("/:id", conversationController.GetConversation)
	conversation.Get("/:id/messages", conversationController.GetMessages)
	conversation.Put("/:id/status", conversationController.SetStatus)
	conversation.Put("/:id/ai-summary", conversationController.MergeAISummary)

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/stats", leadController.GetLeadStats)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)
	lead.Post("/import", leadController.ImportLeads)
	lead.Post("/classify", leadController.ClassifyLead)

	// Billing routes
	billing := api.Group("/billing")
	billing.Post("/checkout", controller.CreateCheckoutSession)
	billing.Post("/portal", controller.CreatePortalSession)

	log.Println("API routes initialized successfully")
}
