package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lessonpay/internal/config"
	"lessonpay/internal/db"
	"lessonpay/internal/effects"
	"lessonpay/internal/handlers"
	"lessonpay/internal/middleware"
	"lessonpay/internal/stripefetch"
	"lessonpay/internal/webhook"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// Server represents the HTTP server
type Server struct {
	app        *fiber.App
	config     *config.Config
	database   *db.DB
	dispatcher *effects.Dispatcher
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	// Initialize database
	database, err := db.New(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run database migrations
	if err := database.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	// Side-effect dispatcher: GA4 tracking, completion notices, settlement
	// rebuilds. All best-effort, none of it blocks webhook processing.
	dispatcher := effects.NewDispatcher(cfg.Effects.QueueSize)
	hub := effects.NewHub(dispatcher, effects.NewGA4Client(&cfg.Analytics), nil, nil)

	processor := webhook.NewProcessor(database, database, stripefetch.New(), hub)

	// Create Fiber app
	fiberConfig := fiber.Config{
		AppName:      "LessonPay API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	}

	app := fiber.New(fiberConfig)

	s := &Server{
		app:        app,
		config:     cfg,
		database:   database,
		dispatcher: dispatcher,
	}

	s.setupMiddleware()
	s.setupRoutes(processor)

	return s, nil
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.app.Use(recover.New())

	// Request ID middleware - must be early to ensure ID is available for logging
	s.app.Use(middleware.RequestID())

	// Security headers middleware - sets CSP, X-Frame-Options, etc.
	s.app.Use(middleware.SecurityHeaders())

	// Logger middleware - includes request ID
	// Use JSON format in production for log aggregators, text format for development
	if s.config.IsProduction() {
		s.app.Use(logger.New(logger.Config{
			Format: `{"time":"${time}","status":${status},"method":"${method}","path":"${path}","latency":"${latency}","ip":"${ip}","request_id":"${locals:request_id}"}` + "\n",
		}))
	} else {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${method} ${path} ${latency} [${locals:request_id}]\n",
		}))
	}

	// Rate limiting middleware. Health and webhook endpoints are exempt:
	// throttling Stripe deliveries would turn redeliveries into a storm.
	rateLimiter := middleware.NewRateLimitMiddleware(&s.config.RateLimit)
	s.app.Use(rateLimiter.Middleware())
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(processor *webhook.Processor) {
	// Health handler
	healthHandler := handlers.NewHealthHandler(s.database, s.config)
	healthHandler.RegisterRoutes(s.app)

	// Stripe webhook handler (no auth required - verified via signature)
	stripeWebhookHandler := handlers.NewStripeWebhookHandler(processor, &s.config.Stripe, s.config.Webhook.ProcessTimeout)
	s.app.Post("/webhooks/stripe", stripeWebhookHandler.HandleWebhook)

	// 404 handler
	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":      "Not found",
			"message":    "The requested endpoint does not exist",
			"path":       c.Path(),
			"request_id": middleware.GetRequestID(c),
		})
	})
}

// Start starts the HTTP server and the side-effect dispatcher
func (s *Server) Start(ctx context.Context) error {
	s.dispatcher.Start(ctx)

	addr := fmt.Sprintf(":%s", s.config.Server.Port)
	slog.Info("starting LessonPay API server", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")

	// Drain queued side effects before the process exits
	s.dispatcher.Stop()

	// Close database connection
	if s.database != nil {
		s.database.Close()
	}

	// Shutdown Fiber
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler handles errors globally
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	requestID := middleware.GetRequestID(c)

	// Log the error with request ID
	slog.Error("request error", "error", err, "request_id", requestID, "status", code)

	// Return JSON response
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"timestamp":  time.Now().Unix(),
		"request_id": requestID,
	})
}
