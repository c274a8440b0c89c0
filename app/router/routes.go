// Package router provides HTTP routing, middleware configuration, and server setup for the admin API
package router

import (
	"encoding/json"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/ReZill392/Thesit-sub000/app/handlers"
	"github.com/ReZill392/Thesit-sub000/app/middleware"
	businessflow "github.com/ReZill392/Thesit-sub000/business_flow"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Schedule handlers.ScheduleHandlerInterface
	Mining   handlers.MiningHandlerInterface
	Sync     handlers.SyncHandlerInterface
	Health   *handlers.HealthHandler
}

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      *config.ProductionConfig
	handlers Handlers
	log      *logrus.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(cfg *config.ProductionConfig, h Handlers, log *logrus.Logger) *FiberRouter {
	r := &FiberRouter{cfg: cfg, handlers: h, log: log}
	r.app = fiber.New(fiber.Config{
		AppName:      "Facebook Messenger Automation API",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	r.app.Get("/health", r.handlers.Health.Health)
	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	schedule := r.app.Group("/schedule")
	schedule.Post("/activate", r.handlers.Schedule.Activate)
	schedule.Post("/deactivate", r.handlers.Schedule.Deactivate)
	schedule.Post("/deactivate-knowledge-group", r.handlers.Schedule.DeactivateKnowledgeGroup)
	schedule.Post("/reactivate-knowledge-group", r.handlers.Schedule.ReactivateKnowledgeGroup)
	schedule.Get("/active/:page_id", r.handlers.Schedule.ListActive)
	schedule.Post("/reload/:page_id", r.handlers.Schedule.Reload)

	r.app.Post("/update-user-inactivity/:page_id", r.handlers.Schedule.UpdateUserInactivity)

	mining := r.app.Group("/mining-status")
	mining.Post("/mine/:page_id", r.handlers.Mining.Mine)
	mining.Post("/reset/:page_id", r.handlers.Mining.Reset)

	sync := r.app.Group("/sync")
	sync.Post("/customers/:page_id", r.handlers.Sync.ImportCustomers)
	sync.Post("/page/:page_id", r.handlers.Sync.SyncPage)

	r.app.Use(r.notFoundHandler)

	r.log.Info("routes configured")
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    businessflow.RequestIDKey,
		Generator: uuid.NewString,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.log.WithFields(logrus.Fields{
				"request_id": requestid.FromContext(c),
				"path":       c.Path(),
				"method":     c.Method(),
				"panic":      e,
			}).Error("panic in handler")
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		AllowCredentials: r.cfg.Security.AllowCredentials,
		ExposeHeaders:    []string{businessflow.RequestIDKey},
		MaxAge:           utils.CORSMaxAge,
	}))

	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics(r.cfg.Metrics.Path))
	}

	if r.cfg.Security.GlobalRateLimit > 0 {
		r.app.Use(limiter.New(limiter.Config{
			Max:        r.cfg.Security.GlobalRateLimit,
			Expiration: r.cfg.Security.RateLimitWindow,
			LimitReached: func(c fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
					Success: false,
					Message: "Too many requests. Please try again later.",
					Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
				})
			},
			Next: func(c fiber.Ctx) bool {
				return c.Path() == "/health"
			},
		}))
	}

	r.app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	r.app.Use(middleware.RequestLogger(r.log))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.log.WithField("address", address).Info("starting HTTP server")
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// errorHandler renders errors that escaped a handler
func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	r.log.WithError(err).WithFields(logrus.Fields{
		"status":     code,
		"path":       c.Path(),
		"request_id": requestid.FromContext(c),
	}).Error("unhandled request error")

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: "An internal server error occurred",
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}
