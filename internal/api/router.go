// Package api provides the HTTP API for GarageLink.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/garagelink/garagelink/internal/api/handler"
	"github.com/garagelink/garagelink/internal/api/middleware"
	"github.com/garagelink/garagelink/internal/config"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version        string
	BuildTime      string
	Logger         zerolog.Logger
	ServiceName    string
	Metrics        *middleware.Metrics
	TokenValidator middleware.TokenValidator
	DeviceService  handler.DeviceService
	CORS           config.CORSConfig
	RateLimit      config.RateLimitConfig
	RequireTLS     bool

	// ReadinessChecks are probed by GET /ops/ready.
	ReadinessChecks []handler.Check

	// Debug adds diagnostic fields to fault responses and device lists.
	Debug bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "garagelink-api"
	}

	// Global middleware - order matters
	r.Use(cors.Handler(corsOptions(cfg.CORS))) // Answer preflight before anything else
	r.Use(middleware.RequestID)                // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName))     // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.ReadinessChecks...)
	deviceHandler := handler.NewDeviceHandler(cfg.DeviceService, cfg.Debug)

	authMiddleware := middleware.Auth(cfg.TokenValidator)

	standard := middleware.StandardRateLimit
	if cfg.RateLimit.RequestsPerMinute > 0 {
		standard = middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimit.RequestsPerMinute,
			WindowLength: time.Minute,
		}
	}
	mutationRateLimit := middleware.RateLimitByUser(middleware.MutationRateLimit) // 30 req/min per user
	commandRateLimit := middleware.RateLimitByUser(middleware.CommandRateLimit)   // 10 req/min per user

	// Ops endpoints (public) - IP-based rate limiting
	r.Route("/ops", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.StandardRateLimit))
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
	})

	// Device endpoints (authenticated) - user-based rate limiting
	r.Route("/devices", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RateLimitByUser(standard))
		r.Use(middleware.RequireJSON)

		r.Get("/", deviceHandler.List)
		r.With(mutationRateLimit).Post("/claim/{deviceId}", deviceHandler.Claim)

		r.Route("/{deviceId}", func(r chi.Router) {
			r.Get("/", deviceHandler.Get)
			r.With(mutationRateLimit).Post("/share", deviceHandler.Grant)
			r.With(mutationRateLimit).Delete("/share", deviceHandler.Revoke)
			r.With(commandRateLimit).Post("/command", deviceHandler.SendCommand)
		})
	})

	return r
}

func corsOptions(c config.CORSConfig) cors.Options {
	return cors.Options{
		AllowedOrigins: c.AllowedOrigins,
		AllowedMethods: c.AllowedMethods,
		AllowedHeaders: c.AllowedHeaders,
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}
}
