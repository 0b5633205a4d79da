// Package api provides the HTTP API of the push gateway.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/handler"
	"github.com/pushgate/pushgate/internal/api/middleware"
	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/notification"
	"github.com/pushgate/pushgate/internal/provider/resilience"
	"github.com/pushgate/pushgate/internal/topic"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Authenticator middleware.Authenticator
	Devices       *device.Service
	Topics        *topic.Service
	Notifications *notification.Engine

	// Database and Providers feed the readiness probe. Both are optional.
	Database  handler.Pinger
	Providers *resilience.Registry

	// RequestsPerMinute is the per-application rate limit. Zero uses the default.
	RequestsPerMinute int

	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pushgate-api"
	}

	rateLimit := middleware.StandardRateLimit
	if cfg.RequestsPerMinute > 0 {
		rateLimit = middleware.RateLimitConfig{RequestLimit: cfg.RequestsPerMinute, WindowLength: time.Minute}
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // Reject proxied plain HTTP
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, models.NewMethodNotAllowed(middleware.GetRequestID(r.Context()), r.Method))
	})

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Database:  cfg.Database,
		Providers: cfg.Providers,
	})
	deviceHandler := handler.NewDeviceHandler(cfg.Devices, cfg.Logger)
	topicHandler := handler.NewTopicHandler(cfg.Topics, cfg.Logger)
	notificationHandler := handler.NewNotificationHandler(cfg.Notifications, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		// Public probes
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)

		// Everything else is scoped to the caller's application.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Authenticator, cfg.Logger))
			r.Use(middleware.RateLimitByApplication(rateLimit))
			r.Use(middleware.RequireJSON)

			r.Route("/devices", func(r chi.Router) {
				r.Post("/", deviceHandler.RegisterDevice)
				r.Get("/", deviceHandler.ListDevices)
				r.Delete("/{id}", deviceHandler.DeleteDevice)
			})

			r.Route("/topics", func(r chi.Router) {
				r.Post("/", topicHandler.CreateTopic)
				r.Get("/", topicHandler.ListTopics)
				r.Delete("/{id}", topicHandler.DeleteTopic)
			})

			r.Route("/subscriptions/{topicId}", func(r chi.Router) {
				r.Post("/subscribe", topicHandler.Subscribe)
				r.Delete("/unsubscribe", topicHandler.Unsubscribe)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Post("/", notificationHandler.CreateNotification)
				r.Get("/", notificationHandler.ListNotifications)
				r.Get("/{id}", notificationHandler.GetNotification)
				r.Post("/{id}/cancel", notificationHandler.CancelNotification)
			})
		})
	})

	return r
}
