// Package router assembles the HTTP surface of the service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/textdesk/textdesk/internal/api/handlers"
	httpmiddleware "github.com/textdesk/textdesk/internal/http/middleware"
	"github.com/textdesk/textdesk/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Webhooks           *handlers.WebhookHandler
	Inbox              *handlers.InboxHandler
	Settings           *handlers.SettingsHandler
	MetricsHandler     http.Handler
	HealthCheck        http.HandlerFunc
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.HealthCheck != nil {
		r.Get("/health", cfg.HealthCheck)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhooks != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/sms", cfg.Webhooks.HandleSMS)
			r.Post("/mms", cfg.Webhooks.HandleMMS)
		})
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Inbox != nil {
			r.Mount("/conversations", cfg.Inbox.Routes())
		}
		if cfg.Settings != nil {
			r.Mount("/settings", cfg.Settings.Routes())
		}
	})

	return r
}
