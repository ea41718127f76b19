// Package router assembles the chi HTTP surface: public webhooks and the
// doctor directory, the key-guarded tenant API, the JWT-guarded admin
// surface and the webchat widget.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medagenda/citas-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/medagenda/citas-ai-platform/internal/http/middleware"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/webchat"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unmounted, so a worker-only deployment can run the same binary with a
// slimmer surface.
type Config struct {
	Logger *logging.Logger

	WhatsAppWebhook     *handlers.WhatsAppWebhookHandler
	StripeWebhook       *payments.PlatformWebhookHandler
	SubscriptionWebhook *payments.SubscriptionWebhookHandler
	OAuth               *handlers.OAuthHandler
	Directory           *handlers.DirectoryHandler
	Webchat             *webchat.Handler
	Health              *handlers.HealthHandler
	MetricsHandler      http.Handler

	AccountsAPI *handlers.AccountsAPIHandler
	PaymentsAPI *handlers.PaymentsAPIHandler
	BookingsAPI *handlers.BookingsAPIHandler
	Admin       *handlers.AdminHandler

	// APIKeyHeader defaults to X-API-Key when empty; any key in APIKeys grants
	// access so rotations can overlap.
	APIKeyHeader   string
	APIKeys        []string
	AdminJWTSecret string

	CORSAllowedOrigins []string
	// Requests/second per IP on the public directory surface. Zero disables
	// the limiter.
	DirectoryRateLimit float64
	DirectoryRateBurst int
}

// New creates the chi router with all configured routes mounted.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, webhooks, OAuth, directory, webchat.
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/healthz", cfg.Health.Healthz)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WhatsAppWebhook != nil {
			public.Get("/webhooks/whatsapp", cfg.WhatsAppWebhook.Verify)
			public.Post("/webhooks/whatsapp", cfg.WhatsAppWebhook.Receive)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.SubscriptionWebhook != nil {
			public.Post("/webhooks/stripe/subscription", cfg.SubscriptionWebhook.Handle)
		}
		if cfg.OAuth != nil {
			public.Route("/oauth", func(oauth chi.Router) {
				oauth.Get("/authorize", cfg.OAuth.Authorize)
				oauth.Get("/callback", cfg.OAuth.Callback)
			})
		}
		if cfg.Directory != nil {
			public.Route("/api/v1/directory", func(dir chi.Router) {
				if cfg.DirectoryRateLimit > 0 {
					dir.Use(httpmiddleware.RateLimit(cfg.DirectoryRateLimit, cfg.DirectoryRateBurst))
				}
				dir.Get("/search", cfg.Directory.Search)
				dir.Get("/{id}/slots", cfg.Directory.Slots)
				dir.Post("/{id}/bookings", cfg.Directory.CreateBooking)
			})
		}
		if cfg.Webchat != nil {
			public.Route("/webchat", func(chat chi.Router) {
				chat.Get("/ws", cfg.Webchat.HandleWebSocket)
				chat.Post("/message", cfg.Webchat.HandleMessage)
				chat.Get("/history", cfg.Webchat.HandleHistory)
				chat.Get("/widget.js", cfg.Webchat.HandleWidgetJS)
			})
		}
	})

	// Key-guarded tenant API. A Group rather than a /api/v1 mount so the
	// public directory routes can live under the same prefix without the key.
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.APIKey(cfg.APIKeyHeader, cfg.APIKeys))

		if cfg.AccountsAPI != nil {
			api.Post("/api/v1/accounts", cfg.AccountsAPI.Create)
			api.Get("/api/v1/accounts", cfg.AccountsAPI.List)
			api.Get("/api/v1/accounts/{id}", cfg.AccountsAPI.Get)
			api.Patch("/api/v1/accounts/{id}/status", cfg.AccountsAPI.SetStatus)
			api.Post("/api/v1/accounts/{id}/register", cfg.AccountsAPI.RegisterPhone)
		}
		if cfg.PaymentsAPI != nil {
			api.Post("/api/v1/accounts/{id}/payments/onboarding", cfg.PaymentsAPI.StartOnboarding)
			api.Get("/api/v1/accounts/{id}/payments/status", cfg.PaymentsAPI.OnboardingStatus)
			api.Post("/api/v1/accounts/{id}/subscription/checkout", cfg.PaymentsAPI.SubscriptionCheckout)
			api.Post("/api/v1/accounts/{id}/subscription/portal", cfg.PaymentsAPI.SubscriptionPortal)
			api.Get("/api/v1/tiers", cfg.PaymentsAPI.ListTiers)
		}
		if cfg.BookingsAPI != nil {
			api.Get("/api/v1/bookings", cfg.BookingsAPI.List)
			api.Get("/api/v1/bookings/{id}", cfg.BookingsAPI.Get)
		}
	})

	// Admin surface.
	if cfg.Admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.Get("/conversations/{phone}", cfg.Admin.GetConversations)
			admin.Delete("/conversations/{phone}", cfg.Admin.DeleteConversations)
			admin.Post("/accounts/{id}/subscription/assign", cfg.Admin.AssignSubscription)
			admin.Get("/stats", cfg.Admin.Stats)
		})
	}

	return r
}
