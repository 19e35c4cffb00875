package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// TenantHeader carries the calling tenant's id on /api routes.
const TenantHeader = "X-Tenant-ID"

// SetupRoutes configures all HTTP routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks
	r.Get("/health", h.HealthCheck)
	r.Get("/health/ready", h.Readiness)

	// Gateway webhooks. The instance segment routes the event to its tenant;
	// without it the payload's instance id is used.
	r.Route("/webhooks/greenapi", func(r chi.Router) {
		r.Post("/", h.ReceiveWebhook)
		r.Post("/{instance}", h.ReceiveWebhook)
	})

	// Tenant API
	r.Route("/api", func(r chi.Router) {
		r.Use(requireTenant)
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Get("/{id}/stats", h.GetCampaignStats)
			r.Post("/{id}/actions", h.CampaignAction)
		})
	})

	// External scheduler triggers
	r.Route("/internal", func(r chi.Router) {
		r.Post("/campaigns/{id}/tick", h.TickCampaign)
		r.Post("/scheduler/run", h.RunScheduler)
	})

	return r
}

func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(TenantHeader) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing ` + TenantHeader + ` header"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
