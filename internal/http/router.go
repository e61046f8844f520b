package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/http/handlers"
	"github.com/phoneauth/server/internal/middleware"
)

// Deps are the handlers and collaborators the router mounts. Telegram is
// optional; the webhook route is only registered when it is set.
type Deps struct {
	Auth      *handlers.AuthHandler
	Admin     *handlers.AdminHandler
	Telegram  *handlers.TelegramHandler
	Health    http.Handler
	Users     middleware.UserResolver
	AuthLimit *middleware.RateLimiter
	Log       zerolog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimw.Recoverer)

	if d.Health != nil {
		r.Method(http.MethodGet, "/health", d.Health)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.AuthLimit != nil {
				r.Use(middleware.RateLimitMiddleware(d.AuthLimit, middleware.GetIPKey))
			}
			r.Post("/register", d.Auth.HandleRegister)
			r.Post("/login", d.Auth.HandleLogin)
		})
		r.Post("/refresh", d.Auth.HandleRefresh)
		r.Post("/logout", d.Auth.HandleLogout)
	})

	if d.Telegram != nil {
		r.Post("/telegram/webhook", d.Telegram.HandleWebhook)
	}

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.Users))
		r.Get("/me", d.Auth.HandleMe)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireActive)
			r.Use(middleware.RequireAdmin)

			r.Get("/users", d.Admin.HandleListUsers)
			r.Post("/users", d.Admin.HandleCreateUser)
			r.Get("/users/{id}", d.Admin.HandleGetUser)
			r.Patch("/users/{id}/role", d.Admin.HandleUpdateRole)
			r.Patch("/users/{id}/status", d.Admin.HandleUpdateStatus)
			r.Delete("/users/{id}", d.Admin.HandleDeleteUser)
			r.Get("/admins", d.Admin.HandleListAdmins)
			r.Get("/stats", d.Admin.HandleStats)
		})
	})

	return r
}
