package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dmsqa/permcore/internal/auth"
	"github.com/dmsqa/permcore/internal/menus"
	"github.com/dmsqa/permcore/internal/observability"
	"github.com/dmsqa/permcore/internal/permissions"
	"github.com/dmsqa/permcore/internal/roles"
	"github.com/dmsqa/permcore/internal/users"
	"github.com/dmsqa/permcore/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	AuthMiddleware     auth.Middleware
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	MenusHandler       *menus.Handler
	PermissionsHandler *permissions.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with permcore defaults. The admin
// surfaces sit behind permission codes resolved through the same engine they
// manage; administrators bypass the checks.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.AuthMiddleware.Authenticate)

		r.Route("/auth/session", params.AuthHandler.MountProtectedRoutes)

		r.Route("/users", func(r chi.Router) {
			r.Use(params.AuthMiddleware.RequirePermission("system-users"))
			params.UsersHandler.MountRoutes(r)
		})
		r.Route("/roles", func(r chi.Router) {
			r.Use(params.AuthMiddleware.RequirePermission("system-roles"))
			params.RolesHandler.MountRoutes(r)
		})
		r.Route("/menus", func(r chi.Router) {
			r.Use(params.AuthMiddleware.RequirePermission("system-menus"))
			params.MenusHandler.MountRoutes(r)
		})
		r.Route("/permissions", func(r chi.Router) {
			r.Use(params.AuthMiddleware.RequirePermission("system-permissions"))
			params.PermissionsHandler.MountRoutes(r)
		})
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.AuthMiddleware.RequireAdmin)
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
