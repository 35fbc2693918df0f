package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"techclinic/internal/handlers/auth"
	"techclinic/internal/handlers/catalog"
	"techclinic/internal/handlers/repairjobs"
	"techclinic/internal/logging"
	"techclinic/internal/response"
	"techclinic/internal/session"
	"techclinic/internal/websocket"
)

// Router builds the HTTP handler for the dashboard backend.
func (a *App) Router() http.Handler {
	secure := a.Config.Session.SecureCookie

	authH := &auth.Handler{
		Sessions:     a.Sessions,
		Audit:        a.Audit,
		Logger:       logging.Component(a.Logger, "auth"),
		Login:        a.API.Login,
		Forget:       a.Workspaces.Drop,
		SecureCookie: secure,
	}
	catalogH := &catalog.Handler{
		Logger:    logging.Component(a.Logger, "catalog"),
		Client:    a.Client,
		Workspace: a.Workspace,
	}
	jobsH := &repairjobs.Handler{
		Audit:     a.Audit,
		Logger:    logging.Component(a.Logger, "repairjobs"),
		Workspace: a.Workspace,
	}
	requireSession := RequireSession(a.Sessions, secure)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logging.Component(a.Logger, "http")))
	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware(a.Limiter))
	r.Use(GzipMiddleware)

	r.Get("/healthz", a.health)

	r.Route("/auth", func(r chi.Router) {
		r.Use(RequireJSON)
		r.Post("/login", authH.HandleLogin)
		r.Post("/logout", authH.HandleLogout)
		r.With(requireSession).Get("/me", authH.HandleMe)
	})

	r.With(requireSession).Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		websocket.HandleWebSocket(a.Hub, w, r, sess.ID)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireSession)
		r.Use(RequireJSON)

		r.Get("/dashboard", catalogH.Dashboard)
		r.Get("/customers", catalogH.Customers)
		r.Get("/parts", catalogH.Parts)
		r.Get("/boxes", catalogH.Boxes)
		r.Get("/boxes/alerts", catalogH.Alerts)
		r.Get("/boxes/{id}/parts", catalogH.BoxParts)

		r.Route("/repair-jobs", func(r chi.Router) {
			r.Get("/", jobsH.List)
			r.Post("/", jobsH.Create)
			r.Get("/export", jobsH.Export)
			r.Get("/{id}", jobsH.Get)
			r.Put("/{id}", jobsH.Update)
			r.Delete("/{id}/detail", jobsH.Close)
			r.Get("/{id}/assignment", jobsH.Assignment)
			r.Post("/{id}/assignment", jobsH.Submit)
			r.Put("/{id}/assignment/box", jobsH.SelectBox)
			r.Put("/{id}/assignment/part", jobsH.SelectPart)
			r.Put("/{id}/assignment/quantity", jobsH.SetQuantity)
		})

		r.Get("/audit", jobsH.AuditLog)
	})

	return r
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]interface{}{
		"status":     "ok",
		"sessions":   a.Workspaces.Len(),
		"ws_clients": a.Hub.Count(),
	})
}
