package server

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"techclinic/internal/apiclient"
	"techclinic/internal/audit"
	"techclinic/internal/config"
	"techclinic/internal/logging"
	"techclinic/internal/repair"
	"techclinic/internal/session"
	"techclinic/internal/websocket"
)

// App holds shared dependencies for the application.
type App struct {
	DB         *sql.DB
	Hub        *websocket.Hub
	Sessions   *session.Store
	Workspaces *repair.Registry
	Audit      *audit.Ledger
	Limiter    *RateLimiter

	// API is the unauthenticated client; per-session clients derive from it.
	API *apiclient.Client

	Config *config.Config
	Logger *zap.Logger
}

// NewApp wires the application around an open database. Options let tests
// swap the API client.
func NewApp(cfg *config.Config, db *sql.DB, logger *zap.Logger, opts ...apiclient.Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := websocket.NewHub(logging.Component(logger, "ws"))
	opts = append([]apiclient.Option{
		apiclient.WithTimeout(cfg.API.Timeout.Duration),
		apiclient.WithLogger(logging.Component(logger, "api")),
	}, opts...)

	a := &App{
		DB:      db,
		Hub:     hub,
		Audit:   audit.NewLedger(db, hub, logging.Component(logger, "audit")),
		Limiter: NewRateLimiter(),
		API:     apiclient.New(cfg.API.BaseURL, opts...),
		Config:  cfg,
		Logger:  logger,
	}

	wopts := repair.Options{
		SampleFallback:          cfg.Workflow.SampleFallback,
		StrictTransitions:       cfg.Workflow.StrictTransitions,
		RefreshBoxesAfterAssign: cfg.Workflow.RefreshBoxesAfterAssign,
	}
	wlog := logging.Component(logger, "repair")
	a.Workspaces = repair.NewRegistry(func(sessionID, token string) *repair.Workspace {
		return repair.NewWorkspace(a.API.WithToken(token), wopts, hub.For(sessionID), wlog.With(zap.String("session", sessionID)))
	})
	// Expired sessions take their workspace, and its API token, with them.
	a.Sessions = session.NewStore(db, session.Options{
		TTL:         cfg.Session.TTL.Duration,
		IdleTimeout: cfg.Session.IdleTimeout.Duration,
		BcryptCost:  cfg.Session.BcryptCost,
		OnExpire:    a.Workspaces.Drop,
	}, logging.Component(logger, "session"))
	return a
}

func (a *App) session(r *http.Request) *session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}

// Client returns the API client bound to the request's session token.
func (a *App) Client(r *http.Request) *apiclient.Client {
	if sess := a.session(r); sess != nil {
		return a.API.WithToken(sess.APIToken)
	}
	return a.API
}

// Workspace returns the request session's workspace. Only valid behind
// RequireSession.
func (a *App) Workspace(r *http.Request) *repair.Workspace {
	sess := a.session(r)
	return a.Workspaces.Get(sess.ID, sess.APIToken)
}
