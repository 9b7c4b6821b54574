// Package web serves the dashboard page, the JSON API and the admin
// endpoints.
package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/osa030/tastedeck/internal/app/dashboard"
	"github.com/osa030/tastedeck/internal/app/session"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/infra/cache"
	"github.com/osa030/tastedeck/internal/infra/logger"
	"github.com/osa030/tastedeck/internal/infra/spotify"
)

//go:embed templates/*.html
var templateFS embed.FS

// UserClient is a provider client bound to one user's token.
type UserClient interface {
	dashboard.Catalog
	CurrentUser(ctx context.Context) (*spotify.User, error)
	Token() (*oauth2.Token, error)
}

// Authenticator runs the authorization-code flow.
type Authenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error)
}

// ConnectFunc builds a client for a stored token.
type ConnectFunc func(ctx context.Context, tok *oauth2.Token) UserClient

// Dashboard defines the pipeline operations served over HTTP.
type Dashboard interface {
	Suggestions(ctx context.Context, req dashboard.Request) (suggestion.Set, error)
	Dashboard(ctx context.Context, req dashboard.Request) (dashboard.View, error)
	History(ctx context.Context, req dashboard.Request) (listening.History, error)
	Purge() int
	Stats() cache.Stats
}

// Config holds web settings.
type Config struct {
	SigningKey    string
	SecureCookies bool
	SessionTTL    time.Duration
	AdminToken    string
	RateLimit     int
	RateWindow    time.Duration
	DefaultWindow listening.Window
}

// Server holds the HTTP handlers.
type Server struct {
	cfg      Config
	auth     Authenticator
	connect  ConnectFunc
	svc      Dashboard
	sessions session.Store
	signer   signer
	pages    *template.Template
}

// NewServer creates a server.
func NewServer(cfg Config, auth Authenticator, connect ConnectFunc, svc Dashboard, sessions session.Store) (*Server, error) {
	if len(cfg.SigningKey) < 16 {
		return nil, errors.New("signing key must be at least 16 bytes")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if !cfg.DefaultWindow.Valid() {
		cfg.DefaultWindow = listening.WindowMedium
	}

	pages, err := template.New("pages").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse templates")
	}

	return &Server{
		cfg:      cfg,
		auth:     auth,
		connect:  connect,
		svc:      svc,
		sessions: sessions,
		signer:   signer{key: []byte(cfg.SigningKey)},
		pages:    pages,
	}, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.AccessLog()...)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)
	r.Post("/logout", s.handleLogout)

	r.With(s.requireSession(false)).Get("/", s.handleDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Use(s.requireSession(true))
		r.Post("/suggestions", s.handleSuggestions)
		r.Get("/suggestions", s.handleSuggestions)
		r.Get("/history", s.handleHistory)
		r.Get("/history.csv", s.handleHistoryCSV)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/cache", s.handleCacheStats)
		r.Delete("/cache", s.handlePurgeCache)
	})

	return r
}
