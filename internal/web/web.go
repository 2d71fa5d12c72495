// Package web serves the subscriber pages, the fetch API and operational
// endpoints.
package web

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

// Store is the persistence used by the web layer.
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, email, passwordHash string, now time.Time) (store.User, error)
	UserByEmail(ctx context.Context, email string) (store.User, error)
	CreateSession(ctx context.Context, userID string, now time.Time, ttl time.Duration) (store.Session, error)
	SessionUser(ctx context.Context, token string, now time.Time) (store.User, error)
	DeleteSession(ctx context.Context, token string) error
	Subscription(ctx context.Context, userID string) (store.Subscription, error)
	UpsertSubscription(ctx context.Context, sub store.Subscription) (store.Subscription, error)
	RecentRuns(ctx context.Context, userID string, limit int) ([]store.DigestRun, error)
}

// Fetcher retrieves one subreddit listing.
type Fetcher interface {
	Fetch(ctx context.Context, q source.Query) source.Outcome
}

// Composer builds digests and knows the delivery slot.
type Composer interface {
	Compose(ctx context.Context, sub store.Subscription, now time.Time) digest.Digest
	NextSend(now time.Time) time.Time
}

// Options configures a Server.
type Options struct {
	Store    Store
	Fetcher  Fetcher
	Composer Composer
	Session  config.SessionConfig
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server holds the handlers' dependencies.
type Server struct {
	store    Store
	fetcher  Fetcher
	composer Composer
	session  config.SessionConfig
	logger   *slog.Logger
	now      func() time.Time
	pages    map[string]*template.Template
}

// New validates opts and parses the page templates.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("web: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("web: fetcher is required")
	}
	if opts.Composer == nil {
		return nil, errors.New("web: composer is required")
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		composer: opts.Composer,
		session:  opts.Session,
		logger:   opts.Logger,
		now:      opts.Now,
		pages:    pages,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.session.CookieName == "" {
		s.session.CookieName = config.DefaultCookieName
	}
	if s.session.TTL.Duration <= 0 {
		s.session.TTL.Duration = config.DefaultSessionTTL
	}
	return s, nil
}

// Handler returns the router with middleware and routes attached.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		requestLogger(s.logger),
		middleware.Recoverer,
		s.loadUser,
	)

	r.Get("/", s.handleIndex)
	r.Get("/register", s.handleRegisterForm)
	r.Post("/register", s.handleRegister)
	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/dashboard", s.handleDashboard)
		r.Post("/subscription", s.handleSubscription)
		r.Get("/preview", s.handlePreview)
	})

	r.With(s.requireUserAPI).Get("/api/fetch", s.handleAPIFetch)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe serves Handler on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadTimeout.Duration,
		ReadTimeout:       cfg.ReadTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
