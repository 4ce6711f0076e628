package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ldapapi/internal/config"
	"ldapapi/internal/ldap"
	"ldapapi/internal/monitor"
	"ldapapi/internal/storage"
)

// Directory is the directory engine behind the routes.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (ldap.Principal, error)
	AuthenticateMember(ctx context.Context, username, password, group string) (ldap.Principal, error)
	InactiveAccounts(ctx context.Context, username, password string, days int) (*ldap.Report, error)
	TestConnection(ctx context.Context) error
	HasServiceAccount() bool
}

var _ Directory = (*ldap.Client)(nil)

// Auditor is used to record audit events.
type Auditor interface {
	Log(ctx context.Context, e storage.Event) error
}

// API holds the dependencies of the HTTP handlers.
type API struct {
	cfg      config.Config
	dir      Directory
	tokens   *Tokens
	audits   Auditor
	log      *zap.Logger
	probe    func(ctx context.Context) monitor.Status
	started  time.Time
	validate *validator.Validate
}

// Option customizes an API.
type Option func(*API)

// WithAuditor records every login and report request.
func WithAuditor(a Auditor) Option {
	return func(api *API) { api.audits = a }
}

// WithProbe replaces the reachability probe used by /health.
func WithProbe(p func(ctx context.Context) monitor.Status) Option {
	return func(api *API) { api.probe = p }
}

// NewAPI wires the handlers.
func NewAPI(cfg config.Config, dir Directory, tokens *Tokens, log *zap.Logger, opts ...Option) *API {
	if log == nil {
		log = zap.NewNop()
	}
	api := &API{
		cfg:      cfg,
		dir:      dir,
		tokens:   tokens,
		log:      log.Named("http"),
		started:  time.Now(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	api.probe = func(ctx context.Context) monitor.Status {
		return monitor.Probe(ctx, cfg.LDAPURL, monitor.DefaultProbeTimeout)
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

// NewRouter configures the HTTP router.
func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(api.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(securityHeaders)
	r.Use(corsMiddleware(api.cfg.CORSOrigins))

	if rateLimiter := NewRateLimiter(api.cfg.RateLimitRequests, api.cfg.RateLimitWindow, api.log); rateLimiter != nil {
		r.Use(rateLimiter)
	}

	r.Get("/health", api.handleHealth)
	r.Get("/health/ready", api.handleReady)

	r.Post("/login", api.handleLogin)
	r.Post("/login/group", api.handleGroupLogin)
	r.Post("/lastLogon/report", api.handleInactiveReport)

	r.With(RequireToken(api.tokens)).Get("/me", api.handleMe)

	mountDocs(r)

	return r
}
