// Package api exposes the HTTP surface of the credential service:
// admin login, batch issue/revoke, capability-token downloads, and the
// live-connection and live-certificate views.
package api

import (
	"context"
	_ "embed"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/easyvpn/easyvpn/auth"
	"github.com/easyvpn/easyvpn/fleet"
	"github.com/easyvpn/easyvpn/mgmt"
	"github.com/easyvpn/easyvpn/token"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Lifecycle is the batch issue/revoke surface of the orchestrator.
type Lifecycle interface {
	IssueAll(ctx context.Context, identities []string) []fleet.Outcome
	RevokeAll(ctx context.Context, identities []string) []fleet.Outcome
}

// CertDirectory enumerates live client certificates.
type CertDirectory interface {
	ListLive(ctx context.Context) ([]string, error)
}

// SessionSource reports the daemon's live client sessions.
type SessionSource interface {
	Status(ctx context.Context) ([]mgmt.Session, error)
}

// ProfileSource streams a packaged profile for a verified capability.
type ProfileSource interface {
	Stream(ctx context.Context, identity, passphrase string, w io.Writer) error
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	tokens   *token.Codec
	admin    *auth.Verifier
	fleet    Lifecycle
	certs    CertDirectory
	sessions SessionSource
	profiles ProfileSource
	logger   *slog.Logger
	audit    *auditLogger
	store    *AuditStore
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAuditStore enables persistent audit storage.
func WithAuditStore(store *AuditStore) Option {
	return func(a *API) { a.store = store }
}

// New creates a new API instance.
func New(
	tokens *token.Codec,
	admin *auth.Verifier,
	lifecycle Lifecycle,
	certs CertDirectory,
	sessions SessionSource,
	profiles ProfileSource,
	opts ...Option,
) *API {
	a := &API{
		tokens:   tokens,
		admin:    admin,
		fleet:    lifecycle,
		certs:    certs,
		sessions: sessions,
		profiles: profiles,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger, a.store)
	return a
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Post("/login", a.Login)
	r.Get("/download", a.Download)

	r.Group(func(r chi.Router) {
		r.Use(a.AdminMiddleware)
		r.Post("/create", a.Create)
		r.Post("/revoke", a.Revoke)
		r.Get("/connected-users", a.ConnectedUsers)
		r.Get("/valid-users", a.ValidUsers)
		r.Get("/audit", a.ListAudit)
	})

	return r
}
