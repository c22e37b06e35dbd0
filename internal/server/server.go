package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"gopkg.in/op/go-logging.v1"

	"vaultline/internal/domain"
	"vaultline/internal/metrics"
	"vaultline/internal/protocol/dpop"
	"vaultline/internal/protocol/shiv"
)

// SessionService is the SHIV surface the handlers need.
type SessionService interface {
	domain.SessionTokenVerifier
	GenerateSession(ctx context.Context, req shiv.GenerateRequest, lifetime time.Duration) (shiv.Session, error)
	VerifyIntegrity(ctx context.Context, guid domain.SessionGUID, body, tag []byte) (bool, error)
	IssuePrivilegedToken(
		ctx context.Context,
		session domain.SessionClaims,
		scope string,
		lifetime time.Duration,
		extra map[string]any,
	) (string, time.Time, error)
	Revoke(ctx context.Context, kidOrGUID string) error
}

// Config carries the HTTP-level settings.
type Config struct {
	// SessionLifetime is the lifetime of tokens minted by the handshake.
	SessionLifetime time.Duration
	// MaxPrivilegedLifetime caps the lifetime a client may request.
	MaxPrivilegedLifetime time.Duration
	// PublicURL, when set, is the scheme://host DPoP proofs are checked
	// against. Otherwise it is taken from the request.
	PublicURL string
	// TrustForwardedProto honours X-Forwarded-Proto when PublicURL is unset.
	// Enable it only behind a proxy that overwrites the header.
	TrustForwardedProto bool
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
}

// Server wires handlers to their collaborators.
type Server struct {
	cfg          Config
	shiv         SessionService
	sessions     domain.SessionStore
	secondFactor domain.SecondFactorVerifier
	dpop         *dpop.Verifier
	gateway      http.Handler
	metrics      *metrics.Metrics
	log          *logging.Logger
}

// New constructs a Server. gateway may be nil, in which case /v1/ws is not
// mounted.
func New(
	cfg Config,
	shivService SessionService,
	sessions domain.SessionStore,
	secondFactor domain.SecondFactorVerifier,
	dpopVerifier *dpop.Verifier,
	gateway http.Handler,
	m *metrics.Metrics,
	log *logging.Logger,
) *Server {
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = shiv.DefaultSessionLifetime
	}
	if cfg.MaxPrivilegedLifetime <= 0 {
		cfg.MaxPrivilegedLifetime = 15 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Server{
		cfg:          cfg,
		shiv:         shivService,
		sessions:     sessions,
		secondFactor: secondFactor,
		dpop:         dpopVerifier,
		gateway:      gateway,
		metrics:      m,
		log:          log,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/shiv/session", s.handleHandshake)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Delete("/shiv/session", s.handleRevoke)
			r.Get("/shiv/sessions", s.handleListSessions)
			r.Post("/shiv/privileged", s.handlePrivileged)
		})

		r.Get("/dpop/whoami", s.handleWhoAmI)

		if s.gateway != nil {
			r.Method(http.MethodGet, "/ws", s.gateway)
		}
	})
	return r
}
