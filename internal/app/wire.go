package app

import (
	"context"
	"errors"
	"os"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"vaultline/internal/domain"
	"vaultline/internal/gateway"
	"vaultline/internal/logging"
	"vaultline/internal/metrics"
	"vaultline/internal/protocol/dpop"
	"vaultline/internal/protocol/shiv"
	"vaultline/internal/security"
	"vaultline/internal/server"
	"vaultline/internal/store"
)

// Wire bundles the stores, services and handlers of one vaultd instance.
type Wire struct {
	Config  *Config
	Logging *logging.Backend
	Metrics *metrics.Metrics

	DB       *gorm.DB
	Redis    *redis.Client
	Sessions *store.SessionStore
	Relay    *store.RelayStore

	Shiv      *shiv.Service
	DPoP      *dpop.Verifier
	Directory *gateway.Directory
	Gateway   *gateway.Gateway
	Server    *server.Server
}

// NewWire constructs the dependency graph from cfg. backend may be nil, in
// which case one is built from cfg.Logging. On error everything opened so far
// is closed.
func NewWire(ctx context.Context, cfg *Config, backend *logging.Backend) (w *Wire, err error) {
	if backend == nil {
		backend, err = logging.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
		if err != nil {
			return nil, err
		}
	}
	w = &Wire{Config: cfg, Logging: backend, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()
	log := backend.GetLogger("app")

	if err = os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
		return nil, err
	}

	// Durable tier.
	if w.DB, err = store.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return nil, err
	}

	// Fast tier is optional.
	var cache domain.SecretCache
	if cfg.Redis.Address != "" {
		if w.Redis, err = store.OpenRedis(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			return nil, err
		}
		cache = store.NewRedisSecretCache(w.Redis)
	} else {
		log.Warning("no Redis configured, session secrets are served from the database alone")
	}

	w.Sessions = store.NewSessionStore(
		cache,
		store.NewGormSessionRepository(w.DB),
		cfg.Session.PepperBytes(),
		cfg.Session.CacheTTL,
		backend.GetLogger("store"),
	)
	if w.Relay, err = store.OpenRelayStore(cfg.Relay.File, backend.GetLogger("relay")); err != nil {
		return nil, err
	}

	w.Shiv = shiv.New(w.Sessions, shiv.Config{
		KDFSalt:         cfg.Session.KDFSaltBytes(),
		IntegrityWindow: cfg.Session.IntegrityWindow,
	}, w.Metrics, backend.GetLogger("shiv"))
	w.DPoP = dpop.NewVerifier(w.Shiv, nil, w.Metrics, backend.GetLogger("dpop"))

	w.Directory = gateway.NewDirectory(w.Metrics)
	w.Gateway = gateway.New(w.Shiv, w.Relay, w.Directory, gateway.Config{
		ReadLimit:     cfg.Gateway.ReadLimit,
		PingInterval:  cfg.Gateway.PingInterval,
		VerifyTimeout: cfg.Gateway.VerifyTimeout,
		SendQueue:     cfg.Gateway.SendQueue,
	}, w.Metrics, backend.GetLogger("gateway"))

	w.Server = server.New(server.Config{
		SessionLifetime:       cfg.Session.Lifetime,
		MaxPrivilegedLifetime: cfg.Session.MaxPrivilegedLifetime,
		PublicURL:             cfg.Server.PublicURL,
		TrustForwardedProto:   cfg.Server.TrustForwardedProto,
	},
		w.Shiv,
		w.Sessions,
		security.NewSignedAssertionVerifier(cfg.Session.AssertionKeyBytes()),
		w.DPoP,
		w.Gateway,
		w.Metrics,
		backend.GetLogger("http"),
	)
	return w, nil
}

// Close releases the relay, database and Redis handles.
func (w *Wire) Close() error {
	var errs []error
	if w.Relay != nil {
		errs = append(errs, w.Relay.Close())
	}
	if w.DB != nil {
		errs = append(errs, store.CloseDatabase(w.DB))
	}
	if w.Redis != nil {
		errs = append(errs, w.Redis.Close())
	}
	return errors.Join(errs...)
}
