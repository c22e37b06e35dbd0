package shiv

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/metrics"
)

const (
	// ScopeJWTSigning is the HKDF scope of the session token signing key. It
	// is reserved and can never be requested as a privileged scope.
	ScopeJWTSigning = "jwt-signing"

	// DefaultIntegrityWindow is the width of one integrity time bucket.
	DefaultIntegrityWindow = 120 * time.Second

	// DefaultSessionLifetime applies when GenerateSession gets no lifetime.
	DefaultSessionLifetime = 24 * time.Hour
)

// Config holds protocol parameters shared with clients.
type Config struct {
	// KDFSalt is the HKDF salt for every scoped key. Clients need it to
	// compute integrity tags.
	KDFSalt []byte
	// IntegrityWindow defaults to DefaultIntegrityWindow.
	IntegrityWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// GenerateRequest is the input to GenerateSession.
type GenerateRequest struct {
	DeviceInfo         string
	ClientPublicKeyHex string
	UserID             domain.UserID
	// Claims are embedded under "payload" in the session token.
	Claims map[string]any
	// Thumbprint binds the token to a DPoP key (cnf.jkt) when non-empty.
	Thumbprint string
}

// Session is what the client receives from a completed handshake.
type Session struct {
	Token              string             `json:"token"`
	ServerPublicKeyHex string             `json:"serverPublicKeyHex"`
	GUID               domain.SessionGUID `json:"-"`
}

type confirmation struct {
	JKT string `json:"jkt"`
}

// SessionTokenClaims is the JWT body of a session token.
type SessionTokenClaims struct {
	KID          domain.SessionGUID `json:"kid"`
	UserID       domain.UserID      `json:"uid"`
	Device       string             `json:"dev,omitempty"`
	Confirmation *confirmation      `json:"cnf,omitempty"`
	Payload      map[string]any     `json:"payload,omitempty"`
	jwt.RegisteredClaims
}

// Service runs the server side of the handshake and everything keyed by a
// session secret. It holds no per-session state of its own.
type Service struct {
	sessions domain.SessionStore
	cfg      Config
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// New constructs a Service over sessions. m may be nil.
func New(sessions domain.SessionStore, cfg Config, m *metrics.Metrics, log *logging.Logger) *Service {
	if cfg.IntegrityWindow <= 0 {
		cfg.IntegrityWindow = DefaultIntegrityWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KDFSalt = append([]byte(nil), cfg.KDFSalt...)
	return &Service{sessions: sessions, cfg: cfg, metrics: m, log: log}
}

// GenerateSession completes the server half of the handshake.
//
// Steps:
//  1. Parse the client public key and generate a fresh server key pair.
//  2. Derive the session secret as SHA-256 of the ECDH agreement.
//  3. Persist the secret under a new GUID via the SessionStore.
//  4. Sign a session token with HKDF(secret, salt, "jwt-signing"), carrying
//     the GUID as kid in both the header and the claims.
func (s *Service) GenerateSession(
	ctx context.Context,
	req GenerateRequest,
	lifetime time.Duration,
) (Session, error) {
	if req.UserID == "" {
		return Session{}, domain.NewAuthError("missing_user", "user id is required", nil)
	}
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}

	clientPub, err := crypto.ParsePublicKeyHex(req.ClientPublicKeyHex)
	if err != nil {
		return Session{}, err
	}
	serverPriv, err := crypto.GenerateKeyPair()
	if err != nil {
		return Session{}, err
	}
	secret, err := crypto.SharedSecret(serverPriv, clientPub)
	if err != nil {
		return Session{}, err
	}

	guid := domain.SessionGUID(uuid.NewString())
	if err := s.sessions.Put(ctx, guid, secret, req.UserID, req.DeviceInfo); err != nil {
		return Session{}, err
	}

	signingKey, err := crypto.DeriveScopedKey(secret, s.cfg.KDFSalt, ScopeJWTSigning)
	if err != nil {
		return Session{}, err
	}

	now := s.cfg.Now()
	claims := SessionTokenClaims{
		KID:     guid,
		UserID:  req.UserID,
		Device:  req.DeviceInfo,
		Payload: req.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(req.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	if req.Thumbprint != "" {
		claims.Confirmation = &confirmation{JKT: req.Thumbprint}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = string(guid)
	signed, err := tok.SignedString(signingKey)
	if err != nil {
		return Session{}, domain.NewCryptoError("token_sign_failed", "session token signing failed", err)
	}

	s.metrics.SessionIssued()
	s.log.Infof("session established for %s (server key %s)",
		req.UserID, crypto.KeyFingerprint(serverPriv.PublicKey()))

	return Session{
		Token:              signed,
		ServerPublicKeyHex: crypto.PublicKeyHex(serverPriv.PublicKey()),
		GUID:               guid,
	}, nil
}

// VerifySessionToken checks a session token against its stored secret and
// returns its claims. A token whose session has been revoked fails with
// code session_not_found.
func (s *Service) VerifySessionToken(ctx context.Context, token string) (*domain.SessionClaims, error) {
	claims := &SessionTokenClaims{}
	var lookupErr error

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		guid, err := tokenGUID(t, claims.KID)
		if err != nil {
			return nil, err
		}
		secret, err := s.sessions.Get(ctx, guid)
		if err != nil {
			lookupErr = err
			return nil, err
		}
		return crypto.DeriveScopedKey(secret, s.cfg.KDFSalt, ScopeJWTSigning)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapTokenError(lookupErr, err)
	}

	out := &domain.SessionClaims{
		UserID:     claims.UserID,
		GUID:       claims.KID,
		DeviceInfo: claims.Device,
		Payload:    claims.Payload,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if claims.Confirmation != nil {
		out.Thumbprint = claims.Confirmation.JKT
	}
	return out, nil
}

// Revoke deletes the session identified by a KID or GUID. Every token and
// integrity tag derived from its secret stops verifying immediately.
func (s *Service) Revoke(ctx context.Context, kidOrGUID string) error {
	if kidOrGUID == "" {
		return domain.NewAuthError("missing_kid", "session id is required", nil)
	}
	if err := s.sessions.Delete(ctx, kidOrGUID); err != nil {
		return err
	}
	s.metrics.SessionRevoked()
	s.log.Noticef("session revoked")
	return nil
}

// tokenGUID picks the session GUID from the claims, falling back to the JOSE
// header. When both are present they must agree.
func tokenGUID(t *jwt.Token, claimed domain.SessionGUID) (domain.SessionGUID, error) {
	header, _ := t.Header["kid"].(string)
	switch {
	case claimed == "" && header == "":
		return "", errors.New("token carries no kid")
	case claimed == "":
		return domain.SessionGUID(header), nil
	case header != "" && header != string(claimed):
		return "", errors.New("header and claims kid differ")
	}
	return claimed, nil
}

func mapTokenError(lookupErr, err error) error {
	switch {
	case lookupErr != nil && domain.KindOf(lookupErr) == domain.KindNotFound:
		return domain.NewAuthError("session_not_found", "session not found", lookupErr)
	case lookupErr != nil:
		return lookupErr
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.NewExpiredError("token_expired", "token expired", err)
	default:
		return domain.NewAuthError("invalid_token", "invalid token", err)
	}
}

// Compile-time assertion that Service implements domain.SessionTokenVerifier.
var _ domain.SessionTokenVerifier = (*Service)(nil)
