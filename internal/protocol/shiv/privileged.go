package shiv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
)

// DefaultPrivilegedLifetime applies when IssuePrivilegedToken gets no lifetime.
const DefaultPrivilegedLifetime = 5 * time.Minute

// PrivilegedTokenClaims is the JWT body of a privileged token.
type PrivilegedTokenClaims struct {
	KID   domain.SessionGUID `json:"kid"`
	Scope string             `json:"scope"`
	Extra map[string]any     `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

func validScope(scope string) error {
	if scope == "" || scope == ScopeJWTSigning || strings.HasPrefix(scope, windowScopePrefix) {
		return domain.NewAuthError("invalid_scope", "scope is empty or reserved", nil)
	}
	return nil
}

// IssuePrivilegedToken mints a short-lived token for one scope, signed with
// HKDF(secret, salt, scope), and returns it with its exp. A token for one
// scope never verifies under another because the keys differ.
func (s *Service) IssuePrivilegedToken(
	ctx context.Context,
	session domain.SessionClaims,
	scope string,
	lifetime time.Duration,
	extra map[string]any,
) (string, time.Time, error) {
	if session.UserID == "" || session.GUID == "" {
		return "", time.Time{}, domain.NewAuthError("missing_session_claims", "user id and kid are required", nil)
	}
	if err := validScope(scope); err != nil {
		return "", time.Time{}, err
	}
	if lifetime <= 0 {
		lifetime = DefaultPrivilegedLifetime
	}

	secret, err := s.sessions.Get(ctx, session.GUID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return "", time.Time{}, domain.NewAuthError("session_not_found", "session not found", err)
		}
		return "", time.Time{}, err
	}
	key, err := crypto.DeriveScopedKey(secret, s.cfg.KDFSalt, scope)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.cfg.Now()
	expiresAt := jwt.NewNumericDate(now.Add(lifetime))
	claims := PrivilegedTokenClaims{
		KID:   session.GUID,
		Scope: scope,
		Extra: extra,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(session.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = string(session.GUID)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", time.Time{}, domain.NewCryptoError("token_sign_failed", "privileged token signing failed", err)
	}

	s.metrics.PrivilegedIssued()
	s.log.Infof("privileged token for scope %q issued to %s", scope, session.UserID)
	return signed, expiresAt.Time, nil
}

// VerifyPrivilegedToken checks a privileged token for the expected scope.
func (s *Service) VerifyPrivilegedToken(ctx context.Context, token, scope string) (*domain.PrivilegedClaims, error) {
	if err := validScope(scope); err != nil {
		return nil, err
	}

	claims := &PrivilegedTokenClaims{}
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
		return crypto.DeriveScopedKey(secret, s.cfg.KDFSalt, scope)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapTokenError(lookupErr, err)
	}
	if claims.Scope != scope {
		return nil, domain.NewAuthError("scope_mismatch", "token scope does not match", errors.New(claims.Scope))
	}

	return &domain.PrivilegedClaims{
		UserID:    domain.UserID(claims.Subject),
		GUID:      claims.KID,
		Scope:     claims.Scope,
		Extra:     claims.Extra,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
