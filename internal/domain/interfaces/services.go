package interfaces

import (
	"context"

	domaintypes "vaultline/internal/domain/types"
)

// SessionTokenVerifier resolves a session token to its verified claims.
type SessionTokenVerifier interface {
	VerifySessionToken(ctx context.Context, token string) (*domaintypes.SessionClaims, error)
}

// SecondFactorVerifier is the opaque second-factor ceremony. It returns the
// user id the assertion proves, or an error.
type SecondFactorVerifier interface {
	VerifySecondFactor(
		ctx context.Context,
		claimedUserID domaintypes.UserID,
		assertion []byte,
	) (domaintypes.UserID, error)
}
