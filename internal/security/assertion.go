// Package security holds the second-factor hook consulted before a SHIV
// handshake is accepted.
//
// The real ceremony (WebAuthn, TOTP, a vault unlock proof) lives outside
// this module. SignedAssertionVerifier is the stand-in deployed by default:
// an upstream authenticator that shares AssertionKey with vaultd signs the
// user id, and the handshake only proceeds for that user.
package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
)

// SignAssertion returns "userID.signature" for userID under key.
func SignAssertion(userID domain.UserID, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(userID))
	return string(userID) + "." + crypto.B64URL(h.Sum(nil))
}

// SignedAssertionVerifier accepts assertions produced by SignAssertion.
type SignedAssertionVerifier struct {
	key []byte
}

// NewSignedAssertionVerifier returns a verifier for key.
func NewSignedAssertionVerifier(key []byte) *SignedAssertionVerifier {
	return &SignedAssertionVerifier{key: append([]byte(nil), key...)}
}

// VerifySecondFactor checks the assertion signature and that it names the
// claimed user. An empty claim adopts the user from the assertion.
func (v *SignedAssertionVerifier) VerifySecondFactor(
	_ context.Context,
	claimedUserID domain.UserID,
	assertion []byte,
) (domain.UserID, error) {
	raw := string(assertion)
	i := strings.LastIndexByte(raw, '.')
	if i <= 0 {
		return "", domain.NewAuthError("second_factor_failed", "second factor rejected", nil)
	}
	user := domain.UserID(raw[:i])
	if !hmac.Equal([]byte(SignAssertion(user, v.key)), assertion) {
		return "", domain.NewAuthError("second_factor_failed", "second factor rejected", nil)
	}
	if claimedUserID != "" && claimedUserID != user {
		return "", domain.NewAuthError("second_factor_failed", "second factor rejected", nil)
	}
	return user, nil
}

// Compile-time assertion that SignedAssertionVerifier implements domain.SecondFactorVerifier.
var _ domain.SecondFactorVerifier = (*SignedAssertionVerifier)(nil)
