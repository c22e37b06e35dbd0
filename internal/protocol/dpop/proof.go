package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vaultline/internal/crypto"
)

// DefaultProofLifetime is the exp offset NewProof uses when none is given.
const DefaultProofLifetime = time.Minute

// NewProof signs a DPoP proof for one request with key. accessToken, when
// non-empty, is bound through the ath claim.
func NewProof(
	key *ecdsa.PrivateKey,
	method, targetURL, accessToken string,
	now time.Time,
	lifetime time.Duration,
) (string, error) {
	var signing jwt.SigningMethod
	switch key.Curve {
	case elliptic.P256():
		signing = jwt.SigningMethodES256
	case elliptic.P384():
		signing = jwt.SigningMethodES384
	default:
		return "", errors.New("dpop: key must be P-256 or P-384")
	}
	jwk, err := PublicJWK(&key.PublicKey)
	if err != nil {
		return "", err
	}
	if lifetime <= 0 {
		lifetime = DefaultProofLifetime
	}

	claims := ProofClaims{
		HTM: method,
		HTU: targetURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		claims.ATH = crypto.B64URL(sum[:])
	}

	tok := jwt.NewWithClaims(signing, claims)
	tok.Header["typ"] = ProofType
	tok.Header["jwk"] = jwk
	return tok.SignedString(key)
}

// Thumbprint returns the RFC 7638 thumbprint of key's public half, the value
// to send as jkt during the handshake.
func Thumbprint(key *ecdsa.PublicKey) (string, error) {
	jwk, err := PublicJWK(key)
	if err != nil {
		return "", err
	}
	return ComputeJWKThumbprint(jwk)
}
