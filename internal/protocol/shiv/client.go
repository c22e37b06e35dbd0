package shiv

import (
	"crypto/ecdh"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
)

// ClientHandshake is the client half of the exchange: it owns the ephemeral
// key pair until the server answers.
type ClientHandshake struct {
	priv *ecdh.PrivateKey
}

// NewClientHandshake generates a fresh ephemeral key pair.
func NewClientHandshake() (*ClientHandshake, error) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &ClientHandshake{priv: priv}, nil
}

// PublicKeyHex is sent to the server as clientPublicKeyHex.
func (h *ClientHandshake) PublicKeyHex() string {
	return crypto.PublicKeyHex(h.priv.PublicKey())
}

// Complete derives the session secret from the server's public key. It
// matches the secret the server stored for the session.
func (h *ClientHandshake) Complete(serverPublicKeyHex string) ([]byte, error) {
	pub, err := crypto.ParsePublicKeyHex(serverPublicKeyHex)
	if err != nil {
		return nil, err
	}
	return crypto.SharedSecret(h.priv, pub)
}

// TokenGUID reads the session GUID out of a token without verifying it.
// Clients use it to fill the X-Shiv-Session header.
func TokenGUID(token string) (domain.SessionGUID, error) {
	claims := &SessionTokenClaims{}
	t, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return "", domain.NewAuthError("invalid_token", "malformed token", err)
	}
	guid, err := tokenGUID(t, claims.KID)
	if err != nil {
		return "", domain.NewAuthError("invalid_token", "token carries no session id", err)
	}
	if guid == "" {
		return "", domain.NewAuthError("invalid_token", "token carries no session id", errors.New("empty kid"))
	}
	return guid, nil
}
