package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"vaultline/internal/domain"
	"vaultline/internal/util/memzero"
)

// Curve is the named curve every handshake in this module runs on.
var Curve = ecdh.P256()

// GenerateKeyPair returns a fresh ephemeral P-256 key pair.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := Curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, domain.NewCryptoError("keygen_failed", "key generation failed", err)
	}
	return priv, nil
}

// PublicKeyHex returns the uncompressed SEC1 encoding of pub as hex.
func PublicKeyHex(pub *ecdh.PublicKey) string {
	return hex.EncodeToString(pub.Bytes())
}

// ParsePublicKeyHex decodes an uncompressed SEC1 point and checks that it is
// on the curve.
func ParsePublicKeyHex(s string) (*ecdh.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, domain.ErrInvalidPublicKey.Wrap(err)
	}
	pub, err := Curve.NewPublicKey(raw)
	if err != nil {
		return nil, domain.ErrInvalidPublicKey.Wrap(err)
	}
	return pub, nil
}

// Agree computes raw ECDH between localPrivate and remotePublic.
func Agree(localPrivate *ecdh.PrivateKey, remotePublic *ecdh.PublicKey) ([]byte, error) {
	if localPrivate == nil || remotePublic == nil {
		return nil, domain.ErrInvalidPublicKey
	}
	out, err := localPrivate.ECDH(remotePublic)
	if err != nil {
		return nil, domain.ErrInvalidPublicKey.Wrap(err)
	}
	return out, nil
}

// SharedSecret runs Agree and hashes the result once with SHA-256 so the raw
// ECDH x-coordinate is never used as key material directly.
func SharedSecret(localPrivate *ecdh.PrivateKey, remotePublic *ecdh.PublicKey) ([]byte, error) {
	raw, err := Agree(localPrivate, remotePublic)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(raw)
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// KeyFingerprint returns a short hex fingerprint of a public key for logs.
//
// It hashes with SHA-256 and truncates to 8 bytes (16 hex chars).
func KeyFingerprint(pub *ecdh.PublicKey) string {
	sum := sha256.Sum256(pub.Bytes())
	return hex.EncodeToString(sum[:8])
}
