package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"vaultline/internal/domain"
)

const (
	// FrameNonceSize is the random nonce prefixed to every sealed frame.
	FrameNonceSize = chacha20poly1305.NonceSize
	// FrameTagSize is the authentication tag appended to every sealed frame.
	FrameTagSize = chacha20poly1305.Overhead
)

// SealFrame encrypts plaintext under key and returns nonce || ciphertext || tag.
func SealFrame(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, domain.NewCryptoError("invalid_frame_key", "invalid frame key", err)
	}
	out := make([]byte, FrameNonceSize, FrameNonceSize+len(plaintext)+FrameTagSize)
	if _, err := rand.Read(out); err != nil {
		return nil, domain.NewCryptoError("nonce_failed", "nonce generation failed", err)
	}
	return aead.Seal(out, out[:FrameNonceSize], plaintext, nil), nil
}

// OpenFrame reverses SealFrame. The nonce and tag are stripped; only the
// plaintext is returned.
func OpenFrame(key, frame []byte) ([]byte, error) {
	if len(frame) < FrameNonceSize+FrameTagSize {
		return nil, domain.ErrDecryptFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, domain.NewCryptoError("invalid_frame_key", "invalid frame key", err)
	}
	pt, err := aead.Open(nil, frame[:FrameNonceSize], frame[FrameNonceSize:], nil)
	if err != nil {
		return nil, domain.ErrDecryptFailed.Wrap(err)
	}
	return pt, nil
}
