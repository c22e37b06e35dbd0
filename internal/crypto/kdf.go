package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"vaultline/internal/domain"
)

// ScopedKeySize is the length of every key produced by DeriveScopedKey.
const ScopedKeySize = 32

// DeriveScopedKey runs HKDF-SHA256 with salt as the HKDF salt and scope as
// the info string. The same secret and scope always yield the same key.
func DeriveScopedKey(secret, salt []byte, scope string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, domain.NewCryptoError("empty_secret", "cannot derive from an empty secret", nil)
	}
	r := hkdf.New(sha256.New, secret, salt, []byte(scope))
	key := make([]byte, ScopedKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, domain.NewCryptoError("kdf_failed", "key derivation failed", err)
	}
	return key, nil
}

// SessionID returns hex(HMAC-SHA256(pepper, guid)). It is one-way: the
// database alone never reveals which GUID maps to which row.
func SessionID(guid domain.SessionGUID, pepper []byte) domain.KID {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(guid))
	return domain.KID(hex.EncodeToString(mac.Sum(nil)))
}

// IsKID reports whether s has the shape of a SessionID output.
func IsKID(s string) bool {
	if len(s) != 2*sha256.Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// WindowIndex returns floor((unix + shift*window) / window) with window in
// whole seconds.
func WindowIndex(now time.Time, window time.Duration, shift int) int64 {
	w := int64(window / time.Second)
	if w <= 0 {
		w = 1
	}
	n := now.Unix() + int64(shift)*w
	q := n / w
	if n%w != 0 && n < 0 {
		q--
	}
	return q
}
