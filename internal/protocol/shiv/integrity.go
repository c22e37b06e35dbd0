package shiv

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"strconv"
	"time"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
)

const (
	// IntegritySaltSize is the random prefix of every integrity tag.
	IntegritySaltSize = 12
	// IntegrityTagSize is the full tag length: salt || HMAC-SHA256.
	IntegrityTagSize = IntegritySaltSize + sha256.Size

	windowScopePrefix = "shiv-window:"
)

// windowShifts are tried in this order: current window, then the previous
// and the next to tolerate clock skew and requests straddling a boundary.
var windowShifts = [...]int{0, -1, 1}

func windowKey(secret, kdfSalt []byte, index int64) ([]byte, error) {
	return crypto.DeriveScopedKey(secret, kdfSalt, windowScopePrefix+strconv.FormatInt(index, 10))
}

func integrityMAC(key, salt, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignIntegrity builds an integrity tag for body at time now. Clients call it
// with the secret they derived from the handshake.
func SignIntegrity(secret, kdfSalt []byte, window time.Duration, body []byte, now time.Time) ([]byte, error) {
	if window <= 0 {
		window = DefaultIntegrityWindow
	}
	key, err := windowKey(secret, kdfSalt, crypto.WindowIndex(now, window, 0))
	if err != nil {
		return nil, err
	}
	tag := make([]byte, IntegritySaltSize, IntegrityTagSize)
	if _, err := rand.Read(tag); err != nil {
		return nil, domain.NewCryptoError("salt_failed", "salt generation failed", err)
	}
	return append(tag, integrityMAC(key, tag, body)...), nil
}

// VerifyIntegrity reports whether tag authenticates body for the session
// guid within the current window or one of its neighbours.
//
// A missing session returns ErrSecretNotFound. A tag that simply does not
// match, including one of the wrong length, returns false with no error.
func (s *Service) VerifyIntegrity(
	ctx context.Context,
	guid domain.SessionGUID,
	body []byte,
	tag []byte,
) (bool, error) {
	secret, err := s.sessions.Get(ctx, guid)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			s.metrics.IntegrityChecked("unknown_session")
		}
		return false, err
	}
	if len(tag) != IntegrityTagSize {
		s.metrics.IntegrityChecked("invalid")
		return false, nil
	}

	salt, want := tag[:IntegritySaltSize], tag[IntegritySaltSize:]
	now := s.cfg.Now()
	for _, shift := range windowShifts {
		key, err := windowKey(secret, s.cfg.KDFSalt, crypto.WindowIndex(now, s.cfg.IntegrityWindow, shift))
		if err != nil {
			return false, err
		}
		if hmac.Equal(integrityMAC(key, salt, body), want) {
			s.metrics.IntegrityChecked("valid")
			return true, nil
		}
	}

	s.metrics.IntegrityChecked("invalid")
	return false, nil
}
