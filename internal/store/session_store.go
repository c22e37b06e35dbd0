package store

import (
	"context"
	"time"

	"gopkg.in/op/go-logging.v1"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
)

// DefaultCacheTTL bounds how long a secret may live in the fast tier.
const DefaultCacheTTL = time.Hour

// SessionStore maps session GUIDs to shared secrets over a fast cache and a
// durable repository.
type SessionStore struct {
	cache    domain.SecretCache
	repo     domain.SessionRepository
	pepper   []byte
	cacheTTL time.Duration
	now      func() time.Time
	log      *logging.Logger
}

// NewSessionStore returns a SessionStore. cache may be nil to run on the
// durable tier alone.
func NewSessionStore(
	cache domain.SecretCache,
	repo domain.SessionRepository,
	pepper []byte,
	cacheTTL time.Duration,
	log *logging.Logger,
) *SessionStore {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &SessionStore{
		cache:    cache,
		repo:     repo,
		pepper:   append([]byte(nil), pepper...),
		cacheTTL: cacheTTL,
		now:      time.Now,
		log:      log,
	}
}

// KID returns the storage key for guid.
func (s *SessionStore) KID(guid domain.SessionGUID) domain.KID {
	return crypto.SessionID(guid, s.pepper)
}

// Get returns the secret for guid.
//
// Steps:
//  1. Derive the KID and consult the cache; a cache error is logged and
//     treated as a miss.
//  2. On a miss, load the durable record. Absence is ErrSecretNotFound.
//  3. Repopulate the cache for cacheTTL and stamp last_seen_at.
func (s *SessionStore) Get(ctx context.Context, guid domain.SessionGUID) ([]byte, error) {
	kid := s.KID(guid)

	if s.cache != nil {
		secret, ok, err := s.cache.GetSecret(ctx, kid)
		switch {
		case err != nil:
			s.log.Warningf("cache lookup for %s failed, falling through: %v", kid.Short(), err)
		case ok:
			return secret, nil
		}
	}

	rec, ok, err := s.repo.FindByKID(ctx, kid)
	if err != nil {
		return nil, domain.NewStorageError("session_lookup_failed", "session lookup failed", err)
	}
	if !ok {
		return nil, domain.ErrSecretNotFound
	}

	if s.cache != nil {
		if err := s.cache.SetSecret(ctx, kid, rec.Secret, s.cacheTTL); err != nil {
			s.log.Warningf("cache fill for %s failed: %v", kid.Short(), err)
		}
	}
	if err := s.repo.Touch(ctx, kid, s.now().UTC()); err != nil {
		s.log.Warningf("touch last_seen_at for %s failed: %v", kid.Short(), err)
	}
	return rec.Secret, nil
}

// Put writes a new session record. An existing record under the same KID is
// replaced as a whole (upsert) and its cached secret is dropped.
func (s *SessionStore) Put(
	ctx context.Context,
	guid domain.SessionGUID,
	secret []byte,
	userID domain.UserID,
	deviceInfo string,
) error {
	if guid == "" || len(secret) == 0 {
		return domain.NewInvalidError("invalid_session_record", "session guid and secret are required")
	}
	kid := s.KID(guid)
	now := s.now().UTC()
	rec := domain.SessionRecord{
		KID:        kid,
		Secret:     append([]byte(nil), secret...),
		UserID:     userID,
		DeviceInfo: deviceInfo,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return domain.NewStorageError("session_write_failed", "session write failed", err)
	}
	s.invalidate(ctx, kid)
	s.log.Debugf("session %s stored for user %s", kid.Short(), userID)
	return nil
}

// Delete removes the record for a KID or GUID from both tiers. Deleting a
// missing record succeeds.
func (s *SessionStore) Delete(ctx context.Context, kidOrGUID string) error {
	kid := domain.KID(kidOrGUID)
	if !crypto.IsKID(kidOrGUID) {
		kid = s.KID(domain.SessionGUID(kidOrGUID))
	}
	if err := s.repo.DeleteByKID(ctx, kid); err != nil {
		return domain.NewStorageError("session_delete_failed", "session delete failed", err)
	}
	s.invalidate(ctx, kid)
	return nil
}

// DeleteByUser removes every session owned by userID, as on user deletion.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID domain.UserID) (int, error) {
	kids, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, domain.NewStorageError("session_delete_failed", "session delete failed", err)
	}
	for _, kid := range kids {
		s.invalidate(ctx, kid)
	}
	return len(kids), nil
}

// ListByUser returns the user's sessions without their secrets.
func (s *SessionStore) ListByUser(ctx context.Context, userID domain.UserID) ([]domain.SessionRecord, error) {
	recs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.NewStorageError("session_list_failed", "session list failed", err)
	}
	for i := range recs {
		recs[i].Secret = nil
	}
	return recs, nil
}

func (s *SessionStore) invalidate(ctx context.Context, kid domain.KID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteSecret(ctx, kid); err != nil {
		s.log.Warningf("cache invalidation for %s failed: %v", kid.Short(), err)
	}
}

// Compile-time assertion that SessionStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionStore)(nil)
