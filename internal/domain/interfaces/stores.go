package interfaces

import (
	"context"
	"time"

	domaintypes "vaultline/internal/domain/types"
)

// SecretCache is the fast tier in front of SessionRepository. Entries are a
// time-bounded shadow of the durable record, never authoritative.
type SecretCache interface {
	GetSecret(ctx context.Context, kid domaintypes.KID) ([]byte, bool, error)
	SetSecret(ctx context.Context, kid domaintypes.KID, secret []byte, ttl time.Duration) error
	DeleteSecret(ctx context.Context, kid domaintypes.KID) error
}

// SessionRepository is the durable tier keyed by KID.
type SessionRepository interface {
	Upsert(ctx context.Context, rec domaintypes.SessionRecord) error
	FindByKID(ctx context.Context, kid domaintypes.KID) (domaintypes.SessionRecord, bool, error)
	Touch(ctx context.Context, kid domaintypes.KID, at time.Time) error
	DeleteByKID(ctx context.Context, kid domaintypes.KID) error
	DeleteByUser(ctx context.Context, userID domaintypes.UserID) ([]domaintypes.KID, error)
	ListByUser(ctx context.Context, userID domaintypes.UserID) ([]domaintypes.SessionRecord, error)
}

// SessionStore maps a session GUID to its shared secret across both tiers.
type SessionStore interface {
	Get(ctx context.Context, guid domaintypes.SessionGUID) ([]byte, error)
	Put(
		ctx context.Context,
		guid domaintypes.SessionGUID,
		secret []byte,
		userID domaintypes.UserID,
		deviceInfo string,
	) error
	// Delete accepts either a KID or a GUID and is idempotent.
	Delete(ctx context.Context, kidOrGUID string) error
	DeleteByUser(ctx context.Context, userID domaintypes.UserID) (int, error)
	ListByUser(ctx context.Context, userID domaintypes.UserID) ([]domaintypes.SessionRecord, error)
}

// RelayStore is a durable per-recipient FIFO of opaque payloads.
type RelayStore interface {
	Enqueue(ctx context.Context, recipient domaintypes.UserID, payload []byte) error
	Drain(ctx context.Context, recipient domaintypes.UserID) ([][]byte, error)
	Size(ctx context.Context, recipient domaintypes.UserID) (int, error)
}
