package types

// UserID identifies the owner of a session or a gateway connection.
type UserID string

// String returns the string form of the user identifier.
func (u UserID) String() string { return string(u) }

// ConnectionID identifies a single gateway connection for its lifetime.
type ConnectionID string

// String returns the string form of the connection identifier.
func (id ConnectionID) String() string { return string(id) }

// SessionGUID is the client-held session identifier. It is only ever
// persisted in its derived KID form.
type SessionGUID string

// String returns the string form of the session GUID.
func (g SessionGUID) String() string { return string(g) }

// KID is the peppered HMAC of a SessionGUID, hex encoded. It is the storage
// key for session records.
type KID string

// String returns the string form of the KID.
func (k KID) String() string { return string(k) }

// Short returns a truncated KID suitable for log lines.
func (k KID) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}
