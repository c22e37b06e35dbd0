package types

import "time"

// SessionRecord is the durable form of an established SHIV session.
type SessionRecord struct {
	KID        KID       `json:"kid"`
	Secret     []byte    `json:"-"`
	UserID     UserID    `json:"user_id"`
	DeviceInfo string    `json:"device_info"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionClaims is the verified content of a session token.
type SessionClaims struct {
	// UserID owns the session.
	UserID UserID `json:"user_id"`
	// GUID is the client-held session identifier carried in the token's kid.
	GUID SessionGUID `json:"kid"`
	// DeviceInfo is the descriptor supplied at handshake time.
	DeviceInfo string `json:"device_info,omitempty"`
	// Thumbprint is the DPoP key binding (cnf.jkt); empty when unbound.
	Thumbprint string `json:"jkt,omitempty"`
	// Payload carries caller supplied claims embedded at issuance.
	Payload   map[string]any `json:"payload,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// PrivilegedClaims is the verified content of a privileged (step-up) token.
type PrivilegedClaims struct {
	UserID    UserID         `json:"user_id"`
	GUID      SessionGUID    `json:"kid"`
	Scope     string         `json:"scope"`
	Extra     map[string]any `json:"extra,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
}
