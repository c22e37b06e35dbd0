package server

import "time"

// Request headers.
const (
	HeaderShivSession   = "X-Shiv-Session"
	HeaderShivIntegrity = "X-Shiv-Integrity"
	HeaderDPoP          = "DPoP"
)

// HandshakeRequest is the body of POST /v1/shiv/session.
type HandshakeRequest struct {
	DeviceInfo         string         `json:"deviceInfo"`
	ClientPublicKeyHex string         `json:"clientPublicKeyHex"`
	UserID             string         `json:"userId"`
	Assertion          string         `json:"assertion"`
	JKT                string         `json:"jkt,omitempty"`
	Claims             map[string]any `json:"claims,omitempty"`
}

// HandshakeResponse answers a successful handshake.
type HandshakeResponse struct {
	Token              string `json:"token"`
	ServerPublicKeyHex string `json:"serverPublicKeyHex"`
}

// PrivilegedRequest is the body of POST /v1/shiv/privileged. The raw body
// bytes are what the integrity tag covers.
type PrivilegedRequest struct {
	Scope           string         `json:"scope"`
	LifetimeSeconds int64          `json:"lifetimeSeconds"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// PrivilegedResponse carries the minted token.
type PrivilegedResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionView is one entry of GET /v1/shiv/sessions.
type SessionView struct {
	KID        string    `json:"kid"`
	DeviceInfo string    `json:"deviceInfo"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionList is the body of GET /v1/shiv/sessions.
type SessionList struct {
	Sessions []SessionView `json:"sessions"`
}

// WhoAmIResponse is the body of GET /v1/dpop/whoami.
type WhoAmIResponse struct {
	UserID     string    `json:"userId"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	Thumbprint string    `json:"thumbprint"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
