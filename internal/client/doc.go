// Package client is the vaultline client library behind the vaultline CLI.
//
// It speaks the server's HTTP API (handshake, revoke, session listing,
// privileged tokens, DPoP) and the encrypted gateway protocol, and keeps a
// local profile holding the session secret and DPoP key encrypted under a
// passphrase.
//
// All requests accept a context for cancellation and deadlines. Non-2xx
// responses are returned as *APIError carrying the server's stable code.
package client
