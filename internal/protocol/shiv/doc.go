// Package shiv implements the Session Handshake with Integrity Verification.
//
// A client and the server run an ephemeral P-256 ECDH exchange. The hashed
// agreement becomes the session secret, stored under the peppered KID of a
// fresh session GUID. The client receives an HS256 session token signed with
// a key derived from that secret, so only the holder of the secret (the
// server, via SessionStore) can validate it.
//
// The same secret backs two further mechanisms:
//   - integrity tags: salt || HMAC over salt || body, keyed per 120 second
//     window so a captured tag expires on its own;
//   - privileged tokens: short-lived step-up tokens whose signing key is
//     derived for one scope only.
//
// Revoking a session deletes the secret, which invalidates every token and
// tag that depends on it at once.
package shiv
