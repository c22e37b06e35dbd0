// Package store provides the persistence behind the SHIV handshake and the
// secure gateway.
//
// It contains concrete implementations of the domain storage interfaces:
//   - SessionStore, the two-tier GUID -> secret map. A Redis SecretCache
//     (RedisSecretCache) shadows a SQL SessionRepository (GormSessionRepository)
//     for a bounded TTL; a cache miss always falls through to SQL, never the
//     reverse.
//   - RelayStore, a bbolt-backed FIFO of opaque payloads per recipient with
//     cbor-packed values and a per-recipient size counter.
//
// Session GUIDs never reach storage. Every record is keyed by the peppered
// HMAC of the GUID (crypto.SessionID).
package store
