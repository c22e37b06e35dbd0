// Package crypto exposes the key-derivation primitives used by the SHIV
// handshake and the secure gateway.
//
// Contents
//
//   - P-256 ECDH key generation and agreement (GenerateKeyPair, Agree,
//     SharedSecret)
//   - HKDF-SHA256 scoped keys (DeriveScopedKey); distinct scope strings keep
//     session signing keys and privileged signing keys independent
//   - Peppered HMAC session identifiers (SessionID)
//   - Time windows for rotating integrity keys (WindowIndex)
//   - AEAD frame sealing in the nonce || ciphertext || tag layout
//     (SealFrame, OpenFrame)
//
// # Notes
//
// Everything here is a pure function. Callers own the secrets they pass in
// and should wipe them with memzero.Zero when practical.
package crypto
