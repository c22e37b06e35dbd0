// Package dpop verifies Demonstration of Proof-of-Possession proofs that
// accompany a session token.
//
// A proof is an ES256 or ES384 JWT of type "dpop+jwt" whose header carries
// the client's public JWK. It binds one HTTP method and URL. The session
// token names the expected key through its cnf.jkt thumbprint, so a stolen
// token is useless without the private key that signed the proof.
//
// Verification is a fixed sequence of checks; the first failing check
// decides the error code returned to the caller.
package dpop
