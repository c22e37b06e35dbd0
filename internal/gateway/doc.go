// Package gateway terminates the encrypted WebSocket transport.
//
// Every connection runs its own ECDH exchange: the client offers a P-256
// public key on the upgrade request, the gateway answers in clear with its
// own key and a connection id, and from then on every frame in both
// directions is ChaCha20-Poly1305 under the SHA-256 of the agreement.
//
// A connection moves through three states:
//
//	AWAITING_VERIFICATION  the first encrypted frame must carry a valid
//	                       session token; the user's offline relay queue is
//	                       then drained to the connection
//	VERIFIED               frames are relay requests; the gateway forwards
//	                       them to the receiver's live connection or queues
//	                       them in the RelayStore
//	CLOSED                 the connection is removed from the Directory
//
// Failures are reported with a clear JSON {code, error} frame followed by a
// close frame carrying one of the 44xx/45xx codes below.
//
// Delivery to one receiver is serialized by a per-user lock, so a message
// is never queued for a user whose connection has just drained the queue.
package gateway
