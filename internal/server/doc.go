// Package server exposes the SHIV handshake, privileged token issuance, the
// DPoP demonstration endpoint and the gateway over HTTP.
//
// HTTP API
//
//	POST   /v1/shiv/session     handshake; second factor required
//	DELETE /v1/shiv/session     revoke the caller's session (Bearer)
//	GET    /v1/shiv/sessions    list the caller's sessions (Bearer)
//	POST   /v1/shiv/privileged  mint a privileged token (Bearer + integrity tag)
//	GET    /v1/dpop/whoami      DPoP protected echo
//	GET    /v1/ws               gateway upgrade
//	GET    /metrics             Prometheus exposition
//	GET    /healthz             liveness
//
// Failures are JSON {"code": ..., "error": ...}. The code is stable and safe
// to show; causes are logged, never returned.
package server
