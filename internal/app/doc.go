// Package app wires and runs the vaultd server.
//
// Config is loaded from a TOML file with [Server], [Logging], [Session],
// [Redis], [Database], [Relay] and [Gateway] sections; defaults are applied
// and every section validated by FixupAndValidate. NewWire builds the
// dependency graph (durable and cached session stores, relay, SHIV and DPoP
// services, gateway, HTTP server) and App runs it until its context is
// cancelled.
//
// Hijacked websocket connections are not tracked by http.Server.Shutdown, so
// gateway connections are dropped when the process exits.
package app
