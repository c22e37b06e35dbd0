// Package commands defines the vaultline client CLI.
//
// Commands
//
//   - keygen        Create a DPoP key pair in the profile
//   - handshake     Establish a session and store its secret
//   - sessions      List the caller's sessions
//   - sign <body>   Print the integrity tag for a request body
//   - privileged    Request a scoped privileged token
//   - whoami        Call the DPoP protected endpoint
//   - connect       Open an encrypted gateway connection, relay and receive
//   - logout        Revoke the current session
//
// # Implementation
//
// State lives in an encrypted profile under --home, unlocked with the
// passphrase given by -p. The root command loads it before any subcommand
// runs; commands that change it save it back.
package commands
