// Package commands defines the vaultd CLI.
//
// Commands
//
//   - serve          Run the HTTP API and the secure transport gateway
//   - revoke <kid>   Delete a session by KID or GUID
//   - revoke-user    Delete every session of a user
//   - relay size     Print the number of queued frames for a user
//   - relay drain    Remove and print the queued frames for a user
//   - secrets        Print a fresh [Session] block with random secrets
//   - assert <user>  Print a second-factor assertion for a user
//
// # Implementation
//
// Every command except secrets loads the TOML file named by --config before
// it runs. Admin commands open only the stores they touch; the relay file is
// locked by a running server, so relay commands wait briefly and then fail
// while vaultd serve is up.
package commands
