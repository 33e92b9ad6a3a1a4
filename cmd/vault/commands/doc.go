// Package commands implements the vault command line tool: a device keeps
// its identity and sessions in an encrypted database, publishes pre-key
// bundles, and exchanges end-to-end encrypted messages with peers directly
// over TCP or KCP.
package commands
