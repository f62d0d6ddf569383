// Package cli implements the authsession command-line client. Each
// invocation runs one subcommand against the server; the session obtained by
// "login" is kept in a local SQLite file and reused by later invocations.
package cli
