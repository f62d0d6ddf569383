// Package client is the CLI side of the session service.
//
// GRPCClient talks to the server over the JSON-encoded gRPC API. It attaches
// the stored access token to every call and, when the server answers
// Unauthenticated with "token expired", refreshes the pair once with the
// stored refresh token and retries. Token pairs are persisted through a
// TokenStore backed by a local SQLite database (see InitDatabase).
//
// Transport failures are mapped onto the sentinel errors in errors.go so
// callers can match them with errors.Is.
package client
