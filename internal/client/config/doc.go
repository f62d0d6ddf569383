// Package config loads runtime configuration for the authsession CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the backend gRPC endpoint
//	-f string   path of the local session database
//	-w int      per-request timeout (seconds)
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "store_path": "authsession.db",
//	  "request_timeout": "10s"
//	}
//
// Global flags may appear before or after the subcommand; each component
// picks its own flags out of the argument list with flagx.FilterArgs.
package config
