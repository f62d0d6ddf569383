// Package common contains shared constants and sentinel errors used across
// the session service and its CLI client.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// TokenTypeBearer is reported in every auth response.
const TokenTypeBearer = "Bearer"

// DefaultRefreshTokenTTLSeconds is the lifetime of a refresh-token session
// (7 days) unless configured otherwise.
const DefaultRefreshTokenTTLSeconds int64 = 604800

// DefaultRole is assigned to users registered without explicit roles.
const DefaultRole = "USER"
