package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// loadDotEnv copies variables from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// parseEnv overlays Config with the variables below. Durations accept Go
// duration strings ("15m", "168h").
//
//	GRPC_ADDRESS, HTTP_ADDRESS, DATABASE_DSN, SESSION_BACKEND,
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_KEY_PREFIX,
//	SECRET_KEY, ACCESS_TOKEN_TTL, REFRESH_TOKEN_TTL, EXPIRY_POLICY,
//	PURGE_INTERVAL, LOG_LEVEL, S3_ROOT_USER, S3_ROOT_PASSWORD,
//	S3_BUCKET, S3_REGION, S3_BASE_ENDPOINT, EXPORT_LINK_TTL
func parseEnv(c *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"GRPC_ADDRESS":     &c.EndpointAddrGRPC,
		"HTTP_ADDRESS":     &c.EndpointAddrHTTP,
		"DATABASE_DSN":     &c.DatabaseDSN,
		"SESSION_BACKEND":  &c.SessionBackend,
		"REDIS_ADDR":       &c.RedisAddr,
		"REDIS_PASSWORD":   &c.RedisPassword,
		"REDIS_KEY_PREFIX": &c.RedisKeyPrefix,
		"SECRET_KEY":       &c.SecretKey,
		"EXPIRY_POLICY":    &c.ExpiryPolicy,
		"LOG_LEVEL":        &c.LogLevel,
		"S3_ROOT_USER":     &c.S3RootUser,
		"S3_ROOT_PASSWORD": &c.S3RootPassword,
		"S3_BUCKET":        &c.S3Bucket,
		"S3_REGION":        &c.S3Region,
		"S3_BASE_ENDPOINT": &c.S3BaseEndpoint,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":  &c.AccessTokenValidityDuration,
		"REFRESH_TOKEN_TTL": &c.RefreshTokenTTL,
		"PURGE_INTERVAL":    &c.PurgeInterval,
		"EXPORT_LINK_TTL":   &c.ExportLinkTTL,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}

	if v, ok := lookup("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.RedisDB = n
	}

	return nil
}
