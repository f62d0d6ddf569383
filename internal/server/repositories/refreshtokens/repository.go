// Package refreshtokens declares the session store contract for refresh
// tokens and ships two backends for it: Redis (native TTL, set-based
// secondary indexes) and PostgreSQL (expiry filtered in SQL, purged by a
// sweeper).
package refreshtokens

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/server/models"
)

// Repository stores refresh-token sessions.
//
// Lookups never return records whose TTL has elapsed. Every backend failure is
// reported wrapped in common.ErrStorageUnavailable; the repository never
// retries.
type Repository interface {
	// Create stores a new session with CreatedAt = LastUsedAt = now.
	// Returns common.ErrDuplicateToken if a live session already uses token.
	Create(ctx context.Context, token string, userID int64, username string, deviceInfo *string) (*models.RefreshToken, error)

	// FindByToken returns the live session or common.ErrorNotFound.
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// FindByUserID returns all live sessions of the account, in no particular order.
	FindByUserID(ctx context.Context, userID int64) ([]*models.RefreshToken, error)

	// FindByUsername returns all live sessions for the username.
	FindByUsername(ctx context.Context, username string) ([]*models.RefreshToken, error)

	ExistsByToken(ctx context.Context, token string) (bool, error)

	// Touch sets LastUsedAt to now (never earlier than CreatedAt).
	// Returns common.ErrorNotFound if the session is absent or expired.
	Touch(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteByToken removes one session. Deleting a missing token is not an error.
	DeleteByToken(ctx context.Context, token string) error

	// DeleteByUserID removes all sessions of the account (logout everywhere).
	DeleteByUserID(ctx context.Context, userID int64) error

	// DeleteByUsername removes all sessions for the username.
	DeleteByUsername(ctx context.Context, username string) error
}

// ExpiryPolicy decides what Touch does to the remaining lifetime of a session.
type ExpiryPolicy int

const (
	// ExpiryAbsolute keeps the countdown fixed from creation.
	ExpiryAbsolute ExpiryPolicy = iota
	// ExpirySliding restarts the full TTL on every Touch.
	ExpirySliding
)

func (p ExpiryPolicy) String() string {
	if p == ExpirySliding {
		return "sliding"
	}
	return "absolute"
}

// ParseExpiryPolicy accepts "absolute" or "sliding".
func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "absolute":
		return ExpiryAbsolute, nil
	case "sliding":
		return ExpirySliding, nil
	}
	return ExpiryAbsolute, fmt.Errorf("unknown expiry policy %q", s)
}

type options struct {
	ttl    time.Duration
	policy ExpiryPolicy
	now    func() time.Time
}

func defaultOptions() options {
	return options{
		ttl:    time.Duration(common.DefaultRefreshTokenTTLSeconds) * time.Second,
		policy: ExpiryAbsolute,
		now:    time.Now,
	}
}

// Option configures a repository backend.
type Option func(*options)

// WithTTL overrides the session lifetime. The value is truncated to whole
// seconds; anything below one second is ignored.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl >= time.Second {
			o.ttl = ttl.Truncate(time.Second)
		}
	}
}

func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithClock injects the time source used for CreatedAt/LastUsedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func (o *options) timestamp() time.Time {
	// UTC drops the monotonic reading so stored and returned values compare equal.
	return o.now().UTC()
}

func (o *options) ttlSeconds() int64 {
	return int64(o.ttl / time.Second)
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
}
