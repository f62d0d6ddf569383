package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/dbx"
	"github.com/dmitrijs2005/authsession/internal/server/models"
)

const refreshTokenColumns = `token, user_id, username, device_info, created_at, last_used_at, ttl_seconds`

// PostgresRepository stores sessions in the refresh_tokens table. PostgreSQL
// has no native TTL, so every read filters on expires_at and expired rows are
// removed by DeleteExpired.
type PostgresRepository struct {
	db   dbx.DBTX
	opts options
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX, opts ...Option) *PostgresRepository {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &PostgresRepository{db: db, opts: o}
}

// now matches the microsecond resolution of timestamptz so returned records
// equal what a later read yields.
func (r *PostgresRepository) now() time.Time {
	return r.opts.timestamp().Truncate(time.Microsecond)
}

// Create inserts a session. An expired row holding the same token is
// overwritten; a live one makes the insert a no-op and yields ErrDuplicateToken.
func (r *PostgresRepository) Create(ctx context.Context, token string, userID int64, username string, deviceInfo *string) (*models.RefreshToken, error) {
	now := r.now()
	ttl := r.opts.ttlSeconds()

	query := `
		INSERT INTO refresh_tokens (token, user_id, username, device_info, created_at, last_used_at, ttl_seconds, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    username = EXCLUDED.username,
		    device_info = EXCLUDED.device_info,
		    created_at = EXCLUDED.created_at,
		    last_used_at = EXCLUDED.last_used_at,
		    ttl_seconds = EXCLUDED.ttl_seconds,
		    expires_at = EXCLUDED.expires_at
		WHERE refresh_tokens.expires_at <= $5
	`
	res, err := r.db.ExecContext(ctx, query, token, userID, username, deviceInfo, now, ttl, now.Add(r.opts.ttl))
	if err != nil {
		return nil, storageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storageError(err)
	}
	if n == 0 {
		return nil, common.ErrDuplicateToken
	}

	return &models.RefreshToken{
		Token:      token,
		UserID:     userID,
		Username:   username,
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		LastUsedAt: now,
		TTL:        ttl,
	}, nil
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token = $1 AND expires_at > $2
	`
	rec, err := scanRefreshToken(r.db.QueryRowContext(ctx, query, token, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, storageError(err)
	}
	return rec, nil
}

func (r *PostgresRepository) FindByUserID(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND expires_at > $2
	`
	return r.queryMany(ctx, query, userID, r.now())
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE username = $1 AND expires_at > $2
	`
	return r.queryMany(ctx, query, username, r.now())
}

func (r *PostgresRepository) ExistsByToken(ctx context.Context, token string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token = $1 AND expires_at > $2)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, token, r.now()).Scan(&exists); err != nil {
		return false, storageError(err)
	}
	return exists, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET last_used_at = GREATEST(created_at, $2)
		WHERE token = $1 AND expires_at > $2
		RETURNING ` + refreshTokenColumns
	if r.opts.policy == ExpirySliding {
		query = `
		UPDATE refresh_tokens
		SET last_used_at = GREATEST(created_at, $2),
		    expires_at = $2::timestamptz + make_interval(secs => ttl_seconds)
		WHERE token = $1 AND expires_at > $2
		RETURNING ` + refreshTokenColumns
	}

	rec, err := scanRefreshToken(r.db.QueryRowContext(ctx, query, token, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, storageError(err)
	}
	return rec, nil
}

func (r *PostgresRepository) DeleteByToken(ctx context.Context, token string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE token = $1
	`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return storageError(err)
	}
	return nil
}

// DeleteByUserID runs as a single statement, so it either removes every
// session of the account or none.
func (r *PostgresRepository) DeleteByUserID(ctx context.Context, userID int64) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return storageError(err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByUsername(ctx context.Context, username string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE username = $1
	`
	if _, err := r.db.ExecContext(ctx, query, username); err != nil {
		return storageError(err)
	}
	return nil
}

// DeleteExpired purges rows whose TTL has elapsed and returns how many were removed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, r.now())
	if err != nil {
		return 0, storageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()

	result := make([]*models.RefreshToken, 0)
	for rows.Next() {
		rec, err := scanRefreshToken(rows)
		if err != nil {
			return nil, storageError(err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	var (
		rec    models.RefreshToken
		device sql.NullString
	)
	if err := row.Scan(&rec.Token, &rec.UserID, &rec.Username, &device, &rec.CreatedAt, &rec.LastUsedAt, &rec.TTL); err != nil {
		return nil, err
	}
	if device.Valid {
		rec.DeviceInfo = &device.String
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastUsedAt = rec.LastUsedAt.UTC()
	return &rec, nil
}
