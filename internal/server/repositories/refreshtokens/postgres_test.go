package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pgNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var pgColumns = []string{"token", "user_id", "username", "device_info", "created_at", "last_used_at", "ttl_seconds"}

func newRepoWithMock(t *testing.T, opts ...Option) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	opts = append([]Option{WithClock(func() time.Time { return pgNow })}, opts...)
	return NewPostgresRepository(db, opts...), mock
}

func TestPostgresCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	device := "laptop"

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b.*ON\s+CONFLICT\s+\(token\).*WHERE\s+refresh_tokens\.expires_at\s*<=\s*\$5`).
		WithArgs("tok1", int64(7), "alice", &device, pgNow, common.DefaultRefreshTokenTTLSeconds, pgNow.Add(7*24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.Create(context.Background(), "tok1", 7, "alice", &device)
	require.NoError(t, err)
	assert.Equal(t, "tok1", got.Token)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, &device, got.DeviceInfo)
	assert.Equal(t, pgNow, got.CreatedAt)
	assert.Equal(t, pgNow, got.LastUsedAt)
	assert.Equal(t, common.DefaultRefreshTokenTTLSeconds, got.TTL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreate_CustomTTL(t *testing.T) {
	repo, mock := newRepoWithMock(t, WithTTL(time.Hour))

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b`).
		WithArgs("tok1", int64(7), "alice", nil, pgNow, int64(3600), pgNow.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.Create(context.Background(), "tok1", 7, "alice", nil)
	require.NoError(t, err)
	assert.Nil(t, got.DeviceInfo)
	assert.Equal(t, int64(3600), got.TTL)
}

func TestPostgresCreate_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Create(context.Background(), "tok1", 7, "alice", nil)
	require.ErrorIs(t, err, common.ErrDuplicateToken)
}

func TestPostgresCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), "tok1", 7, "alice", nil)
	require.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "db down")
}

func TestPostgres_TimestampsTruncatedToMicroseconds(t *testing.T) {
	fine := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	stored := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	repo, mock := newRepoWithMock(t, WithClock(func() time.Time { return fine }))

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b`).
		WithArgs("tok1", int64(7), "alice", nil, stored, common.DefaultRefreshTokenTTLSeconds, stored.Add(7*24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+token\s*=\s*\$1`).
		WithArgs("tok1", stored).
		WillReturnRows(sqlmock.NewRows(pgColumns).
			AddRow("tok1", int64(7), "alice", nil, stored, stored, common.DefaultRefreshTokenTTLSeconds))
	mock.ExpectQuery(`(?s)^\s*UPDATE\s+refresh_tokens`).
		WithArgs("tok1", stored).
		WillReturnRows(sqlmock.NewRows(pgColumns).
			AddRow("tok1", int64(7), "alice", nil, stored, stored, common.DefaultRefreshTokenTTLSeconds))
	mock.ExpectExec(`(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at`).
		WithArgs(stored).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(context.Background(), "tok1", 7, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, stored, created.CreatedAt)
	assert.Equal(t, stored, created.LastUsedAt)

	found, err := repo.FindByToken(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, created, found)

	_, err = repo.Touch(context.Background(), "tok1")
	require.NoError(t, err)
	_, err = repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByToken_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := pgNow.Add(-time.Hour)

	rows := sqlmock.NewRows(pgColumns).
		AddRow("tok1", int64(7), "alice", "phone", created, pgNow, int64(604800))
	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1\s+AND\s+expires_at\s*>\s*\$2`).
		WithArgs("tok1", pgNow).
		WillReturnRows(rows)

	got, err := repo.FindByToken(context.Background(), "tok1")
	require.NoError(t, err)
	require.NotNil(t, got.DeviceInfo)
	assert.Equal(t, "phone", *got.DeviceInfo)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, pgNow, got.LastUsedAt)
}

func TestPostgresFindByToken_NullDevice(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(pgColumns).
		AddRow("tok1", int64(7), "alice", nil, pgNow, pgNow, int64(604800))
	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+token\s*=\s*\$1`).
		WillReturnRows(rows)

	got, err := repo.FindByToken(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Nil(t, got.DeviceInfo)
}

func TestPostgresFindByToken_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+token\s*=\s*\$1`).
		WithArgs("missing", pgNow).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByToken(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgresFindByToken_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+token\s*=\s*\$1`).
		WillReturnError(errors.New("db err"))

	_, err := repo.FindByToken(context.Background(), "tok1")
	require.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgresFindByUserID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(pgColumns).
		AddRow("a", int64(7), "alice", "laptop", pgNow, pgNow, int64(604800)).
		AddRow("b", int64(7), "alice", nil, pgNow, pgNow, int64(604800))
	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+user_id\s*=\s*\$1\s+AND\s+expires_at\s*>\s*\$2`).
		WithArgs(int64(7), pgNow).
		WillReturnRows(rows)

	got, err := repo.FindByUserID(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{got[0].Token, got[1].Token})
}

func TestPostgresFindByUsername_Empty(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+username\s*=\s*\$1`).
		WithArgs("nobody", pgNow).
		WillReturnRows(sqlmock.NewRows(pgColumns))

	got, err := repo.FindByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPostgresFindByUserID_RowError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(pgColumns).
		AddRow("a", int64(7), "alice", nil, pgNow, pgNow, int64(604800)).
		RowError(0, errors.New("broken row"))
	mock.ExpectQuery(`(?s)^\s*SELECT\s+token,.*WHERE\s+user_id`).
		WillReturnRows(rows)

	_, err := repo.FindByUserID(context.Background(), 7)
	require.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func TestPostgresExistsByToken(t *testing.T) {
	for _, want := range []bool{true, false} {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(`(?s)^\s*SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+refresh_tokens`).
			WithArgs("tok1", pgNow).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(want))

		got, err := repo.ExistsByToken(context.Background(), "tok1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPostgresTouch_Absolute(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(pgColumns).
		AddRow("tok1", int64(7), "alice", nil, pgNow.Add(-time.Hour), pgNow, int64(604800))
	mock.ExpectQuery(`(?s)^\s*UPDATE\s+refresh_tokens\s+SET\s+last_used_at\s*=\s*GREATEST\(created_at,\s*\$2\)\s+WHERE\s+token\s*=\s*\$1\s+AND\s+expires_at\s*>\s*\$2\s+RETURNING`).
		WithArgs("tok1", pgNow).
		WillReturnRows(rows)

	got, err := repo.Touch(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, pgNow, got.LastUsedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTouch_SlidingExtendsExpiry(t *testing.T) {
	repo, mock := newRepoWithMock(t, WithExpiryPolicy(ExpirySliding))

	rows := sqlmock.NewRows(pgColumns).
		AddRow("tok1", int64(7), "alice", nil, pgNow.Add(-time.Hour), pgNow, int64(604800))
	mock.ExpectQuery(`(?s)^\s*UPDATE\s+refresh_tokens\s+SET\s+last_used_at.*expires_at\s*=\s*\$2::timestamptz\s*\+\s*make_interval\(secs\s*=>\s*ttl_seconds\)`).
		WithArgs("tok1", pgNow).
		WillReturnRows(rows)

	_, err := repo.Touch(context.Background(), "tok1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTouch_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*UPDATE\s+refresh_tokens`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Touch(context.Background(), "gone")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgresDeletes(t *testing.T) {
	tests := []struct {
		name  string
		query string
		arg   any
		call  func(r *PostgresRepository) error
	}{
		{
			name:  "by token",
			query: `(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1\s*$`,
			arg:   "tok1",
			call:  func(r *PostgresRepository) error { return r.DeleteByToken(context.Background(), "tok1") },
		},
		{
			name:  "by user id",
			query: `(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1\s*$`,
			arg:   int64(7),
			call:  func(r *PostgresRepository) error { return r.DeleteByUserID(context.Background(), 7) },
		},
		{
			name:  "by username",
			query: `(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+username\s*=\s*\$1\s*$`,
			arg:   "alice",
			call:  func(r *PostgresRepository) error { return r.DeleteByUsername(context.Background(), "alice") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+" ok", func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			// zero rows affected is still success: deleting nothing is a no-op
			mock.ExpectExec(tt.query).WithArgs(tt.arg).WillReturnResult(sqlmock.NewResult(0, 0))
			require.NoError(t, tt.call(repo))
			require.NoError(t, mock.ExpectationsWereMet())
		})
		t.Run(tt.name+" db error", func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			mock.ExpectExec(tt.query).WithArgs(tt.arg).WillReturnError(errors.New("db err"))
			require.ErrorIs(t, tt.call(repo), common.ErrStorageUnavailable)
		})
	}
}

func TestPostgresDeleteExpired(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<=\s*\$1`).
		WithArgs(pgNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresDeleteExpired_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^\s*DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at`).
		WillReturnError(errors.New("db err"))

	_, err := repo.DeleteExpired(context.Background())
	require.ErrorIs(t, err, common.ErrStorageUnavailable)
}
