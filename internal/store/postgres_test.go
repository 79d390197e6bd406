package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishwell/preview-service/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetPreview_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT hash, normalized_url, preview, created_at, expires_at FROM preview_cache WHERE hash = \$1`).
		WithArgs("missing-hash").
		WillReturnError(pgx.ErrNoRows)

	entry, err := s.GetPreview(context.Background(), "missing-hash")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPreview_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	previewJSON := []byte(`{"url":"https://example.com/p","title":"Widget","price":19.99,"currency":"USD","source":"html","confidence":0.95}`)

	mock.ExpectQuery(`SELECT hash, normalized_url, preview, created_at, expires_at FROM preview_cache WHERE hash = \$1`).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"hash", "normalized_url", "preview", "created_at", "expires_at"}).
			AddRow("h1", "https://example.com/p", previewJSON, now, now.Add(30*24*time.Hour)))

	entry, err := s.GetPreview(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "https://example.com/p", entry.NormalizedURL)
	assert.Equal(t, "Widget", entry.Preview.Title)
	require.NotNil(t, entry.Preview.Price)
	assert.Equal(t, 19.99, *entry.Preview.Price)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutPreview_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("h1", "https://example.com/p", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	now := time.Now().UTC()
	err := s.PutPreview(context.Background(), model.CacheEntry{
		Hash:          "h1",
		NormalizedURL: "https://example.com/p",
		Preview:       model.ProductPreview{URL: "https://example.com/p", Title: "Widget"},
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM preview_cache WHERE expires_at`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuota_Allowed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count FROM rate_limits`).
		WithArgs("user-1", "2026083112").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec(`INSERT INTO rate_limits`).
		WithArgs("user-1", "2026083112").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ok, err := s.IncrementQuota(context.Background(), "user-1", "2026083112", 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuota_FirstRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count FROM rate_limits`).
		WithArgs("user-1", "2026083112").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO rate_limits`).
		WithArgs("user-1", "2026083112").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ok, err := s.IncrementQuota(context.Background(), "user-1", "2026083112", 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuota_AtLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count FROM rate_limits`).
		WithArgs("user-1", "2026083112").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(30))
	mock.ExpectRollback()

	ok, err := s.IncrementQuota(context.Background(), "user-1", "2026083112", 30)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
