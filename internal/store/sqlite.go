package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/wishwell/preview-service/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "preview.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS preview_cache (
	hash           TEXT PRIMARY KEY,
	normalized_url TEXT NOT NULL,
	preview        TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	expires_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limits (
	user_id TEXT NOT NULL,
	bucket  TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, bucket)
);

CREATE INDEX IF NOT EXISTS idx_preview_cache_expires_at ON preview_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetPreview(ctx context.Context, hash string) (*model.CacheEntry, error) {
	var (
		entry       model.CacheEntry
		previewJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, normalized_url, preview, created_at, expires_at FROM preview_cache WHERE hash = ?`,
		hash,
	).Scan(&entry.Hash, &entry.NormalizedURL, &previewJSON, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get preview %s", hash)
	}

	if err := json.Unmarshal([]byte(previewJSON), &entry.Preview); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal preview %s", hash)
	}
	return &entry, nil
}

func (s *SQLiteStore) PutPreview(ctx context.Context, entry model.CacheEntry) error {
	previewJSON, err := json.Marshal(entry.Preview)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal preview")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preview_cache (hash, normalized_url, preview, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET
			normalized_url = excluded.normalized_url,
			preview        = excluded.preview,
			created_at     = excluded.created_at,
			expires_at     = excluded.expires_at`,
		entry.Hash, entry.NormalizedURL, string(previewJSON),
		entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put preview %s", entry.Hash)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM preview_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) IncrementQuota(ctx context.Context, userID, bucket string, limit int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin quota tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT count FROM rate_limits WHERE user_id = ? AND bucket = ?`,
		userID, bucket,
	).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrap(err, "sqlite: read quota")
	}

	if count >= limit {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_limits (user_id, bucket, count) VALUES (?, ?, 1)
		 ON CONFLICT(user_id, bucket) DO UPDATE SET count = count + 1`,
		userID, bucket,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: increment quota")
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit quota tx")
	}
	return true, nil
}
