package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wishwell/preview-service/internal/db"
	"github.com/wishwell/preview-service/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_preview": `SELECT hash, normalized_url, preview, created_at, expires_at FROM preview_cache WHERE hash = $1`,
	"put_preview": `INSERT INTO preview_cache (hash, normalized_url, preview, created_at, expires_at)
	 VALUES ($1, $2, $3, $4, $5)
	 ON CONFLICT (hash) DO UPDATE SET normalized_url = $2, preview = $3, created_at = $4, expires_at = $5`,
	"get_quota": `SELECT count FROM rate_limits WHERE user_id = $1 AND bucket = $2 FOR UPDATE`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS preview_cache (
	hash           TEXT PRIMARY KEY,
	normalized_url TEXT NOT NULL,
	preview        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limits (
	user_id TEXT NOT NULL,
	bucket  TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, bucket)
);

CREATE INDEX IF NOT EXISTS idx_preview_cache_expires_at ON preview_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetPreview(ctx context.Context, hash string) (*model.CacheEntry, error) {
	var (
		entry       model.CacheEntry
		previewJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT hash, normalized_url, preview, created_at, expires_at FROM preview_cache WHERE hash = $1`,
		hash,
	).Scan(&entry.Hash, &entry.NormalizedURL, &previewJSON, &entry.CreatedAt, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get preview %s", hash)
	}

	if err := json.Unmarshal(previewJSON, &entry.Preview); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal preview %s", hash)
	}
	return &entry, nil
}

func (s *PostgresStore) PutPreview(ctx context.Context, entry model.CacheEntry) error {
	previewJSON, err := json.Marshal(entry.Preview)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal preview")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO preview_cache (hash, normalized_url, preview, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (hash) DO UPDATE SET normalized_url = $2, preview = $3, created_at = $4, expires_at = $5`,
		entry.Hash, entry.NormalizedURL, previewJSON,
		entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put preview %s", entry.Hash)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM preview_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired")
	}
	return tag.RowsAffected(), nil
}

// IncrementQuota counts a request against the user's hour bucket. The read
// locks the row so concurrent requests from the same user serialize instead
// of racing past the limit.
func (s *PostgresStore) IncrementQuota(ctx context.Context, userID, bucket string, limit int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin quota tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var count int
	err = tx.QueryRow(ctx,
		`SELECT count FROM rate_limits WHERE user_id = $1 AND bucket = $2 FOR UPDATE`,
		userID, bucket,
	).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrap(err, "postgres: read quota")
	}

	if count >= limit {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO rate_limits (user_id, bucket, count) VALUES ($1, $2, 1)
		 ON CONFLICT (user_id, bucket) DO UPDATE SET count = rate_limits.count + 1`,
		userID, bucket,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: increment quota")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit quota tx")
	}
	return true, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}
