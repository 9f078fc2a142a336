package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/costgate/pkg/cache"
	"github.com/pario-ai/costgate/pkg/models"
)

// Store is a cache.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	response_content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	hit_count INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_content_hash ON cache_entries(content_hash);
CREATE INDEX IF NOT EXISTS idx_cache_provider_model ON cache_entries(provider, model);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries(last_accessed, key);
`

const selectColumns = `key, content_hash, provider, model, response_content, created_at, expires_at, hit_count, last_accessed`

// DSN builds a modernc.org/sqlite data source name with WAL, a busy timeout
// and immediate write transactions.
func DSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// Open creates a Store at dbPath, creating parent directories as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Lookup returns the live entry for key and records the hit atomically.
func (s *Store) Lookup(ctx context.Context, key string, now time.Time) (*models.CacheEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lookup: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM cache_entries WHERE key = ?`, key)
	e, payload, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	if e.Expired(now) {
		return nil, nil
	}
	if err := decodeResponse(payload, &e.Response); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", cache.ErrCorruptEntry, key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed = ? WHERE key = ?`,
		now.UnixNano(), key,
	); err != nil {
		return nil, fmt.Errorf("record hit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lookup: %w", err)
	}

	e.HitCount++
	e.LastAccessed = now
	return &e, nil
}

// Upsert writes entry, replacing any row with the same key.
func (s *Store) Upsert(ctx context.Context, e models.CacheEntry) error {
	payload, err := json.Marshal(e.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	var expires sql.NullInt64
	if e.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: e.ExpiresAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, content_hash, provider, model, response_content, created_at, expires_at, hit_count, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			content_hash = excluded.content_hash,
			provider = excluded.provider,
			model = excluded.model,
			response_content = excluded.response_content,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = excluded.hit_count,
			last_accessed = excluded.last_accessed`,
		e.Key, e.ContentHash, e.Provider, e.Model, string(payload),
		e.CreatedAt.UnixNano(), expires, e.HitCount, e.LastAccessed.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return n > 0, err
}

// DeleteProvider removes a provider's entries, narrowed to model when non-empty.
func (s *Store) DeleteProvider(ctx context.Context, provider, model string) (int64, error) {
	if model == "" {
		return s.exec(ctx, `DELETE FROM cache_entries WHERE provider = ?`, provider)
	}
	return s.exec(ctx, `DELETE FROM cache_entries WHERE provider = ? AND model = ?`, provider, model)
}

// DeleteExpired removes rows whose expires_at is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixNano())
}

// DeleteAll removes every row.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	return s.exec(ctx, `DELETE FROM cache_entries`)
}

// Evict deletes the least-recently-accessed rows until maxEntries remain.
func (s *Store) Evict(ctx context.Context, maxEntries int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin evict: %w", err)
	}
	defer tx.Rollback()

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	excess := count - int64(maxEntries)
	if excess <= 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY last_accessed ASC, key ASC LIMIT ?
		)`, excess,
	)
	if err != nil {
		return 0, fmt.Errorf("evict entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit evict: %w", err)
	}
	return n, nil
}

// FindByContentHash returns entries sharing hash, oldest first. Rows whose
// payload cannot be decoded are skipped.
func (s *Store) FindByContentHash(ctx context.Context, hash string) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM cache_entries WHERE content_hash = ? ORDER BY created_at ASC, key ASC`,
		hash,
	)
	if err != nil {
		return nil, fmt.Errorf("find by content hash: %w", err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		e, payload, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if decodeResponse(payload, &e.Response) != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes the table at now in a single read transaction.
func (s *Store) Stats(ctx context.Context, now time.Time) (models.CacheStats, error) {
	var stats models.CacheStats

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return stats, fmt.Errorf("begin stats: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(hit_count), 0)
		 FROM cache_entries`,
		now.UnixNano(),
	).Scan(&stats.TotalEntries, &stats.ActiveEntries, &stats.TotalHits)
	if err != nil {
		return stats, fmt.Errorf("cache totals: %w", err)
	}
	stats.ExpiredEntries = stats.TotalEntries - stats.ActiveEntries

	rows, err := tx.QueryContext(ctx,
		`SELECT provider, model, COUNT(*), COALESCE(SUM(hit_count), 0)
		 FROM cache_entries GROUP BY provider, model ORDER BY provider, model`,
	)
	if err != nil {
		return stats, fmt.Errorf("provider stats: %w", err)
	}
	defer rows.Close()

	stats.ProviderStats = []models.ProviderStats{}
	for rows.Next() {
		var ps models.ProviderStats
		if err := rows.Scan(&ps.Provider, &ps.Model, &ps.Entries, &ps.Hits); err != nil {
			return stats, fmt.Errorf("scan provider stats: %w", err)
		}
		stats.ProviderStats = append(stats.ProviderStats, ps)
	}
	return stats, rows.Err()
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache exec: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

// decodeResponse unmarshals a stored payload. Payloads that decode but lack
// content, model or provider are unusable and reported as errors.
func decodeResponse(payload []byte, resp *models.Response) error {
	if err := json.Unmarshal(payload, resp); err != nil {
		return err
	}
	return resp.Validate()
}

func scanEntry(row scanner) (models.CacheEntry, []byte, error) {
	var (
		e            models.CacheEntry
		payload      string
		createdAt    int64
		expiresAt    sql.NullInt64
		lastAccessed int64
	)
	err := row.Scan(&e.Key, &e.ContentHash, &e.Provider, &e.Model, &payload,
		&createdAt, &expiresAt, &e.HitCount, &lastAccessed)
	if err != nil {
		return e, nil, err
	}
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.LastAccessed = time.Unix(0, lastAccessed).UTC()
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64).UTC()
		e.ExpiresAt = &t
	}
	return e, []byte(payload), nil
}
