package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_enricher/internal/domain"
)

const cacheColumns = `item_id, title, source_url, translated_title, summary, category, tags,
	body_content, processing_time_ms, model_used, created_at, updated_at, expires_at`

type cacheRow struct {
	domain.CacheEntry
	Tags pq.StringArray `db:"tags"`
}

func (r cacheRow) entry() domain.CacheEntry {
	e := r.CacheEntry
	if len(r.Tags) > 0 {
		e.Tags = []string(r.Tags)
	}
	return e
}

// CacheStore keeps enrichment results keyed by item, each valid for a fixed TTL after its last write.
type CacheStore struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

func NewCacheStore(db *sqlx.DB, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = domain.DefaultCacheTTL
	}
	return &CacheStore{db: db, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; used by tests that step over the TTL boundary.
func (s *CacheStore) WithClock(now func() time.Time) *CacheStore {
	s.now = now
	return s
}

func (s *CacheStore) TTL() time.Duration {
	return s.ttl
}

// Get returns the entry only while it is valid; an expired row reads as absent.
func (s *CacheStore) Get(ctx context.Context, itemID int64) (*domain.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM cache_entries WHERE item_id = $1 AND expires_at > $2`
	return s.getOne(ctx, query, itemID, s.now())
}

// GetAny returns the entry regardless of expiry.
func (s *CacheStore) GetAny(ctx context.Context, itemID int64) (*domain.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM cache_entries WHERE item_id = $1`
	return s.getOne(ctx, query, itemID)
}

func (s *CacheStore) getOne(ctx context.Context, query string, args ...any) (*domain.CacheEntry, error) {
	var row cacheRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get cache entry", err)
	}
	entry := row.entry()
	return &entry, nil
}

func (s *CacheStore) GetValidBatch(ctx context.Context, itemIDs []int64) (map[int64]domain.CacheEntry, error) {
	result := make(map[int64]domain.CacheEntry)
	if len(itemIDs) == 0 {
		return result, nil
	}

	query := `SELECT ` + cacheColumns + ` FROM cache_entries WHERE item_id = ANY($1) AND expires_at > $2`

	var rows []cacheRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, pq.Array(itemIDs), s.now()); err != nil {
		return nil, wrapErr("get cache batch", err)
	}

	for _, row := range rows {
		result[row.ItemID] = row.entry()
	}
	return result, nil
}

// Upsert writes the entry and restarts its TTL window. UpdatedAt and ExpiresAt of entry are set
// to the stored values.
func (s *CacheStore) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	now := s.now()
	entry.UpdatedAt = now
	entry.ExpiresAt = now.Add(s.ttl)
	entry.Tags = domain.NormalizeTags(entry.Tags)

	var tags any
	if len(entry.Tags) > 0 {
		tags = pq.Array(entry.Tags)
	}

	query := `
		INSERT INTO cache_entries (
			item_id, title, source_url, translated_title, summary, category, tags,
			body_content, processing_time_ms, model_used, created_at, updated_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12
		)
		ON CONFLICT (item_id) DO UPDATE SET
			title = EXCLUDED.title,
			source_url = EXCLUDED.source_url,
			translated_title = EXCLUDED.translated_title,
			summary = EXCLUDED.summary,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			body_content = EXCLUDED.body_content,
			processing_time_ms = EXCLUDED.processing_time_ms,
			model_used = EXCLUDED.model_used,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		RETURNING created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		entry.ItemID,
		entry.Title,
		entry.SourceURL,
		entry.TranslatedTitle,
		entry.Summary,
		entry.Category,
		tags,
		entry.BodyContent,
		entry.ProcessingTimeMs,
		entry.ModelUsed,
		now,
		entry.ExpiresAt,
	).Scan(&entry.CreatedAt)

	return wrapErr("upsert cache entry", err)
}

// PurgeExpired deletes rows whose validity has ended and returns how many were removed.
func (s *CacheStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at < $1", s.now())
	if err != nil {
		return 0, wrapErr("purge expired cache entries", err)
	}
	return rowsAffected("purge expired cache entries", res)
}
