package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

const uniqueViolation = "23505"

const maxBatchSize = 100

var contentColumns = []string{
	"id", "creator_id", "platform", "platform_content_id", "url",
	"title", "description", "body", "thumbnail_url",
	"media", "metrics", "ref", "published_at", "ingested_at",
}

// ContentStore persists canonical content in Postgres. The dedup key
// (creator_id, platform, platform_content_id) is a unique index, so
// concurrent writers racing on the same key are resolved by the database,
// never by application state.
type ContentStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ContentStore = (*ContentStore)(nil)

// NewContentStore wires a sql.DB implementation.
func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Create inserts a new record. A dedup-key collision surfaces as
// ErrDuplicateContent so the caller can decide whether idempotent success is
// acceptable.
func (s *ContentStore) Create(ctx context.Context, c *domain.Content) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	values, err := contentValues(c)
	if err != nil {
		return err
	}

	query, args, err := s.sb.Insert("content").Columns(contentColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateContent, c.DedupKey())
		}
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

// Upsert inserts the record or, when the dedup key already exists, refreshes
// the mutable fields. Identity fields and relevancy state are never touched
// on update.
func (s *ContentStore) Upsert(ctx context.Context, c *domain.Content) (domain.UpsertOutcome, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	values, err := contentValues(c)
	if err != nil {
		return "", err
	}

	query, args, err := s.sb.Insert("content").
		Columns(contentColumns...).
		Values(values...).
		Suffix(`ON CONFLICT (creator_id, platform, platform_content_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			body = EXCLUDED.body,
			thumbnail_url = EXCLUDED.thumbnail_url,
			media = EXCLUDED.media,
			metrics = EXCLUDED.metrics,
			ref = EXCLUDED.ref,
			updated_at = NOW()
			RETURNING id, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build upsert: %w", err)
	}

	var (
		id       uuid.UUID
		inserted bool
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &inserted); err != nil {
		return "", fmt.Errorf("upsert content: %w", err)
	}

	c.ID = id
	if inserted {
		return domain.OutcomeCreated, nil
	}
	return domain.OutcomeUpdated, nil
}

// StoreMany upserts a batch of 1-100 items. A malformed or failing item is
// recorded in the result and never aborts the rest of the batch.
func (s *ContentStore) StoreMany(ctx context.Context, items []*domain.Content) (domain.BatchResult, error) {
	if len(items) == 0 || len(items) > maxBatchSize {
		return domain.BatchResult{}, fmt.Errorf("%w: batch size %d outside 1..%d", domain.ErrConstraintViolation, len(items), maxBatchSize)
	}

	var result domain.BatchResult
	for i, item := range items {
		outcome, err := s.Upsert(ctx, item)
		if err != nil {
			result.Errors = append(result.Errors, domain.ItemError{Index: i, Err: err})
			continue
		}
		switch outcome {
		case domain.OutcomeCreated:
			result.Created++
		case domain.OutcomeUpdated:
			result.Updated++
		}
	}
	return result, nil
}

// Exists reports whether the dedup key is already stored.
func (s *ContentStore) Exists(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, platformContentID string) (bool, error) {
	query, args, err := s.sb.Select("1").
		From("content").
		Where(sq.Eq{
			"creator_id":          creatorID,
			"platform":            platform,
			"platform_content_id": platformContentID,
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// ExistingIDs returns the subset of platform-native ids already stored for
// the creator and platform.
func (s *ContentStore) ExistingIDs(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := s.sb.Select("platform_content_id").
		From("content").
		Where(sq.Eq{"creator_id": creatorID, "platform": platform}).
		Where(sq.Expr("platform_content_id = ANY(?)", pq.StringArray(ids))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build existing ids: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// SelectUnscored lists content awaiting relevancy scoring, bounded to the
// recency window. Older unscored content is intentionally never picked up.
func (s *ContentStore) SelectUnscored(ctx context.Context, window time.Duration, limit int) ([]*domain.Content, error) {
	query, args, err := s.sb.Select(
		"id", "creator_id", "platform", "platform_content_id", "url",
		"title", "description", "body", "published_at", "created_at",
	).
		From("content").
		Where("relevancy_checked_at IS NULL").
		Where(sq.GtOrEq{"created_at": time.Now().UTC().Add(-window)}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unscored: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unscored: %w", err)
	}
	defer rows.Close()

	var items []*domain.Content
	for rows.Next() {
		var (
			c           domain.Content
			title       sql.NullString
			description sql.NullString
			body        sql.NullString
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.CreatorID, &c.Platform, &c.PlatformContentID, &c.URL,
			&title, &description, &body, &publishedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan unscored: %w", err)
		}
		c.Title = title.String
		c.Description = description.String
		c.Body = body.String
		if publishedAt.Valid {
			t := publishedAt.Time
			c.PublishedAt = &t
		}
		items = append(items, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

// CountUnscored reports how many records inside the window still await
// scoring.
func (s *ContentStore) CountUnscored(ctx context.Context, window time.Duration) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").
		From("content").
		Where("relevancy_checked_at IS NULL").
		Where(sq.GtOrEq{"created_at": time.Now().UTC().Add(-window)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count unscored: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unscored: %w", err)
	}
	return n, nil
}

// MarkScored writes the relevancy result back onto one record.
func (s *ContentStore) MarkScored(ctx context.Context, id uuid.UUID, score float64, checkedAt time.Time) error {
	query, args, err := s.sb.Update("content").
		Set("relevancy_score", score).
		Set("relevancy_checked_at", checkedAt.UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark scored: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark scored: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: content %s", domain.ErrNotFound, id)
	}
	return nil
}

// contentValues renders a record into the insert column order. Structured
// fields are stored as JSONB.
func contentValues(c *domain.Content) ([]any, error) {
	media, err := jsonOrNil(c.Media, len(c.Media) > 0)
	if err != nil {
		return nil, err
	}
	metrics, err := jsonOrNil(c.Metrics, c.Metrics != nil)
	if err != nil {
		return nil, err
	}
	ref, err := jsonOrNil(c.Ref, c.Ref != nil)
	if err != nil {
		return nil, err
	}

	ingestedAt := c.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	return []any{
		c.ID, c.CreatorID, c.Platform, c.PlatformContentID, c.URL,
		nullString(c.Title), nullString(c.Description), nullString(c.Body), nullString(c.ThumbnailURL),
		media, metrics, ref, nullTime(c.PublishedAt), ingestedAt,
	}, nil
}

func jsonOrNil(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal content field: %w", err)
	}
	return raw, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
