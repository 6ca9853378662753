package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

// CreatorStore reads the roster the refresh trigger iterates over.
type CreatorStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.CreatorStore = (*CreatorStore)(nil)

func NewCreatorStore(db *sql.DB) *CreatorStore {
	return &CreatorStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// DueForRefresh returns active creators whose refresh interval has elapsed,
// oldest refresh first so starved creators drain before recent ones.
func (s *CreatorStore) DueForRefresh(ctx context.Context, now time.Time, limit int) ([]domain.Creator, error) {
	query, args, err := s.sb.Select("id", "display_name", "status", "refresh_interval_sec", "last_refreshed_at", "created_at").
		From("creators").
		Where(sq.Eq{"status": domain.CreatorActive}).
		Where(sq.Or{
			sq.Eq{"last_refreshed_at": nil},
			sq.Expr("last_refreshed_at + make_interval(secs => refresh_interval_sec) <= ?", now),
		}).
		OrderBy("last_refreshed_at ASC NULLS FIRST").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build due-for-refresh: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due creators: %w", err)
	}
	defer rows.Close()

	var out []domain.Creator
	for rows.Next() {
		var (
			c           domain.Creator
			intervalSec int64
			refreshedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Status, &intervalSec, &refreshedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan creator: %w", err)
		}
		c.RefreshInterval = time.Duration(intervalSec) * time.Second
		if refreshedAt.Valid {
			t := refreshedAt.Time
			c.LastRefreshedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// URLs returns the creator's source URLs, skipping ones marked invalid.
func (s *CreatorStore) URLs(ctx context.Context, creatorID uuid.UUID) ([]domain.CreatorURL, error) {
	query, args, err := s.sb.Select("id", "creator_id", "platform", "raw_url", "canonical_url", "status").
		From("creator_urls").
		Where(sq.Eq{"creator_id": creatorID}).
		Where(sq.NotEq{"status": domain.URLInvalid}).
		OrderBy("platform ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build creator urls: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query creator urls: %w", err)
	}
	defer rows.Close()

	var out []domain.CreatorURL
	for rows.Next() {
		var u domain.CreatorURL
		if err := rows.Scan(&u.ID, &u.CreatorID, &u.Platform, &u.RawURL, &u.CanonicalURL, &u.Status); err != nil {
			return nil, fmt.Errorf("scan creator url: %w", err)
		}
		// Rows registered before canonicalization was enforced carry an
		// empty canonical column.
		if u.CanonicalURL == "" {
			u.CanonicalURL = domain.CanonicalizeURL(u.RawURL)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *CreatorStore) MarkRefreshed(ctx context.Context, creatorID uuid.UUID, at time.Time) error {
	query, args, err := s.sb.Update("creators").
		Set("last_refreshed_at", at).
		Where(sq.Eq{"id": creatorID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark refreshed: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark refreshed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: creator %s", domain.ErrNotFound, creatorID)
	}
	return nil
}
