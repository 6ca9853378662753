package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

// SnapshotStore keeps the scrape-request audit trail. Rows are never
// deleted; terminal snapshots stay behind as history.
type SnapshotStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *SnapshotStore) Create(ctx context.Context, snap *domain.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("%w: snapshot without provider id", domain.ErrConstraintViolation)
	}
	if snap.Status == "" {
		snap.Status = domain.SnapshotPending
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	query, args, err := s.sb.Insert("snapshots").
		Columns("id", "creator_id", "platform", "creator_urls", "status", "created_at").
		Values(snap.ID, snap.CreatorID, snap.Platform, pq.StringArray(snap.CreatorURLs), snap.Status, snap.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	query, args, err := s.sb.Select(
		"id", "creator_id", "platform", "creator_urls", "status",
		"posts_retrieved", "skipped_reason", "dataset_size_bytes", "cost",
		"attempts", "error", "created_at", "processed_at",
	).
		From("snapshots").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot get: %w", err)
	}

	var (
		snap        domain.Snapshot
		urls        pq.StringArray
		skipped     sql.NullString
		errText     sql.NullString
		processedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&snap.ID, &snap.CreatorID, &snap.Platform, &urls, &snap.Status,
		&snap.PostsRetrieved, &skipped, &snap.DatasetSizeBytes, &snap.Cost,
		&snap.Attempts, &errText, &snap.CreatedAt, &processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	snap.CreatorURLs = urls
	snap.SkippedReason = skipped.String
	snap.Error = errText.String
	if processedAt.Valid {
		t := processedAt.Time
		snap.ProcessedAt = &t
	}
	return &snap, nil
}

// Transition moves a snapshot forward in its state machine. The source
// states allowed to reach the target are enforced inside the UPDATE itself,
// so a concurrent or repeated transition affects zero rows and is rejected —
// terminal snapshots never regress.
func (s *SnapshotStore) Transition(ctx context.Context, id string, to domain.SnapshotStatus, upd ports.SnapshotUpdate) error {
	sources := domain.TransitionSources(to)
	if len(sources) == 0 {
		return fmt.Errorf("%w: no state may enter %q", domain.ErrInvalidTransition, to)
	}
	from := make([]string, len(sources))
	for i, st := range sources {
		from[i] = string(st)
	}

	builder := s.sb.Update("snapshots").
		Set("status", to).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("status = ANY(?)", pq.StringArray(from)))

	if upd.IncrementAttempt {
		builder = builder.Set("attempts", sq.Expr("attempts + 1"))
	}
	if upd.PostsRetrieved != 0 || to == domain.SnapshotProcessed {
		builder = builder.Set("posts_retrieved", upd.PostsRetrieved)
	}
	if upd.SkippedReason != "" {
		builder = builder.Set("skipped_reason", upd.SkippedReason)
	}
	if upd.DatasetSizeBytes != 0 {
		builder = builder.Set("dataset_size_bytes", upd.DatasetSizeBytes)
	}
	if upd.Cost != 0 {
		builder = builder.Set("cost", upd.Cost)
	}
	if upd.Error != "" {
		builder = builder.Set("error", upd.Error)
	}
	if to.Terminal() {
		builder = builder.Set("processed_at", time.Now().UTC())
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot transition: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: snapshot %s cannot enter %q", domain.ErrInvalidTransition, id, to)
	}
	return nil
}

// FailOutstanding is the operator emergency stop: every non-terminal
// snapshot is bulk-transitioned to failed with the given reason.
func (s *SnapshotStore) FailOutstanding(ctx context.Context, reason string) (int, error) {
	query, args, err := s.sb.Update("snapshots").
		Set("status", domain.SnapshotFailed).
		Set("error", reason).
		Set("processed_at", time.Now().UTC()).
		Where(sq.Expr("status = ANY(?)", pq.StringArray{
			string(domain.SnapshotPending), string(domain.SnapshotReady), string(domain.SnapshotProcessing),
		})).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build fail outstanding: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fail outstanding snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
