package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
)

// ContentStore is the idempotent upsert and read surface over canonical
// content. The uniqueness of (creator, platform, platform content id) is
// enforced by the backing storage, not by application code.
type ContentStore interface {
	// Create inserts a new record and surfaces ErrDuplicateContent when the
	// dedup key already exists.
	Create(ctx context.Context, c *domain.Content) error
	// Upsert inserts or refreshes the mutable fields of an existing record.
	Upsert(ctx context.Context, c *domain.Content) (domain.UpsertOutcome, error)
	// StoreMany upserts 1-100 items; a malformed item never aborts the batch.
	StoreMany(ctx context.Context, items []*domain.Content) (domain.BatchResult, error)
	Exists(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, platformContentID string) (bool, error)
	// ExistingIDs returns the subset of ids already stored for the creator
	// and platform.
	ExistingIDs(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, ids []string) (map[string]bool, error)
	SelectUnscored(ctx context.Context, window time.Duration, limit int) ([]*domain.Content, error)
	CountUnscored(ctx context.Context, window time.Duration) (int, error)
	MarkScored(ctx context.Context, id uuid.UUID, score float64, checkedAt time.Time) error
}

// SnapshotUpdate carries the mutable fields written during a transition.
type SnapshotUpdate struct {
	PostsRetrieved   int
	SkippedReason    string
	DatasetSizeBytes int64
	Cost             float64
	Error            string
	IncrementAttempt bool
}

// SnapshotStore persists the scrape-request audit trail. Transition enforces
// the forward-only state machine at the storage layer.
type SnapshotStore interface {
	Create(ctx context.Context, s *domain.Snapshot) error
	Get(ctx context.Context, id string) (*domain.Snapshot, error)
	Transition(ctx context.Context, id string, to domain.SnapshotStatus, upd SnapshotUpdate) error
	// FailOutstanding bulk-transitions every non-terminal snapshot to failed;
	// used as the operator emergency stop. Returns the number affected.
	FailOutstanding(ctx context.Context, reason string) (int, error)
}

// CreatorStore provides the refresh trigger's view of creators.
type CreatorStore interface {
	DueForRefresh(ctx context.Context, now time.Time, limit int) ([]domain.Creator, error)
	URLs(ctx context.Context, creatorID uuid.UUID) ([]domain.CreatorURL, error)
	MarkRefreshed(ctx context.Context, creatorID uuid.UUID, at time.Time) error
}

// JobPolicy bounds retries of one queued job.
type JobPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// JobHandle identifies an enqueued job. Deduplicated is set when an
// equivalent job was already waiting, active or delayed.
type JobHandle struct {
	ID           string
	Deduplicated bool
}

// Queue is the producer surface of the queue orchestrator.
type Queue interface {
	Enqueue(ctx context.Context, queue, jobKey string, payload []byte, policy JobPolicy) (JobHandle, error)
	IsQueued(ctx context.Context, queue, jobKey string) (bool, error)
}

// Job is the view of a queued job a handler receives. Attempts counts prior
// deliveries, so the first delivery sees Attempts == 0.
type Job struct {
	ID          string
	Queue       string
	Key         string
	Payload     []byte
	Attempts    int
	MaxAttempts int
}

// LastAttempt reports whether this delivery is the job's final one.
func (j *Job) LastAttempt() bool {
	return j.Attempts >= j.MaxAttempts-1
}

// JobHandler processes one job delivery. Handlers must be idempotent:
// delivery is at-least-once. A transient upstream error re-enqueues the job
// with backoff until its policy is exhausted; any other error fails it.
type JobHandler func(ctx context.Context, job *Job) error

// ScrapeProvider talks to the external asynchronous scraping service.
type ScrapeProvider interface {
	Submit(ctx context.Context, urls []string, maxResults int) (string, error)
	Status(ctx context.Context, snapshotID string) (domain.ProviderStatus, error)
	Items(ctx context.Context, snapshotID string) ([]map[string]any, error)
}

// Judge scores content for topical relevancy via an external service.
type Judge interface {
	Score(ctx context.Context, c *domain.Content) (float64, error)
}

// Scheduler controls when the periodic triggers execute.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
