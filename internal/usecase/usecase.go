package usecase

import (
	"context"
	"time"

	"creatorpulse/internal/infrastructure/queue"
)

// Queue names. Feed jobs and snapshot polls retry on different schedules,
// so they live in separate queues.
const (
	QueueFeeds     = "feeds"
	QueueSnapshots = "snapshots"
)

// RateLimiter guards calls against the scrape provider's request budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// QueueAdmin is the maintenance surface of the queue orchestrator.
type QueueAdmin interface {
	Cleanup(ctx context.Context, name string, olderThan time.Duration, states []string) (map[string]int, error)
	Obliterate(ctx context.Context, name string) (map[string]int, error)
	Stats(ctx context.Context, name string) (queue.Counts, error)
}
