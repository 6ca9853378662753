package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

// RefreshConfig bounds one refresh sweep.
type RefreshConfig struct {
	CreatorBatch   int
	MaxResults     int
	FeedPolicy     ports.JobPolicy
	SnapshotPolicy ports.JobPolicy
}

// Refresher is the periodic trigger that fans creator URLs out into work:
// feed URLs become queued fetch jobs, asynchronous platforms become
// provider snapshots with a queued poll job each.
type Refresher struct {
	creators  ports.CreatorStore
	snapshots ports.SnapshotStore
	queue     ports.Queue
	provider  ports.ScrapeProvider
	limiter   RateLimiter
	cfg       RefreshConfig
	log       *slog.Logger
}

func NewRefresher(
	creators ports.CreatorStore,
	snapshots ports.SnapshotStore,
	q ports.Queue,
	provider ports.ScrapeProvider,
	limiter RateLimiter,
	cfg RefreshConfig,
	log *slog.Logger,
) *Refresher {
	if cfg.CreatorBatch <= 0 {
		cfg.CreatorBatch = 50
	}
	return &Refresher{
		creators:  creators,
		snapshots: snapshots,
		queue:     q,
		provider:  provider,
		limiter:   limiter,
		cfg:       cfg,
		log:       log.With("component", "refresher"),
	}
}

// Run performs one sweep over due creators. A creator is marked refreshed
// only when every one of its URLs was dispatched; a throttled or failed
// dispatch leaves it due, so the next sweep picks it up again.
func (r *Refresher) Run(ctx context.Context) {
	now := time.Now().UTC()

	due, err := r.creators.DueForRefresh(ctx, now, r.cfg.CreatorBatch)
	if err != nil {
		r.log.Error("list due creators", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	r.log.Info("refresh sweep started", "due", len(due))
	for _, creator := range due {
		if ctx.Err() != nil {
			return
		}
		if err := r.refreshCreator(ctx, creator, now); err != nil {
			r.log.Warn("creator left due", "creator_id", creator.ID, "error", err)
		}
	}
}

func (r *Refresher) refreshCreator(ctx context.Context, creator domain.Creator, now time.Time) error {
	urls, err := r.creators.URLs(ctx, creator.ID)
	if err != nil {
		return fmt.Errorf("list urls: %w", err)
	}
	if len(urls) == 0 {
		return r.creators.MarkRefreshed(ctx, creator.ID, now)
	}

	// Async platforms are submitted as one snapshot per platform so the
	// provider scrapes a creator's profiles together.
	byPlatform := make(map[domain.Platform][]string)
	for _, u := range urls {
		target := u.CanonicalURL
		if target == "" {
			target = u.RawURL
		}

		if u.Platform.Async() {
			byPlatform[u.Platform] = append(byPlatform[u.Platform], target)
			continue
		}

		if err := r.enqueueFeed(ctx, creator, target); err != nil {
			return err
		}
	}

	for platform, targets := range byPlatform {
		if err := r.submitScrape(ctx, creator, platform, targets); err != nil {
			return err
		}
	}

	return r.creators.MarkRefreshed(ctx, creator.ID, now)
}

func (r *Refresher) enqueueFeed(ctx context.Context, creator domain.Creator, url string) error {
	payload, err := json.Marshal(FeedJobPayload{CreatorID: creator.ID, URL: url})
	if err != nil {
		return fmt.Errorf("marshal feed job: %w", err)
	}

	jobKey := fmt.Sprintf("feed:%s:%s", creator.ID, url)
	handle, err := r.queue.Enqueue(ctx, QueueFeeds, jobKey, payload, r.cfg.FeedPolicy)
	if err != nil {
		return fmt.Errorf("enqueue feed job: %w", err)
	}
	if handle.Deduplicated {
		r.log.Debug("feed job already queued", "creator_id", creator.ID, "url", url)
	}
	return nil
}

func (r *Refresher) submitScrape(ctx context.Context, creator domain.Creator, platform domain.Platform, targets []string) error {
	ok, err := r.limiter.Allow(ctx, "provider")
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !ok {
		return fmt.Errorf("provider budget exhausted for %s", platform)
	}

	snapshotID, err := r.provider.Submit(ctx, targets, r.cfg.MaxResults)
	if err != nil {
		return fmt.Errorf("submit %s scrape: %w", platform, err)
	}

	snap := &domain.Snapshot{
		ID:          snapshotID,
		CreatorID:   creator.ID,
		Platform:    platform,
		CreatorURLs: targets,
		Status:      domain.SnapshotPending,
	}
	if err := r.snapshots.Create(ctx, snap); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	payload, err := json.Marshal(SnapshotJobPayload{
		SnapshotID: snapshotID,
		CreatorID:  creator.ID,
		Platform:   platform,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot job: %w", err)
	}

	if _, err := r.queue.Enqueue(ctx, QueueSnapshots, "snap:"+snapshotID, payload, r.cfg.SnapshotPolicy); err != nil {
		return fmt.Errorf("enqueue snapshot poll: %w", err)
	}

	r.log.Info("scrape dispatched",
		"creator_id", creator.ID, "platform", platform,
		"snapshot_id", snapshotID, "urls", len(targets))
	return nil
}
