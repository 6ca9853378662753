package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infrastructure/feed"
	"creatorpulse/internal/ports"
)

// storeBatchLimit mirrors the storage layer's batch bound.
const storeBatchLimit = 100

// FeedJobPayload is the body of one queued feed fetch.
type FeedJobPayload struct {
	CreatorID uuid.UUID `json:"creator_id"`
	URL       string    `json:"url"`
}

// FeedFetcher is the slice of the feed adapter the ingester needs.
type FeedFetcher interface {
	Fetch(ctx context.Context, creatorID uuid.UUID, url string, opts feed.Options) (*feed.Result, error)
}

// FeedIngest handles queued feed jobs: fetch, normalize, upsert. The upsert
// makes redelivery harmless, so the handler needs no state of its own.
type FeedIngest struct {
	fetcher  FeedFetcher
	content  ports.ContentStore
	maxItems int
	timeout  time.Duration
	log      *slog.Logger
}

func NewFeedIngest(fetcher FeedFetcher, content ports.ContentStore, maxItems int, timeout time.Duration, log *slog.Logger) *FeedIngest {
	return &FeedIngest{
		fetcher:  fetcher,
		content:  content,
		maxItems: maxItems,
		timeout:  timeout,
		log:      log.With("component", "feed_ingest"),
	}
}

// Handle processes one feed job. A payload that does not decode is
// malformed and must not be retried; fetch failures are transient and
// bubble to the worker's retry policy.
func (f *FeedIngest) Handle(ctx context.Context, job *ports.Job) error {
	var p FeedJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode feed job: %v", domain.ErrMalformedPayload, err)
	}
	if p.CreatorID == uuid.Nil || p.URL == "" {
		return fmt.Errorf("%w: feed job missing creator or url", domain.ErrMalformedPayload)
	}

	result, err := f.fetcher.Fetch(ctx, p.CreatorID, p.URL, feed.Options{
		MaxItems: f.maxItems,
		Timeout:  f.timeout,
	})
	if err != nil {
		return err
	}

	if len(result.Items) == 0 {
		f.log.Info("feed yielded nothing", "creator_id", p.CreatorID, "url", p.URL, "skipped", result.Skipped)
		return nil
	}

	created, updated, failed, err := storeInChunks(ctx, f.content, result.Items)
	if err != nil {
		return err
	}
	for _, ie := range failed {
		f.log.Warn("feed item rejected", "url", p.URL, "index", ie.Index, "error", ie.Err)
	}

	f.log.Info("feed ingested",
		"creator_id", p.CreatorID, "url", p.URL,
		"created", created, "updated", updated,
		"rejected", len(failed), "skipped", result.Skipped)
	return nil
}

// storeInChunks feeds items through StoreMany respecting its batch bound.
func storeInChunks(ctx context.Context, store ports.ContentStore, items []*domain.Content) (created, updated int, failed []domain.ItemError, err error) {
	for offset := 0; offset < len(items); offset += storeBatchLimit {
		end := offset + storeBatchLimit
		if end > len(items) {
			end = len(items)
		}

		result, err := store.StoreMany(ctx, items[offset:end])
		if err != nil {
			return created, updated, failed, err
		}
		created += result.Created
		updated += result.Updated
		for _, ie := range result.Errors {
			ie.Index += offset
			failed = append(failed, ie)
		}
	}
	return created, updated, failed, nil
}
