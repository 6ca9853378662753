package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/normalize"
	"creatorpulse/internal/ports"
)

// SnapshotJobPayload is the body of one queued snapshot poll.
type SnapshotJobPayload struct {
	SnapshotID string          `json:"snapshot_id"`
	CreatorID  uuid.UUID       `json:"creator_id"`
	Platform   domain.Platform `json:"platform"`
}

// SnapshotPoller drives provider snapshots to a terminal state. Each job
// delivery is one poll: not-ready snapshots come back as a transient error
// so the worker re-delivers with backoff, and the snapshot record in the
// database always reflects the outcome of the final delivery.
type SnapshotPoller struct {
	provider  ports.ScrapeProvider
	snapshots ports.SnapshotStore
	content   ports.ContentStore
	log       *slog.Logger
}

func NewSnapshotPoller(provider ports.ScrapeProvider, snapshots ports.SnapshotStore, content ports.ContentStore, log *slog.Logger) *SnapshotPoller {
	return &SnapshotPoller{
		provider:  provider,
		snapshots: snapshots,
		content:   content,
		log:       log.With("component", "snapshot_poller"),
	}
}

func (s *SnapshotPoller) Handle(ctx context.Context, job *ports.Job) error {
	var p SnapshotJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode snapshot job: %v", domain.ErrMalformedPayload, err)
	}
	if p.SnapshotID == "" {
		return fmt.Errorf("%w: snapshot job missing id", domain.ErrMalformedPayload)
	}

	snap, err := s.snapshots.Get(ctx, p.SnapshotID)
	if err != nil {
		return err
	}
	// Redelivery after a completed run.
	if snap.Status.Terminal() {
		s.log.Info("snapshot already settled", "snapshot_id", snap.ID, "status", snap.Status)
		return nil
	}

	status, err := s.provider.Status(ctx, p.SnapshotID)
	if err != nil {
		if domain.IsTransientUpstream(err) && !job.LastAttempt() {
			return err
		}
		s.fail(ctx, snap.ID, fmt.Sprintf("status check failed: %v", err))
		return domain.PermanentUpstream("poll snapshot", err)
	}

	switch status.Status {
	case "failed":
		reason := status.Error
		if reason == "" {
			reason = "provider reported failure"
		}
		s.fail(ctx, snap.ID, reason)
		return domain.PermanentUpstream("poll snapshot", errors.New(reason))

	case "ready", "pending":
		// Some providers keep reporting "pending" after the dataset is
		// already downloadable, so a pending report still attempts the
		// fetch and only falls back to a retry when the fetch itself says
		// the data is not there yet.
		return s.collect(ctx, job, snap, status)

	default:
		// Still running provider-side.
		if job.LastAttempt() {
			s.fail(ctx, snap.ID, "provider never became ready")
			return domain.PermanentUpstream("poll snapshot", errors.New("attempts exhausted before snapshot became ready"))
		}
		return domain.TransientUpstream("poll snapshot", fmt.Errorf("snapshot %s still %s", snap.ID, status.Status))
	}
}

// collect attempts to consume the snapshot's dataset. The processing claim
// is taken in the database first so two workers racing on the same snapshot
// cannot both ingest it.
func (s *SnapshotPoller) collect(ctx context.Context, job *ports.Job, snap *domain.Snapshot, status domain.ProviderStatus) error {
	err := s.snapshots.Transition(ctx, snap.ID, domain.SnapshotProcessing, ports.SnapshotUpdate{
		IncrementAttempt: true,
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.log.Info("snapshot claimed elsewhere", "snapshot_id", snap.ID)
		return nil
	}
	if err != nil {
		return err
	}

	reportedReady := status.Status == "ready"
	if reportedReady && status.ResultCount == 0 {
		return s.snapshots.Transition(ctx, snap.ID, domain.SnapshotProcessed, ports.SnapshotUpdate{
			SkippedReason:    "no content returned",
			DatasetSizeBytes: status.DatasetSizeBytes,
			Cost:             status.Cost,
		})
	}

	items, err := s.provider.Items(ctx, snap.ID)
	if err != nil {
		// A failed fetch behind a pending report means the dataset really
		// is not ready yet, whatever the HTTP classification says.
		if (domain.IsTransientUpstream(err) || !reportedReady) && !job.LastAttempt() {
			// Release the claim so the next delivery can retry the download.
			if rerr := s.snapshots.Transition(ctx, snap.ID, domain.SnapshotPending, ports.SnapshotUpdate{}); rerr != nil {
				s.log.Error("release snapshot claim", "snapshot_id", snap.ID, "error", rerr)
			}
			if !reportedReady {
				return domain.TransientUpstream("poll snapshot", fmt.Errorf("snapshot %s dataset not ready: %w", snap.ID, err))
			}
			return err
		}
		s.fail(ctx, snap.ID, fmt.Sprintf("dataset download failed: %v", err))
		return domain.PermanentUpstream("collect snapshot", err)
	}

	if len(items) == 0 {
		return s.snapshots.Transition(ctx, snap.ID, domain.SnapshotProcessed, ports.SnapshotUpdate{
			SkippedReason:    "no content returned",
			DatasetSizeBytes: status.DatasetSizeBytes,
			Cost:             status.Cost,
		})
	}

	records := make([]*domain.Content, 0, len(items))
	malformed := 0
	for _, raw := range items {
		c, err := normalize.Normalize(snap.CreatorID, snap.Platform, raw, "")
		if err != nil {
			malformed++
			s.log.Warn("snapshot item skipped", "snapshot_id", snap.ID, "error", err)
			continue
		}
		records = append(records, c)
	}

	var created, updated int
	var failed []domain.ItemError
	if len(records) > 0 {
		created, updated, failed, err = storeInChunks(ctx, s.content, records)
		if err != nil {
			s.fail(ctx, snap.ID, fmt.Sprintf("store failed: %v", err))
			return err
		}
	}
	for _, ie := range failed {
		s.log.Warn("snapshot item rejected", "snapshot_id", snap.ID, "index", ie.Index, "error", ie.Err)
	}

	s.log.Info("snapshot ingested",
		"snapshot_id", snap.ID, "platform", snap.Platform,
		"created", created, "updated", updated,
		"rejected", len(failed), "malformed", malformed)

	return s.snapshots.Transition(ctx, snap.ID, domain.SnapshotProcessed, ports.SnapshotUpdate{
		PostsRetrieved:   created + updated,
		DatasetSizeBytes: status.DatasetSizeBytes,
		Cost:             status.Cost,
	})
}

func (s *SnapshotPoller) fail(ctx context.Context, snapshotID, reason string) {
	err := s.snapshots.Transition(ctx, snapshotID, domain.SnapshotFailed, ports.SnapshotUpdate{
		Error:            reason,
		IncrementAttempt: true,
	})
	if err != nil {
		s.log.Error("mark snapshot failed", "snapshot_id", snapshotID, "error", err)
	}
}
