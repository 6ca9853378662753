package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

var pollerCreator = uuid.MustParse("2b7e1f3a-5c9d-4e8f-a1b2-c3d4e5f60718")

func snapshotJob(t *testing.T, snapshotID string, attempts, maxAttempts int) *ports.Job {
	t.Helper()
	payload, err := json.Marshal(SnapshotJobPayload{
		SnapshotID: snapshotID,
		CreatorID:  pollerCreator,
		Platform:   domain.PlatformInstagram,
	})
	require.NoError(t, err)
	return &ports.Job{
		ID:          "job-1",
		Queue:       QueueSnapshots,
		Key:         "snap:" + snapshotID,
		Payload:     payload,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func pendingSnapshot(id string) *domain.Snapshot {
	return &domain.Snapshot{
		ID:        id,
		CreatorID: pollerCreator,
		Platform:  domain.PlatformInstagram,
		Status:    domain.SnapshotPending,
	}
}

func TestPollerSkipsSettledSnapshot(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	done := pendingSnapshot("snap_1")
	done.Status = domain.SnapshotProcessed
	snapshots.On("Get", mock.Anything, "snap_1").Return(done, nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 0, 10))

	assert.NoError(t, err, "a settled snapshot is never reprocessed")
	provider.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestPollerNotReadyIsTransient(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "pending",
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).Return(nil)
	provider.On("Items", mock.Anything, "snap_1").
		Return(nil, domain.PermanentUpstream("items", errors.New("dataset not found")))
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotPending, mock.Anything).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 2, 10))

	assert.True(t, domain.IsTransientUpstream(err), "a not-ready dataset behind a pending report retries")
	snapshots.AssertExpectations(t)
}

// A provider that keeps answering "pending" even though the dataset is
// already downloadable must still get its content ingested.
func TestPollerIngestsPendingReportWithFetchableData(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "pending", ResultCount: 3, DatasetSizeBytes: 1024,
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).Return(nil)
	provider.On("Items", mock.Anything, "snap_1").Return([]map[string]any{
		{"id": "p1", "url": "https://instagram.com/p/p1", "caption": "one"},
		{"id": "p2", "url": "https://instagram.com/p/p2", "caption": "two"},
	}, nil)
	content.On("StoreMany", mock.Anything, mock.MatchedBy(func(items []*domain.Content) bool {
		return len(items) == 2
	})).Return(domain.BatchResult{Created: 2}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessed, mock.MatchedBy(func(u ports.SnapshotUpdate) bool {
		return u.PostsRetrieved == 2 && u.DatasetSizeBytes == 1024
	})).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 9, 10))

	assert.NoError(t, err, "a pending report with a fetchable dataset ingests")
	snapshots.AssertExpectations(t)
	content.AssertExpectations(t)
}

func TestPollerExhaustedAttemptsFailSnapshot(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "pending",
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).Return(nil)
	provider.On("Items", mock.Anything, "snap_1").
		Return(nil, domain.PermanentUpstream("items", errors.New("dataset not found")))
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotFailed, mock.MatchedBy(func(u ports.SnapshotUpdate) bool {
		return u.Error != "" && u.IncrementAttempt
	})).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 9, 10))

	assert.True(t, domain.IsPermanentUpstream(err), "the final attempt must not requeue")
	snapshots.AssertExpectations(t)
}

func TestPollerProviderFailure(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "failed", Error: "profile is private",
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotFailed, mock.MatchedBy(func(u ports.SnapshotUpdate) bool {
		return u.Error == "profile is private"
	})).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 0, 10))

	assert.True(t, domain.IsPermanentUpstream(err))
	snapshots.AssertExpectations(t)
}

func TestPollerEmptySnapshotIsProcessedNotRequeued(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "ready", ResultCount: 0, DatasetSizeBytes: 64, Cost: 0.01,
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).Return(nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessed, mock.MatchedBy(func(u ports.SnapshotUpdate) bool {
		return u.SkippedReason == "no content returned" && u.PostsRetrieved == 0
	})).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 0, 10))

	assert.NoError(t, err, "an empty snapshot completes cleanly")
	provider.AssertNotCalled(t, "Items", mock.Anything, mock.Anything)
	snapshots.AssertExpectations(t)
}

func TestPollerIngestsReadySnapshot(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "ready", ResultCount: 3, DatasetSizeBytes: 2048, Cost: 0.05,
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).Return(nil)

	provider.On("Items", mock.Anything, "snap_1").Return([]map[string]any{
		{"id": "p1", "url": "https://instagram.com/p/p1", "caption": "one"},
		{"id": "p2", "url": "https://instagram.com/p/p2", "caption": "two"},
		{"caption": "no url, skipped"},
	}, nil)

	content.On("StoreMany", mock.Anything, mock.MatchedBy(func(items []*domain.Content) bool {
		return len(items) == 2 && items[0].PlatformContentID == "p1" && items[1].PlatformContentID == "p2"
	})).Return(domain.BatchResult{Created: 1, Updated: 1}, nil)

	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessed, mock.MatchedBy(func(u ports.SnapshotUpdate) bool {
		return u.PostsRetrieved == 2 && u.DatasetSizeBytes == 2048
	})).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 1, 10))

	assert.NoError(t, err)
	snapshots.AssertExpectations(t)
	content.AssertExpectations(t)
}

func TestPollerClaimRaceIsIdempotent(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "ready", ResultCount: 5,
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).
		Return(domain.ErrInvalidTransition)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 0, 10))

	assert.NoError(t, err, "losing the claim race is not an error")
	provider.AssertNotCalled(t, "Items", mock.Anything, mock.Anything)
}

func TestPollerReleasesClaimOnTransientDownload(t *testing.T) {
	t.Parallel()

	snapshots := &mockSnapshotStore{}
	provider := &mockProvider{}
	content := &mockContentStore{}

	snapshots.On("Get", mock.Anything, "snap_1").Return(pendingSnapshot("snap_1"), nil)
	provider.On("Status", mock.Anything, "snap_1").Return(domain.ProviderStatus{
		ID: "snap_1", Status: "ready", ResultCount: 5,
	}, nil)
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotProcessing, mock.Anything).Return(nil)
	provider.On("Items", mock.Anything, "snap_1").
		Return(nil, domain.TransientUpstream("items", errors.New("gateway timeout")))
	snapshots.On("Transition", mock.Anything, "snap_1", domain.SnapshotPending, mock.Anything).Return(nil)

	p := NewSnapshotPoller(provider, snapshots, content, discardLogger())
	err := p.Handle(context.Background(), snapshotJob(t, "snap_1", 0, 10))

	assert.True(t, domain.IsTransientUpstream(err))
	snapshots.AssertExpectations(t)
}

func TestPollerRejectsGarbagePayload(t *testing.T) {
	t.Parallel()

	p := NewSnapshotPoller(&mockProvider{}, &mockSnapshotStore{}, &mockContentStore{}, discardLogger())

	err := p.Handle(context.Background(), &ports.Job{Payload: []byte("{"), MaxAttempts: 10})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}
