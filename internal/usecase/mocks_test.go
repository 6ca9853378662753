package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/infrastructure/feed"
	"creatorpulse/internal/infrastructure/queue"
	"creatorpulse/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockContentStore struct{ mock.Mock }

func (m *mockContentStore) Create(ctx context.Context, c *domain.Content) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockContentStore) Upsert(ctx context.Context, c *domain.Content) (domain.UpsertOutcome, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(domain.UpsertOutcome), args.Error(1)
}

func (m *mockContentStore) StoreMany(ctx context.Context, items []*domain.Content) (domain.BatchResult, error) {
	args := m.Called(ctx, items)
	return args.Get(0).(domain.BatchResult), args.Error(1)
}

func (m *mockContentStore) Exists(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, platformContentID string) (bool, error) {
	args := m.Called(ctx, creatorID, platform, platformContentID)
	return args.Bool(0), args.Error(1)
}

func (m *mockContentStore) ExistingIDs(ctx context.Context, creatorID uuid.UUID, platform domain.Platform, ids []string) (map[string]bool, error) {
	args := m.Called(ctx, creatorID, platform, ids)
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *mockContentStore) SelectUnscored(ctx context.Context, window time.Duration, limit int) ([]*domain.Content, error) {
	args := m.Called(ctx, window, limit)
	return args.Get(0).([]*domain.Content), args.Error(1)
}

func (m *mockContentStore) CountUnscored(ctx context.Context, window time.Duration) (int, error) {
	args := m.Called(ctx, window)
	return args.Int(0), args.Error(1)
}

func (m *mockContentStore) MarkScored(ctx context.Context, id uuid.UUID, score float64, checkedAt time.Time) error {
	return m.Called(ctx, id, score, checkedAt).Error(0)
}

type mockSnapshotStore struct{ mock.Mock }

func (m *mockSnapshotStore) Create(ctx context.Context, s *domain.Snapshot) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockSnapshotStore) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	args := m.Called(ctx, id)
	if snap, ok := args.Get(0).(*domain.Snapshot); ok {
		return snap, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshotStore) Transition(ctx context.Context, id string, to domain.SnapshotStatus, upd ports.SnapshotUpdate) error {
	return m.Called(ctx, id, to, upd).Error(0)
}

func (m *mockSnapshotStore) FailOutstanding(ctx context.Context, reason string) (int, error) {
	args := m.Called(ctx, reason)
	return args.Int(0), args.Error(1)
}

type mockCreatorStore struct{ mock.Mock }

func (m *mockCreatorStore) DueForRefresh(ctx context.Context, now time.Time, limit int) ([]domain.Creator, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]domain.Creator), args.Error(1)
}

func (m *mockCreatorStore) URLs(ctx context.Context, creatorID uuid.UUID) ([]domain.CreatorURL, error) {
	args := m.Called(ctx, creatorID)
	return args.Get(0).([]domain.CreatorURL), args.Error(1)
}

func (m *mockCreatorStore) MarkRefreshed(ctx context.Context, creatorID uuid.UUID, at time.Time) error {
	return m.Called(ctx, creatorID, at).Error(0)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Enqueue(ctx context.Context, queue, jobKey string, payload []byte, policy ports.JobPolicy) (ports.JobHandle, error) {
	args := m.Called(ctx, queue, jobKey, payload, policy)
	return args.Get(0).(ports.JobHandle), args.Error(1)
}

func (m *mockQueue) IsQueued(ctx context.Context, queue, jobKey string) (bool, error) {
	args := m.Called(ctx, queue, jobKey)
	return args.Bool(0), args.Error(1)
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) Submit(ctx context.Context, urls []string, maxResults int) (string, error) {
	args := m.Called(ctx, urls, maxResults)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Status(ctx context.Context, snapshotID string) (domain.ProviderStatus, error) {
	args := m.Called(ctx, snapshotID)
	return args.Get(0).(domain.ProviderStatus), args.Error(1)
}

func (m *mockProvider) Items(ctx context.Context, snapshotID string) ([]map[string]any, error) {
	args := m.Called(ctx, snapshotID)
	if items, ok := args.Get(0).([]map[string]any); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockJudge struct{ mock.Mock }

func (m *mockJudge) Score(ctx context.Context, c *domain.Content) (float64, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(float64), args.Error(1)
}

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Fetch(ctx context.Context, creatorID uuid.UUID, url string, opts feed.Options) (*feed.Result, error) {
	args := m.Called(ctx, creatorID, url, opts)
	if result, ok := args.Get(0).(*feed.Result); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockQueueAdmin struct{ mock.Mock }

func (m *mockQueueAdmin) Cleanup(ctx context.Context, name string, olderThan time.Duration, states []string) (map[string]int, error) {
	args := m.Called(ctx, name, olderThan, states)
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *mockQueueAdmin) Obliterate(ctx context.Context, name string) (map[string]int, error) {
	args := m.Called(ctx, name)
	if counts, ok := args.Get(0).(map[string]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueAdmin) Stats(ctx context.Context, name string) (queue.Counts, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(queue.Counts), args.Error(1)
}
