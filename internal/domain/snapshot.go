package domain

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotStatus is the state of one outstanding asynchronous scrape request.
type SnapshotStatus string

const (
	SnapshotPending    SnapshotStatus = "pending"
	SnapshotReady      SnapshotStatus = "ready"
	SnapshotProcessing SnapshotStatus = "processing"
	SnapshotProcessed  SnapshotStatus = "processed"
	SnapshotFailed     SnapshotStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SnapshotStatus) Terminal() bool {
	return s == SnapshotProcessed || s == SnapshotFailed
}

// CanTransitionTo encodes the forward-only state machine. A snapshot never
// regresses out of processed or failed; processing may fall back to pending
// when the provider reports the result is not ready yet.
func (s SnapshotStatus) CanTransitionTo(next SnapshotStatus) bool {
	switch s {
	case SnapshotPending:
		return next == SnapshotReady || next == SnapshotProcessing || next == SnapshotFailed
	case SnapshotReady:
		return next == SnapshotProcessing || next == SnapshotFailed
	case SnapshotProcessing:
		return next == SnapshotProcessed || next == SnapshotPending || next == SnapshotFailed
	default:
		return false
	}
}

// TransitionSources lists the statuses allowed to move into next. Stores use
// it to enforce the state machine inside the UPDATE itself.
func TransitionSources(next SnapshotStatus) []SnapshotStatus {
	var from []SnapshotStatus
	for _, s := range []SnapshotStatus{SnapshotPending, SnapshotReady, SnapshotProcessing} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// Snapshot is the audit record of one scrape request submitted to the
// provider. Snapshots are never deleted, only marked processed or failed.
type Snapshot struct {
	ID          string
	CreatorID   uuid.UUID
	Platform    Platform
	CreatorURLs []string
	Status      SnapshotStatus

	PostsRetrieved   int
	SkippedReason    string
	DatasetSizeBytes int64
	Cost             float64
	Attempts         int
	Error            string

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ProviderStatus is the provider's report on a snapshot fetch.
type ProviderStatus struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"` // "pending" | "ready" | "failed"
	ResultCount      int     `json:"resultCount"`
	DatasetSizeBytes int64   `json:"datasetSizeBytes"`
	Cost             float64 `json:"cost,omitempty"`
	Error            string  `json:"error,omitempty"`
}
