package usecase

import (
	"context"
	"log/slog"
	"time"

	"creatorpulse/internal/ports"
)

var finishedStates = []string{"completed", "failed"}

// HaltReport summarizes an emergency stop. JobsPurged holds the per-state
// job counts each queue lost.
type HaltReport struct {
	QueuesCleared   []string
	JobsPurged      map[string]map[string]int
	SnapshotsFailed int
}

// Maintainer owns the housekeeping triggers: dropping aged finished jobs on
// a schedule, and the operator-invoked emergency stop.
type Maintainer struct {
	queues    QueueAdmin
	snapshots ports.SnapshotStore
	retention time.Duration
	names     []string
	log       *slog.Logger
}

func NewMaintainer(queues QueueAdmin, snapshots ports.SnapshotStore, retention time.Duration, log *slog.Logger) *Maintainer {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Maintainer{
		queues:    queues,
		snapshots: snapshots,
		retention: retention,
		names:     []string{QueueFeeds, QueueSnapshots},
		log:       log.With("component", "maintenance"),
	}
}

// Cleanup drops finished jobs older than the retention from every queue and
// returns the removal counts per queue and state.
func (m *Maintainer) Cleanup(ctx context.Context) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int, len(m.names))
	for _, name := range m.names {
		removed, err := m.queues.Cleanup(ctx, name, m.retention, finishedStates)
		if err != nil {
			return out, err
		}
		out[name] = removed
		m.log.Info("queue cleaned",
			"queue", name, "completed", removed["completed"], "failed", removed["failed"])
	}
	return out, nil
}

// Halt is the emergency stop: every queue is obliterated, then every
// snapshot still in flight is failed with the given reason so nothing in
// the database stays pending forever.
func (m *Maintainer) Halt(ctx context.Context, reason string) (HaltReport, error) {
	report := HaltReport{JobsPurged: make(map[string]map[string]int, len(m.names))}
	for _, name := range m.names {
		purged, err := m.queues.Obliterate(ctx, name)
		if err != nil {
			return report, err
		}
		report.QueuesCleared = append(report.QueuesCleared, name)
		report.JobsPurged[name] = purged
		m.log.Warn("queue purged",
			"queue", name, "waiting", purged["waiting"], "delayed", purged["delayed"],
			"active", purged["active"])
	}

	failed, err := m.snapshots.FailOutstanding(ctx, reason)
	if err != nil {
		return report, err
	}
	report.SnapshotsFailed = failed

	m.log.Warn("pipeline halted", "reason", reason, "snapshots_failed", failed)
	return report, nil
}
