package usecase

import (
	"context"
	"log/slog"
	"time"

	"creatorpulse/internal/ports"
)

// RelevancyReport summarizes one scoring batch.
type RelevancyReport struct {
	Processed int
	Errors    int
	Remaining int
}

// RelevancyProcessor scores recently ingested content in bounded batches.
// Content older than the recency window is deliberately never scored.
type RelevancyProcessor struct {
	content   ports.ContentStore
	judge     ports.Judge
	window    time.Duration
	batchSize int
	log       *slog.Logger
}

func NewRelevancyProcessor(content ports.ContentStore, judge ports.Judge, window time.Duration, batchSize int, log *slog.Logger) *RelevancyProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if window <= 0 {
		window = 72 * time.Hour
	}
	return &RelevancyProcessor{
		content:   content,
		judge:     judge,
		window:    window,
		batchSize: batchSize,
		log:       log.With("component", "relevancy"),
	}
}

// ProcessBatch scores up to batchSize unscored records. A record whose
// scoring fails stays unscored and is retried on a later batch; it never
// blocks the rest.
func (r *RelevancyProcessor) ProcessBatch(ctx context.Context) (RelevancyReport, error) {
	items, err := r.content.SelectUnscored(ctx, r.window, r.batchSize)
	if err != nil {
		return RelevancyReport{}, err
	}

	var report RelevancyReport
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		score, err := r.judge.Score(ctx, item)
		if err != nil {
			report.Errors++
			r.log.Warn("score failed", "content_id", item.ID, "error", err)
			continue
		}

		if err := r.content.MarkScored(ctx, item.ID, score, time.Now().UTC()); err != nil {
			report.Errors++
			r.log.Warn("persist score failed", "content_id", item.ID, "error", err)
			continue
		}
		report.Processed++
	}

	remaining, err := r.content.CountUnscored(ctx, r.window)
	if err != nil {
		return report, err
	}
	report.Remaining = remaining

	if report.Processed > 0 || report.Errors > 0 {
		r.log.Info("relevancy batch finished",
			"processed", report.Processed, "errors", report.Errors, "remaining", report.Remaining)
	}
	return report, nil
}
