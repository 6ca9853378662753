package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"creatorpulse/internal/config"
	"creatorpulse/internal/infrastructure/feed"
	"creatorpulse/internal/infrastructure/queue"
	"creatorpulse/internal/infrastructure/ratelimit"
	"creatorpulse/internal/infrastructure/relevancy"
	"creatorpulse/internal/infrastructure/scheduler"
	"creatorpulse/internal/infrastructure/scrape"
	"creatorpulse/internal/infrastructure/storage"
	"creatorpulse/internal/logging"
	"creatorpulse/internal/ports"
	"creatorpulse/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg config.Config
	log *slog.Logger

	db    *sql.DB
	redis *redis.Client

	queue      *queue.Orchestrator
	scheduler  *scheduler.CronScheduler
	feedIngest *usecase.FeedIngest
	poller     *usecase.SnapshotPoller
	maintainer *usecase.Maintainer
}

// New connects the backing services and assembles the pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.LogLevel)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	contentStore := storage.NewContentStore(db)
	snapshotStore := storage.NewSnapshotStore(db)
	creatorStore := storage.NewCreatorStore(db)

	orchestrator := queue.NewOrchestrator(rdb, cfg.Redis.Prefix, baseLogger)
	provider := scrape.New(cfg.Provider.BaseURL, cfg.Provider.Token, baseLogger)
	limiter := ratelimit.New(rdb, cfg.Redis.Prefix, cfg.Provider.RateLimit,
		time.Duration(cfg.Provider.RateWindowSec)*time.Second)
	judge := relevancy.NewJudge(cfg.Judge.Endpoint, cfg.Judge.APIKey, baseLogger)
	fetcher := feed.NewFetcher(nil, baseLogger)

	feedIngest := usecase.NewFeedIngest(fetcher, contentStore,
		cfg.Feeds.MaxItems, time.Duration(cfg.Feeds.TimeoutSec)*time.Second, baseLogger)
	poller := usecase.NewSnapshotPoller(provider, snapshotStore, contentStore, baseLogger)

	refresher := usecase.NewRefresher(creatorStore, snapshotStore, orchestrator, provider, limiter,
		usecase.RefreshConfig{
			MaxResults: cfg.Provider.MaxResults,
			FeedPolicy: ports.JobPolicy{
				MaxAttempts: cfg.Queues.FeedMaxAttempts,
				Backoff:     time.Duration(cfg.Queues.FeedBackoffMS) * time.Millisecond,
			},
			SnapshotPolicy: ports.JobPolicy{
				MaxAttempts: cfg.Provider.PollMaxAttempts,
				Backoff:     time.Duration(cfg.Provider.PollBackoffMS) * time.Millisecond,
			},
		}, baseLogger)

	scorer := usecase.NewRelevancyProcessor(contentStore, judge,
		time.Duration(cfg.Judge.WindowHours)*time.Hour, cfg.Judge.BatchSize, baseLogger)

	maintainer := usecase.NewMaintainer(orchestrator, snapshotStore,
		time.Duration(cfg.Queues.RetentionHours)*time.Hour, baseLogger)

	sched, err := scheduler.New(cfg.Scheduler.Timezone, baseLogger)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	if err := sched.Add(cfg.Scheduler.RefreshCron, "refresh", refresher.Run); err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}
	if err := sched.Add(cfg.Scheduler.RelevancyCron, "relevancy", func(ctx context.Context) {
		if _, err := scorer.ProcessBatch(ctx); err != nil {
			baseLogger.Error("relevancy batch", "error", err)
		}
	}); err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}
	if err := sched.Add(cfg.Scheduler.CleanupCron, "cleanup", func(ctx context.Context) {
		if _, err := maintainer.Cleanup(ctx); err != nil {
			baseLogger.Error("queue cleanup", "error", err)
		}
	}); err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	return &Application{
		cfg:        cfg,
		log:        baseLogger,
		db:         db,
		redis:      rdb,
		queue:      orchestrator,
		scheduler:  sched,
		feedIngest: feedIngest,
		poller:     poller,
		maintainer: maintainer,
	}, nil
}

// Run starts the workers and the scheduler, then blocks until ctx is
// cancelled and everything has drained.
func (a *Application) Run(ctx context.Context) error {
	a.queue.Process(ctx, usecase.QueueFeeds, a.cfg.Queues.FeedConcurrency, a.feedIngest.Handle)
	a.queue.Process(ctx, usecase.QueueSnapshots, a.cfg.Queues.SnapshotConcurrency, a.poller.Handle)

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.log.Info("pipeline started",
		"feed_workers", a.cfg.Queues.FeedConcurrency,
		"snapshot_workers", a.cfg.Queues.SnapshotConcurrency)

	<-ctx.Done()
	return a.shutdown()
}

// Halt is the operator emergency stop: queues are wiped and in-flight
// snapshots are failed before the process keeps running without new work.
func (a *Application) Halt(ctx context.Context, reason string) (usecase.HaltReport, error) {
	return a.maintainer.Halt(ctx, reason)
}

func (a *Application) shutdown() error {
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.log.Warn("scheduler stop", "error", err)
	}

	a.queue.Wait()

	if err := a.redis.Close(); err != nil {
		a.log.Warn("close redis", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close postgres", "error", err)
	}

	a.log.Info("pipeline stopped")
	return nil
}
