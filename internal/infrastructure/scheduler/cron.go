package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"creatorpulse/internal/ports"
)

// CronScheduler runs the periodic pipeline triggers on cron expressions.
type CronScheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// New builds a scheduler in the given timezone. An empty timezone means the
// host's local time.
func New(timezone string, log *slog.Logger) (*CronScheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	return &CronScheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With("component", "scheduler"),
	}, nil
}

// Add registers a named job on a cron expression.
func (c *CronScheduler) Add(spec, name string, job func(context.Context)) error {
	_, err := c.cron.AddFunc(spec, func() {
		start := time.Now()
		c.log.Info("trigger started", "job", name)
		job(context.Background())
		c.log.Info("trigger finished", "job", name, "took", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s on %q: %w", name, spec, err)
	}
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) error {
	c.cron.Start()
	return nil
}

// Stop waits for running jobs to finish, bounded by ctx.
func (c *CronScheduler) Stop(ctx context.Context) error {
	done := c.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
