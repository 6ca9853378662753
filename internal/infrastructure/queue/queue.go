package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/ports"
)

const (
	// promoteInterval bounds how stale a delayed job can get before it is
	// moved to the waiting list.
	promoteInterval = 250 * time.Millisecond
	popTimeout      = time.Second
)

// Counts is a point-in-time census of one queue.
type Counts struct {
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Orchestrator is a Redis-backed job queue with per-key deduplication,
// delayed retry and retained completed/failed history. One instance serves
// any number of named queues under a shared key prefix.
type Orchestrator struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
	wg     sync.WaitGroup
}

var _ ports.Queue = (*Orchestrator)(nil)

func NewOrchestrator(rdb *redis.Client, prefix string, log *slog.Logger) *Orchestrator {
	if prefix == "" {
		prefix = "cp"
	}
	return &Orchestrator{
		rdb:    rdb,
		prefix: prefix,
		log:    log.With("component", "queue"),
	}
}

func (o *Orchestrator) waitingKey(queue string) string { return o.prefix + ":" + queue + ":waiting" }
func (o *Orchestrator) delayedKey(queue string) string { return o.prefix + ":" + queue + ":delayed" }
func (o *Orchestrator) activeKey(queue string) string  { return o.prefix + ":" + queue + ":active" }
func (o *Orchestrator) completedKey(queue string) string {
	return o.prefix + ":" + queue + ":completed"
}
func (o *Orchestrator) failedKey(queue string) string { return o.prefix + ":" + queue + ":failed" }
func (o *Orchestrator) jobKey(queue, id string) string {
	return o.prefix + ":" + queue + ":job:" + id
}
func (o *Orchestrator) dedupKey(queue, key string) string {
	return o.prefix + ":" + queue + ":dedup:" + key
}

// Enqueue adds a job unless an equivalent one is already waiting, delayed or
// active. Equivalence is decided by jobKey alone; the returned handle says
// whether the job was deduplicated away.
func (o *Orchestrator) Enqueue(ctx context.Context, queue, jobKey string, payload []byte, policy ports.JobPolicy) (ports.JobHandle, error) {
	if jobKey == "" {
		return ports.JobHandle{}, fmt.Errorf("%w: empty job key", domain.ErrConstraintViolation)
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	id := uuid.NewString()
	set, err := o.rdb.SetNX(ctx, o.dedupKey(queue, jobKey), id, dedupTTL(policy)).Result()
	if err != nil {
		return ports.JobHandle{}, fmt.Errorf("reserve job key: %w", err)
	}
	if !set {
		existing, err := o.rdb.Get(ctx, o.dedupKey(queue, jobKey)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return ports.JobHandle{}, fmt.Errorf("read reserved job key: %w", err)
		}
		return ports.JobHandle{ID: existing, Deduplicated: true}, nil
	}

	fields := map[string]any{
		"key":          jobKey,
		"payload":      string(payload),
		"attempts":     0,
		"max_attempts": policy.MaxAttempts,
		"backoff_ms":   policy.Backoff.Milliseconds(),
		"enqueued_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}

	pipe := o.rdb.TxPipeline()
	pipe.HSet(ctx, o.jobKey(queue, id), fields)
	pipe.RPush(ctx, o.waitingKey(queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return ports.JobHandle{}, fmt.Errorf("enqueue job: %w", err)
	}

	o.log.Debug("job enqueued", "queue", queue, "job_id", id, "job_key", jobKey)
	return ports.JobHandle{ID: id}, nil
}

// dedupTTL bounds how long a job key stays reserved. Settling frees the key
// early; the expiry covers a worker that dies between pop and settle, so a
// crashed delivery can never suppress re-enqueues of the same key forever.
func dedupTTL(policy ports.JobPolicy) time.Duration {
	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	// Upper bound on the whole retry schedule, plus runtime headroom for
	// each delivery.
	return backoff<<uint(policy.MaxAttempts) + time.Duration(policy.MaxAttempts)*time.Minute
}

// IsQueued reports whether a job with this key is waiting, delayed or active.
func (o *Orchestrator) IsQueued(ctx context.Context, queue, jobKey string) (bool, error) {
	n, err := o.rdb.Exists(ctx, o.dedupKey(queue, jobKey)).Result()
	if err != nil {
		return false, fmt.Errorf("check job key: %w", err)
	}
	return n > 0, nil
}

// Process starts concurrency workers plus one delayed-job promoter for the
// queue. Workers run until ctx is cancelled; Wait blocks until they drain.
func (o *Orchestrator) Process(ctx context.Context, queue string, concurrency int, handler ports.JobHandler) {
	if concurrency <= 0 {
		concurrency = 1
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.promoteLoop(ctx, queue)
	}()

	for i := 0; i < concurrency; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.workLoop(ctx, queue, handler)
		}()
	}
}

// Wait blocks until every worker started by Process has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) promoteLoop(ctx context.Context, queue string) {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.promoteDue(ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
				o.log.Error("promote delayed jobs", "queue", queue, "error", err)
			}
		}
	}
}

// promoteDue moves delayed jobs whose backoff has elapsed onto the waiting
// list.
func (o *Orchestrator) promoteDue(ctx context.Context, queue string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := o.rdb.ZRangeByScore(ctx, o.delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := o.rdb.ZRem(ctx, o.delayedKey(queue), id).Result()
		if err != nil {
			return err
		}
		// Another promoter already claimed it.
		if removed == 0 {
			continue
		}
		if err := o.rdb.RPush(ctx, o.waitingKey(queue), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) workLoop(ctx context.Context, queue string, handler ports.JobHandler) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := o.rdb.BLPop(ctx, popTimeout, o.waitingKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Error("pop job", "queue", queue, "error", err)
			time.Sleep(popTimeout)
			continue
		}

		id := res[1]
		job, err := o.loadJob(ctx, queue, id)
		if err != nil {
			o.log.Error("load job", "queue", queue, "job_id", id, "error", err)
			continue
		}

		o.run(ctx, job, handler)
	}
}

func (o *Orchestrator) loadJob(ctx context.Context, queue, id string) (*ports.Job, error) {
	fields, err := o.rdb.HGetAll(ctx, o.jobKey(queue, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])
	return &ports.Job{
		ID:          id,
		Queue:       queue,
		Key:         fields["key"],
		Payload:     []byte(fields["payload"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}, nil
}

// run delivers one job and settles its outcome. A transient upstream error
// re-enqueues with exponential backoff until attempts are exhausted; any
// other error fails the job immediately.
func (o *Orchestrator) run(ctx context.Context, job *ports.Job, handler ports.JobHandler) {
	o.rdb.SAdd(ctx, o.activeKey(job.Queue), job.ID)
	defer o.rdb.SRem(ctx, o.activeKey(job.Queue), job.ID)

	err := handler(ctx, job)
	if err == nil {
		o.settle(ctx, job, o.completedKey(job.Queue), "")
		return
	}

	if domain.IsTransientUpstream(err) && !job.LastAttempt() {
		if rerr := o.requeue(ctx, job); rerr != nil {
			o.log.Error("requeue job", "queue", job.Queue, "job_id", job.ID, "error", rerr)
			o.settle(ctx, job, o.failedKey(job.Queue), err.Error())
		}
		return
	}

	o.log.Warn("job failed",
		"queue", job.Queue, "job_id", job.ID, "job_key", job.Key,
		"attempts", job.Attempts+1, "error", err)
	o.settle(ctx, job, o.failedKey(job.Queue), err.Error())
}

// requeue schedules the next delivery after backoff * 2^attempts.
func (o *Orchestrator) requeue(ctx context.Context, job *ports.Job) error {
	fields, err := o.rdb.HGetAll(ctx, o.jobKey(job.Queue, job.ID)).Result()
	if err != nil {
		return err
	}
	backoffMS, _ := strconv.ParseInt(fields["backoff_ms"], 10, 64)
	if backoffMS <= 0 {
		backoffMS = time.Second.Milliseconds()
	}

	next := job.Attempts + 1
	delay := time.Duration(backoffMS) * time.Millisecond << uint(job.Attempts)
	readyAt := time.Now().Add(delay)

	pipe := o.rdb.TxPipeline()
	pipe.HSet(ctx, o.jobKey(job.Queue, job.ID), "attempts", next)
	pipe.ZAdd(ctx, o.delayedKey(job.Queue), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	o.log.Debug("job requeued",
		"queue", job.Queue, "job_id", job.ID, "attempt", next, "delay", delay)
	return nil
}

// settle records a finished job in the completed or failed set, stamps the
// job hash and frees the dedup key so an equivalent job may be enqueued
// again.
func (o *Orchestrator) settle(ctx context.Context, job *ports.Job, setKey, errText string) {
	fields := map[string]any{"finished_at": time.Now().UTC().Format(time.RFC3339Nano)}
	if errText != "" {
		fields["error"] = errText
	}

	pipe := o.rdb.TxPipeline()
	pipe.HSet(ctx, o.jobKey(job.Queue, job.ID), fields)
	pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID})
	if job.Key != "" {
		pipe.Del(ctx, o.dedupKey(job.Queue, job.Key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		o.log.Error("settle job", "queue", job.Queue, "job_id", job.ID, "error", err)
	}
}

// Cleanup drops finished jobs older than the cutoff from the named states
// ("completed", "failed") and returns how many each state lost.
func (o *Orchestrator) Cleanup(ctx context.Context, queue string, olderThan time.Duration, states []string) (map[string]int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-olderThan).UnixMilli(), 10)
	out := make(map[string]int, len(states))

	for _, state := range states {
		var setKey string
		switch state {
		case "completed":
			setKey = o.completedKey(queue)
		case "failed":
			setKey = o.failedKey(queue)
		default:
			return nil, fmt.Errorf("%w: cleanup state %q", domain.ErrConstraintViolation, state)
		}

		ids, err := o.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", state, err)
		}

		for _, id := range ids {
			pipe := o.rdb.TxPipeline()
			pipe.Del(ctx, o.jobKey(queue, id))
			pipe.ZRem(ctx, setKey, id)
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, fmt.Errorf("drop %s job %s: %w", state, id, err)
			}
		}
		out[state] = len(ids)
	}
	return out, nil
}

// Obliterate removes every key of the queue, including jobs currently
// waiting or delayed, and reports how many jobs each state held at the
// moment of destruction. Used only by the emergency stop.
func (o *Orchestrator) Obliterate(ctx context.Context, queue string) (map[string]int, error) {
	stats, err := o.Stats(ctx, queue)
	if err != nil {
		return nil, err
	}

	pattern := o.prefix + ":" + queue + ":*"
	iter := o.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := o.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return nil, fmt.Errorf("delete %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan queue keys: %w", err)
	}

	destroyed := map[string]int{
		"waiting":   int(stats.Waiting),
		"active":    int(stats.Active),
		"delayed":   int(stats.Delayed),
		"completed": int(stats.Completed),
		"failed":    int(stats.Failed),
	}
	o.log.Warn("queue obliterated",
		"queue", queue,
		"waiting", stats.Waiting, "active", stats.Active, "delayed", stats.Delayed,
		"completed", stats.Completed, "failed", stats.Failed)
	return destroyed, nil
}

// Stats returns a census of the queue's states.
func (o *Orchestrator) Stats(ctx context.Context, queue string) (Counts, error) {
	pipe := o.rdb.Pipeline()
	waiting := pipe.LLen(ctx, o.waitingKey(queue))
	active := pipe.SCard(ctx, o.activeKey(queue))
	delayed := pipe.ZCard(ctx, o.delayedKey(queue))
	completed := pipe.ZCard(ctx, o.completedKey(queue))
	failed := pipe.ZCard(ctx, o.failedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue stats: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
