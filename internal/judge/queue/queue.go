// Package queue implements the durable finalize-job queue on the shared
// cache: a ready list, a delayed retry set, and a dead hash, with
// deduplication by deterministic job id.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

// enqueueScript inserts a job only if its id is not already pending.
// KEYS[1] ids set, KEYS[2] jobs hash, KEYS[3] ready list.
// ARGV[1] job id, ARGV[2] payload. Returns 1 if enqueued, 0 if duplicate.
const enqueueScript = `
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`

// promoteScript moves due delayed jobs back to the ready list.
// KEYS[1] delayed zset, KEYS[2] ready list. ARGV[1] now millis.
const promoteScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #due
`

// Config holds retry policy for the finalize queue.
type Config struct {
	KeyPrefix   string        `yaml:"keyPrefix"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	BackoffMax  time.Duration `yaml:"backoffMax"`
}

// FinalizeQueue is the job queue consumed by the finalize worker.
type FinalizeQueue struct {
	cache cache.Cache
	cfg   Config
}

type deadRecord struct {
	Job      model.FinalizeJob `json:"job"`
	Error    string            `json:"error"`
	FailedAt int64             `json:"failed_at"`
}

// NewFinalizeQueue creates a finalize queue with the given retry policy.
func NewFinalizeQueue(cacheClient cache.Cache, cfg Config) *FinalizeQueue {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "judge:finalize"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	return &FinalizeQueue{cache: cacheClient, cfg: cfg}
}

func (q *FinalizeQueue) idsKey() string     { return q.cfg.KeyPrefix + ":ids" }
func (q *FinalizeQueue) jobsKey() string    { return q.cfg.KeyPrefix + ":jobs" }
func (q *FinalizeQueue) readyKey() string   { return q.cfg.KeyPrefix + ":ready" }
func (q *FinalizeQueue) delayedKey() string { return q.cfg.KeyPrefix + ":delayed" }
func (q *FinalizeQueue) deadKey() string    { return q.cfg.KeyPrefix + ":dead" }

// Enqueue adds a job unless one with the same id is already pending.
// Returns true if the job was actually enqueued.
func (q *FinalizeQueue) Enqueue(ctx context.Context, job model.FinalizeJob) (bool, error) {
	if job.SubmissionID == "" {
		return false, appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.InvalidParams, "encode job failed")
	}
	raw, err := q.cache.Eval(ctx, enqueueScript,
		[]string{q.idsKey(), q.jobsKey(), q.readyKey()},
		job.JobID(), string(payload))
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "enqueue finalize job failed")
	}
	n, _ := raw.(int64)
	return n == 1, nil
}

// Dequeue promotes due retries and pops one ready job.
// Returns ok=false when the queue is empty.
func (q *FinalizeQueue) Dequeue(ctx context.Context) (model.FinalizeJob, bool, error) {
	var job model.FinalizeJob
	_, err := q.cache.Eval(ctx, promoteScript,
		[]string{q.delayedKey(), q.readyKey()},
		time.Now().UnixMilli())
	if err != nil {
		return job, false, appErr.Wrapf(err, appErr.CacheError, "promote delayed jobs failed")
	}

	jobID, err := q.cache.RPop(ctx, q.readyKey())
	if err != nil {
		return job, false, appErr.Wrapf(err, appErr.CacheError, "pop finalize job failed")
	}
	if jobID == "" {
		return job, false, nil
	}
	payload, err := q.cache.HGet(ctx, q.jobsKey(), jobID)
	if err != nil {
		return job, false, appErr.Wrapf(err, appErr.CacheError, "load finalize job failed")
	}
	if payload == "" {
		// Job body vanished (acked concurrently); treat as empty queue slot.
		return job, false, nil
	}
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return job, false, appErr.Wrapf(err, appErr.CacheError, "decode finalize job failed")
	}
	return job, true, nil
}

// Ack removes a completed job so its id can be reused.
func (q *FinalizeQueue) Ack(ctx context.Context, job model.FinalizeJob) error {
	if err := q.cache.HDel(ctx, q.jobsKey(), job.JobID()); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "ack finalize job failed")
	}
	if err := q.cache.SRem(ctx, q.idsKey(), job.JobID()); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "ack finalize job failed")
	}
	return nil
}

// Retry reschedules a failed job with exponential backoff, moving it to the
// dead hash once attempts are exhausted. Returns true if the job will run
// again.
func (q *FinalizeQueue) Retry(ctx context.Context, job model.FinalizeJob, cause error) (bool, error) {
	job.Attempt++
	if job.Attempt >= q.cfg.MaxAttempts {
		return false, q.bury(ctx, job, cause)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.InvalidParams, "encode job failed")
	}
	if err := q.cache.HSet(ctx, q.jobsKey(), job.JobID(), string(payload)); err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "store retried job failed")
	}
	readyAt := time.Now().Add(q.backoff(job.Attempt)).UnixMilli()
	_, err = q.cache.Eval(ctx, `redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2]) return 1`,
		[]string{q.delayedKey()}, readyAt, job.JobID())
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "delay retried job failed")
	}
	return true, nil
}

// Bury moves a job straight to the dead hash, bypassing remaining retries.
// Used when the worker knows the job can never succeed (its inputs are gone)
// but the outcome still needs operator attention.
func (q *FinalizeQueue) Bury(ctx context.Context, job model.FinalizeJob, cause error) error {
	return q.bury(ctx, job, cause)
}

func (q *FinalizeQueue) bury(ctx context.Context, job model.FinalizeJob, cause error) error {
	record := deadRecord{Job: job, FailedAt: time.Now().Unix()}
	if cause != nil {
		record.Error = cause.Error()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "encode dead record failed")
	}
	if err := q.cache.HSet(ctx, q.deadKey(), job.JobID(), string(payload)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "bury finalize job failed")
	}
	if err := q.cache.HDel(ctx, q.jobsKey(), job.JobID()); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "bury finalize job failed")
	}
	// Freeing the id lets an operator re-enqueue after inspecting the
	// dead record.
	if err := q.cache.SRem(ctx, q.idsKey(), job.JobID()); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "bury finalize job failed")
	}
	return nil
}

// DeadLetters returns buried jobs for operator inspection.
func (q *FinalizeQueue) DeadLetters(ctx context.Context) (map[string]string, error) {
	dead, err := q.cache.HGetAll(ctx, q.deadKey())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list dead jobs failed")
	}
	return dead, nil
}

func (q *FinalizeQueue) backoff(attempt int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.BackoffMax {
			return q.cfg.BackoffMax
		}
	}
	if delay > q.cfg.BackoffMax {
		return q.cfg.BackoffMax
	}
	return delay
}
