package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
	"arbiter/internal/judge/queue"
	"arbiter/pkg/utils/logger"
)

const finalizeLockPrefix = "judge:finalize:lock:"

// SchedulerConfig controls the finalize scheduling guard.
type SchedulerConfig struct {
	LockTTL time.Duration `yaml:"lockTTL"`
}

// FinalizeScheduler guards the completion-to-finalize transition with two
// layers: a short-lived advisory lock, and the queue's dedup by deterministic
// job id. Either alone closes the common races; together they make a double
// finalize require both the lock to expire and the queue id to be freed.
//
// Known residual risk: if the lock TTL elapses while the job still sits in the
// queue unprocessed, a late duplicate completion signal can re-acquire the
// lock. The queue dedup absorbs that case; the database judged_at guard is the
// final backstop if it ever does not.
type FinalizeScheduler struct {
	cache   cache.Cache
	queue   *queue.FinalizeQueue
	lockTTL time.Duration
}

// NewFinalizeScheduler creates a finalize scheduler.
func NewFinalizeScheduler(cacheClient cache.Cache, q *queue.FinalizeQueue, cfg SchedulerConfig) *FinalizeScheduler {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &FinalizeScheduler{cache: cacheClient, queue: q, lockTTL: ttl}
}

// Schedule enqueues exactly one finalize job for a completed submission.
// Losing the lock race is not an error; some other instance owns the enqueue.
func (s *FinalizeScheduler) Schedule(ctx context.Context, submissionID string, mode model.Mode) error {
	acquired, err := s.cache.TryLock(ctx, finalizeLockPrefix+submissionID, s.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Debug(ctx, "finalize already scheduled elsewhere",
			zap.String("submission_id", submissionID))
		return nil
	}

	job := model.FinalizeJob{
		SubmissionID: submissionID,
		IsSubmit:     mode == model.ModeSubmit,
	}
	enqueued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		// Free the lock so a later completion signal can retry the enqueue.
		if unlockErr := s.cache.Unlock(ctx, finalizeLockPrefix+submissionID); unlockErr != nil {
			logger.Warn(ctx, "release finalize lock failed",
				zap.String("submission_id", submissionID),
				zap.Error(unlockErr))
		}
		return err
	}
	if !enqueued {
		logger.Debug(ctx, "finalize job already queued",
			zap.String("submission_id", submissionID))
	}
	return nil
}

// ReleaseLock frees the scheduling lock once finalize has completed.
func (s *FinalizeScheduler) ReleaseLock(ctx context.Context, submissionID string) error {
	return s.cache.Unlock(ctx, finalizeLockPrefix+submissionID)
}
