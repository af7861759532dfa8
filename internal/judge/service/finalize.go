package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
	"arbiter/internal/judge/queue"
	"arbiter/internal/judge/repository"
	"arbiter/internal/judge/runner"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

const verdictChannelPrefix = "judge:verdict:"

// VerdictStore persists a final verdict exactly once.
type VerdictStore interface {
	// FinalizeVerdict writes the verdict. Returns an AlreadyJudged error if
	// another finalize run got there first.
	FinalizeVerdict(ctx context.Context, verdict model.Verdict) error
	// IsJudged reports whether a verdict has already been persisted.
	IsJudged(ctx context.Context, submissionID string) (bool, error)
}

// SolveChecker reports whether a user already solved a problem.
type SolveChecker interface {
	IsSolved(ctx context.Context, userID, problemID int64) (bool, error)
}

// DetailFetcher retrieves enriched diagnostics for one runner token.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, token string) (*runner.Detail, error)
}

// WorkerConfig controls the finalize worker loop.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
}

// FinalizeWorker consumes finalize jobs: it collapses a completed tracking
// session into a verdict, persists it, emits domain events, and broadcasts
// the result to live subscribers.
type FinalizeWorker struct {
	queue     *queue.FinalizeQueue
	tracking  *repository.TrackingRepository
	scheduler *FinalizeScheduler
	details   DetailFetcher
	store     VerdictStore
	events    EventPublisher
	solves    SolveChecker
	cache     cache.Cache
	poll      time.Duration
	now       func() time.Time
}

// NewFinalizeWorker creates a finalize worker.
func NewFinalizeWorker(
	q *queue.FinalizeQueue,
	tracking *repository.TrackingRepository,
	scheduler *FinalizeScheduler,
	details DetailFetcher,
	store VerdictStore,
	events EventPublisher,
	solves SolveChecker,
	cacheClient cache.Cache,
	cfg WorkerConfig,
) *FinalizeWorker {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &FinalizeWorker{
		queue:     q,
		tracking:  tracking,
		scheduler: scheduler,
		details:   details,
		store:     store,
		events:    events,
		solves:    solves,
		cache:     cacheClient,
		poll:      poll,
		now:       time.Now,
	}
}

// Run polls the queue until the context is cancelled.
func (w *FinalizeWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			job, ok, err := w.queue.Dequeue(ctx)
			if err != nil {
				logger.Error(ctx, "dequeue finalize job failed", zap.Error(err))
				break
			}
			if !ok {
				break
			}
			w.handle(ctx, job)
		}
	}
}

func (w *FinalizeWorker) handle(ctx context.Context, job model.FinalizeJob) {
	err := w.Process(ctx, job)
	if err == nil {
		return
	}
	logger.Error(ctx, "finalize failed",
		zap.String("submission_id", job.SubmissionID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err))
	cause := appErr.Wrapf(err, appErr.FinalizeRetryable, "finalize %s failed: %v", job.SubmissionID, err)
	retried, retryErr := w.queue.Retry(ctx, job, cause)
	if retryErr != nil {
		logger.Error(ctx, "retry finalize job failed",
			zap.String("submission_id", job.SubmissionID),
			zap.Error(retryErr))
		return
	}
	if !retried {
		logger.Error(ctx, "finalize job moved to dead letters",
			zap.String("submission_id", job.SubmissionID))
	}
}

// Process finalizes one submission. Any returned error is retryable; terminal
// conditions (expired session, already judged) are absorbed here.
func (w *FinalizeWorker) Process(ctx context.Context, job model.FinalizeJob) error {
	session, err := w.tracking.LoadSession(ctx, job.SubmissionID)
	if err != nil {
		if appErr.GetCode(err) == appErr.TrackingExpired {
			return w.recoverLostSession(ctx, job)
		}
		return err
	}

	// Deleting the session up front makes a concurrent or retried run see
	// TrackingExpired instead of computing a second verdict.
	if err := w.tracking.DeleteSession(ctx, job.SubmissionID); err != nil {
		return err
	}

	verdict := CalculateVerdict(job.SubmissionID, session, w.now())
	w.enrichFailure(ctx, &verdict, session)

	if job.IsSubmit {
		if err := w.store.FinalizeVerdict(ctx, verdict); err != nil {
			if appErr.GetCode(err) == appErr.AlreadyJudged {
				logger.Warn(ctx, "verdict already persisted, skipping events",
					zap.String("submission_id", job.SubmissionID))
				return w.finish(ctx, job)
			}
			return err
		}
		w.emitEvents(ctx, session.Meta, verdict)
	}

	w.broadcast(ctx, verdict)
	logger.Info(ctx, "submission finalized",
		zap.String("submission_id", job.SubmissionID),
		zap.String("status", string(verdict.Status)),
		zap.Int("score", verdict.Score))
	return w.finish(ctx, job)
}

// recoverLostSession decides what to do with a job whose tracking session is
// gone. If the verdict already landed, this is the duplicate-schedule path and
// the job is acked. If a submit verdict was never persisted, an earlier
// attempt deleted the session and then failed; the per-test results are
// unrecoverable, so the job is buried for operator inspection instead of
// being acked as done.
func (w *FinalizeWorker) recoverLostSession(ctx context.Context, job model.FinalizeJob) error {
	if job.IsSubmit {
		judged, err := w.store.IsJudged(ctx, job.SubmissionID)
		if err != nil {
			if appErr.GetCode(err) == appErr.SubmissionNotFound {
				// Row backed out after a failed dispatch; nothing to recover.
				return w.finish(ctx, job)
			}
			return err
		}
		if !judged {
			logger.Error(ctx, "tracking session lost before verdict persisted, burying job",
				zap.String("submission_id", job.SubmissionID))
			cause := appErr.Newf(appErr.TrackingExpired, "tracking session lost before verdict persisted")
			if err := w.queue.Bury(ctx, job, cause); err != nil {
				return err
			}
			// Ack is a no-op after bury; it just releases the lock.
			return w.finish(ctx, job)
		}
	}
	logger.Warn(ctx, "tracking session gone, dropping finalize job",
		zap.String("submission_id", job.SubmissionID))
	return w.finish(ctx, job)
}

func (w *FinalizeWorker) finish(ctx context.Context, job model.FinalizeJob) error {
	if err := w.queue.Ack(ctx, job); err != nil {
		return err
	}
	if err := w.scheduler.ReleaseLock(ctx, job.SubmissionID); err != nil {
		logger.Warn(ctx, "release finalize lock failed",
			zap.String("submission_id", job.SubmissionID),
			zap.Error(err))
	}
	return nil
}

// enrichFailure fetches full diagnostics for the first failing test of a
// wrong-answer verdict. Best effort: the verdict stands without it.
func (w *FinalizeWorker) enrichFailure(ctx context.Context, verdict *model.Verdict, session *repository.Session) {
	if verdict.Failure == nil || verdict.Status != model.StatusWrongAnswer {
		return
	}
	stored, ok := session.Results[verdict.Failure.Index]
	if !ok || stored.Token == "" {
		return
	}
	detail, err := w.details.FetchDetail(ctx, stored.Token)
	if err != nil || detail == nil {
		logger.Warn(ctx, "fetch failure detail failed",
			zap.String("submission_id", verdict.SubmissionID),
			zap.Int("index", verdict.Failure.Index),
			zap.Error(err))
		return
	}
	verdict.Failure.Stdin = detail.Stdin
	verdict.Failure.ExpectedOutput = detail.ExpectedOutput
	verdict.Failure.ActualOutput = detail.Stdout
	if detail.Stderr != "" {
		verdict.Failure.Stderr = detail.Stderr
	}
}

// emitEvents publishes the post-verdict domain events. Event delivery is
// best effort; the verdict is already durable and a redelivery would double
// count statistics.
func (w *FinalizeWorker) emitEvents(ctx context.Context, meta model.TrackingMeta, verdict model.Verdict) {
	base := model.JudgeEvent{
		SubmissionID: verdict.SubmissionID,
		UserID:       meta.UserID,
		ProblemID:    meta.ProblemID,
		Language:     meta.Language,
		Status:       verdict.Status,
		Score:        verdict.Score,
		CreatedAt:    w.now().Unix(),
	}

	judged := base
	judged.Type = model.EventJudged
	w.publishEvent(ctx, judged)

	if verdict.Status != model.StatusAccepted {
		return
	}
	accepted := base
	accepted.Type = model.EventAccepted
	w.publishEvent(ctx, accepted)

	solved, err := w.solves.IsSolved(ctx, meta.UserID, meta.ProblemID)
	if err != nil {
		logger.Warn(ctx, "first-solve check failed",
			zap.String("submission_id", verdict.SubmissionID),
			zap.Error(err))
		return
	}
	if !solved {
		first := base
		first.Type = model.EventFirstSolved
		w.publishEvent(ctx, first)
	}
}

func (w *FinalizeWorker) publishEvent(ctx context.Context, event model.JudgeEvent) {
	if err := w.events.Publish(ctx, event); err != nil {
		logger.Error(ctx, "publish judge event failed",
			zap.String("submission_id", event.SubmissionID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// broadcast pushes the verdict to the live result channel for stream
// subscribers. Best effort: a missed broadcast is recoverable via the status
// query endpoint.
func (w *FinalizeWorker) broadcast(ctx context.Context, verdict model.Verdict) {
	payload, err := json.Marshal(verdict)
	if err != nil {
		logger.Error(ctx, "encode verdict broadcast failed",
			zap.String("submission_id", verdict.SubmissionID),
			zap.Error(err))
		return
	}
	if err := w.cache.Publish(ctx, verdictChannelPrefix+verdict.SubmissionID, string(payload)); err != nil {
		logger.Warn(ctx, "broadcast verdict failed",
			zap.String("submission_id", verdict.SubmissionID),
			zap.Error(err))
	}
}
