package service

import (
	"context"

	"go.uber.org/zap"

	"arbiter/internal/judge/model"
	"arbiter/internal/judge/repository"
	"arbiter/internal/judge/runner"
	"arbiter/pkg/utils/logger"
)

// CallbackProcessor ingests per-test-case runner callbacks into the tracking
// session and hands completed submissions to the finalize scheduler.
type CallbackProcessor struct {
	tracking  *repository.TrackingRepository
	scheduler *FinalizeScheduler
}

// NewCallbackProcessor creates a callback processor.
func NewCallbackProcessor(tracking *repository.TrackingRepository, scheduler *FinalizeScheduler) *CallbackProcessor {
	return &CallbackProcessor{tracking: tracking, scheduler: scheduler}
}

// Process records one callback. The runner treats any response as delivered
// and never retries, so cache failures are logged and dropped here rather than
// propagated; the tracking TTL bounds how long a hole can linger.
func (p *CallbackProcessor) Process(ctx context.Context, submissionID string, index int, mode model.Mode, payload runner.CallbackPayload) {
	result := repository.StoredResult{
		Token: payload.Token,
		Result: model.TestCaseResult{
			Index:         index,
			Status:        runner.StatusFromID(payload.Status.ID),
			TimeMs:        runner.TimeToMs(payload.Time),
			MemoryKB:      payload.Memory,
			Stderr:        runner.DecodeField(payload.Stderr),
			CompileOutput: runner.DecodeField(payload.CompileOutput),
		},
	}

	outcome, err := p.tracking.RecordResult(ctx, submissionID, index, payload.Token, result)
	if err != nil {
		logger.Error(ctx, "record callback failed",
			zap.String("submission_id", submissionID),
			zap.Int("index", index),
			zap.Error(err))
		return
	}
	if !outcome.Accepted {
		logger.Debug(ctx, "duplicate callback dropped",
			zap.String("submission_id", submissionID),
			zap.Int("index", index),
			zap.String("token", payload.Token))
		return
	}
	logger.Debug(ctx, "callback recorded",
		zap.String("submission_id", submissionID),
		zap.Int("index", index),
		zap.Int("received", outcome.Received),
		zap.Int("total", outcome.Total))

	if outcome.Completed() {
		if err := p.scheduler.Schedule(ctx, submissionID, mode); err != nil {
			logger.Error(ctx, "schedule finalize failed",
				zap.String("submission_id", submissionID),
				zap.Error(err))
		}
	}
}
