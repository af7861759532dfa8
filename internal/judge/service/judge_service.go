package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arbiter/internal/judge/model"
	"arbiter/internal/judge/repository"
	"arbiter/internal/judge/runner"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

// DispatchConfig bounds how batches are fanned out to the runner.
type DispatchConfig struct {
	ChunkSize   int `yaml:"chunkSize"`
	Concurrency int `yaml:"concurrency"`
}

// RunnerDispatcher is the slice of the runner client the judge service needs.
type RunnerDispatcher interface {
	SubmitBatch(ctx context.Context, requests []runner.Request) ([]string, error)
}

// JudgeService dispatches a submission to the runner and opens its tracking
// session. Everything after dispatch is callback-driven.
type JudgeService struct {
	builder  *PayloadBuilder
	tracking *repository.TrackingRepository
	runner   RunnerDispatcher
	cfg      DispatchConfig
}

// NewJudgeService creates a judge service.
func NewJudgeService(builder *PayloadBuilder, tracking *repository.TrackingRepository, dispatcher RunnerDispatcher, cfg DispatchConfig) *JudgeService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &JudgeService{builder: builder, tracking: tracking, runner: dispatcher, cfg: cfg}
}

// JudgeParams is everything needed to dispatch one submission. TestCases, when
// set, is used directly instead of the problem's stored archive; run mode
// passes the caller's cases this way.
type JudgeParams struct {
	SubmissionID  string
	Mode          model.Mode
	UserID        int64
	ProblemID     int64
	Language      string
	LanguageID    int
	SourceCode    string
	TimeLimitMs   int64
	MemoryLimitKB int64
	TestcaseKey   string
	TestCases     []model.TestCase
}

// StartJudge loads test cases, opens the tracking session, and fires the
// runner batch. Errors here surface synchronously to the submitter; once this
// returns nil the pipeline continues via callbacks.
func (s *JudgeService) StartJudge(ctx context.Context, params JudgeParams) (int, error) {
	cases := params.TestCases
	if len(cases) == 0 {
		var err error
		cases, err = s.builder.LoadTestCases(ctx, params.TestcaseKey)
		if err != nil {
			return 0, err
		}
	}
	requests, err := s.builder.BuildBatch(BatchParams{
		SubmissionID:  params.SubmissionID,
		Mode:          params.Mode,
		LanguageID:    params.LanguageID,
		SourceCode:    params.SourceCode,
		TimeLimitMs:   params.TimeLimitMs,
		MemoryLimitKB: params.MemoryLimitKB,
	}, cases)
	if err != nil {
		return 0, err
	}

	// The session must exist before the first callback can arrive.
	meta := model.TrackingMeta{
		Total:         len(cases),
		Mode:          params.Mode,
		UserID:        params.UserID,
		ProblemID:     params.ProblemID,
		Language:      params.Language,
		TimeLimitMs:   params.TimeLimitMs,
		MemoryLimitKB: params.MemoryLimitKB,
	}
	if err := s.tracking.CreateSession(ctx, params.SubmissionID, meta); err != nil {
		return 0, err
	}

	if err := s.dispatch(ctx, requests); err != nil {
		if delErr := s.tracking.DeleteSession(context.WithoutCancel(ctx), params.SubmissionID); delErr != nil {
			logger.Error(ctx, "cleanup tracking session failed",
				zap.String("submission_id", params.SubmissionID),
				zap.Error(delErr))
		}
		return 0, err
	}
	logger.Info(ctx, "submission dispatched",
		zap.String("submission_id", params.SubmissionID),
		zap.String("mode", string(params.Mode)),
		zap.Int("test_cases", len(cases)))
	return len(cases), nil
}

func (s *JudgeService) dispatch(ctx context.Context, requests []runner.Request) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(requests); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(requests) {
			end = len(requests)
		}
		chunk := requests[start:end]
		group.Go(func() error {
			tokens, err := s.runner.SubmitBatch(groupCtx, chunk)
			if err != nil {
				return err
			}
			if len(tokens) != len(chunk) {
				return appErr.Newf(appErr.RunnerRejected, "chunk returned %d tokens for %d requests", len(tokens), len(chunk))
			}
			return nil
		})
	}
	return group.Wait()
}
