// Package service implements submission intake: validation, rate limiting,
// persistence, and handoff to the judging pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbiter/internal/common/cache"
	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/judge/runner"
	judgeservice "arbiter/internal/judge/service"
	"arbiter/internal/submit/model"
	"arbiter/internal/submit/repository"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

const rateKeyPrefix = "submit:rate:"

// Config bounds submission intake.
type Config struct {
	MaxSourceBytes  int           `yaml:"maxSourceBytes"`
	MaxRunTestCases int           `yaml:"maxRunTestCases"`
	MaxRunCaseBytes int           `yaml:"maxRunCaseBytes"`
	RateLimit       int           `yaml:"rateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow"`
}

// SubmitService validates and dispatches submissions.
type SubmitService struct {
	submissions *repository.SubmissionRepository
	problems    *repository.ProblemRepository
	judge       *judgeservice.JudgeService
	cache       cache.Cache
	cfg         Config
}

// NewSubmitService creates a submit service.
func NewSubmitService(
	submissions *repository.SubmissionRepository,
	problems *repository.ProblemRepository,
	judge *judgeservice.JudgeService,
	cacheClient cache.Cache,
	cfg Config,
) *SubmitService {
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 64 << 10
	}
	if cfg.MaxRunTestCases <= 0 {
		cfg.MaxRunTestCases = 10
	}
	if cfg.MaxRunCaseBytes <= 0 {
		cfg.MaxRunCaseBytes = 64 << 10
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &SubmitService{
		submissions: submissions,
		problems:    problems,
		judge:       judge,
		cache:       cacheClient,
		cfg:         cfg,
	}
}

// SubmitRequest is one incoming submission.
type SubmitRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	ProblemID  int64  `json:"problem_id" binding:"required"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmitResult acknowledges an accepted submission.
type SubmitResult struct {
	SubmissionID string `json:"submission_id"`
	TotalTests   int    `json:"total_tests"`
}

// Submit validates the request, persists a pending row, and dispatches the
// batch to the runner. Any error here reaches the caller synchronously; once
// this returns, results flow through the stream.
func (s *SubmitService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	languageID, err := s.validate(req.Language, req.SourceCode)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, req.UserID); err != nil {
		return nil, err
	}
	problem, err := s.problems.GetByID(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}

	submission := &model.Submission{
		SubmissionID: uuid.NewString(),
		UserID:       req.UserID,
		ProblemID:    req.ProblemID,
		Language:     strings.ToLower(strings.TrimSpace(req.Language)),
		SourceCode:   req.SourceCode,
		Status:       judgemodel.StatusPending,
		CreatedAt:    time.Now(),
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		return nil, err
	}

	total, err := s.judge.StartJudge(ctx, judgeservice.JudgeParams{
		SubmissionID:  submission.SubmissionID,
		Mode:          judgemodel.ModeSubmit,
		UserID:        req.UserID,
		ProblemID:     req.ProblemID,
		Language:      submission.Language,
		LanguageID:    languageID,
		SourceCode:    req.SourceCode,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB,
		TestcaseKey:   problem.TestcaseKey,
	})
	if err != nil {
		// The row never reached the runner; back it out so a retry is not
		// blocked by a dangling pending submission.
		if delErr := s.submissions.Delete(context.WithoutCancel(ctx), submission.SubmissionID); delErr != nil {
			logger.Error(ctx, "back out failed submission failed",
				zap.String("submission_id", submission.SubmissionID),
				zap.Error(delErr))
		}
		return nil, err
	}
	return &SubmitResult{SubmissionID: submission.SubmissionID, TotalTests: total}, nil
}

// RunTestCase is one caller-supplied test for run mode.
type RunTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// RunRequest is an ephemeral run against caller-supplied test cases.
type RunRequest struct {
	UserID     int64         `json:"user_id" binding:"required"`
	ProblemID  int64         `json:"problem_id" binding:"required"`
	Language   string        `json:"language" binding:"required"`
	SourceCode string        `json:"source_code" binding:"required"`
	TestCases  []RunTestCase `json:"test_cases" binding:"required"`
}

// Run dispatches an ephemeral run against the caller's own test cases: same
// pipeline, no persistence, no events, full per-test results on the stream.
// The problem is still consulted for its resource limits.
func (s *SubmitService) Run(ctx context.Context, req RunRequest) (*SubmitResult, error) {
	languageID, err := s.validate(req.Language, req.SourceCode)
	if err != nil {
		return nil, err
	}
	cases, err := s.validateRunCases(req.TestCases)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, req.UserID); err != nil {
		return nil, err
	}
	problem, err := s.problems.GetByID(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}

	submissionID := uuid.NewString()
	total, err := s.judge.StartJudge(ctx, judgeservice.JudgeParams{
		SubmissionID:  submissionID,
		Mode:          judgemodel.ModeRun,
		UserID:        req.UserID,
		ProblemID:     req.ProblemID,
		Language:      strings.ToLower(strings.TrimSpace(req.Language)),
		LanguageID:    languageID,
		SourceCode:    req.SourceCode,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB,
		TestCases:     cases,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{SubmissionID: submissionID, TotalTests: total}, nil
}

func (s *SubmitService) validateRunCases(supplied []RunTestCase) ([]judgemodel.TestCase, error) {
	if len(supplied) == 0 {
		return nil, appErr.ValidationError("test_cases", "required")
	}
	if len(supplied) > s.cfg.MaxRunTestCases {
		return nil, appErr.Newf(appErr.LimitExceeded, "run accepts at most %d test cases", s.cfg.MaxRunTestCases)
	}
	cases := make([]judgemodel.TestCase, len(supplied))
	for i, tc := range supplied {
		if len(tc.Input)+len(tc.ExpectedOutput) > s.cfg.MaxRunCaseBytes {
			return nil, appErr.Newf(appErr.LimitExceeded, "test case %d exceeds %d bytes", i, s.cfg.MaxRunCaseBytes)
		}
		cases[i] = judgemodel.TestCase{
			Index:          i,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		}
	}
	return cases, nil
}

// SubmissionView is the status-query shape, with the failure detail decoded.
type SubmissionView struct {
	model.Submission
	Failure *judgemodel.FailureDetail `json:"failure,omitempty"`
}

// Get loads a submission for the status query endpoint.
func (s *SubmitService) Get(ctx context.Context, submissionID string) (*SubmissionView, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	view := &SubmissionView{Submission: *submission}
	view.SourceCode = ""
	if submission.FailureDetail != "" {
		var failure judgemodel.FailureDetail
		if err := json.Unmarshal([]byte(submission.FailureDetail), &failure); err == nil {
			view.Failure = &failure
		}
	}
	return view, nil
}

func (s *SubmitService) validate(language, sourceCode string) (int, error) {
	if strings.TrimSpace(sourceCode) == "" {
		return 0, appErr.ValidationError("source_code", "required")
	}
	if len(sourceCode) > s.cfg.MaxSourceBytes {
		return 0, appErr.Newf(appErr.CodeTooLarge, "source code exceeds %d bytes", s.cfg.MaxSourceBytes)
	}
	languageID, ok := runner.LanguageID(language)
	if !ok {
		return 0, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", language)
	}
	return languageID, nil
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("%s%d", rateKeyPrefix, userID)
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		if err := s.cache.Expire(ctx, key, s.cfg.RateWindow); err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit expire failed")
		}
	}
	if count > int64(s.cfg.RateLimit) {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}
