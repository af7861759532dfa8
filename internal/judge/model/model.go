// Package model defines the submission lifecycle types shared across the
// judging pipeline.
package model

import "time"

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusRunning             Status = "RUNNING"
	StatusAccepted            Status = "ACCEPTED"
	StatusWrongAnswer         Status = "WRONG_ANSWER"
	StatusTimeLimitExceeded   Status = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded Status = "MEMORY_LIMIT_EXCEEDED"
	StatusRuntimeError        Status = "RUNTIME_ERROR"
	StatusCompilationError    Status = "COMPILATION_ERROR"
	StatusUnknownError        Status = "UNKNOWN_ERROR"
)

// IsTerminal reports whether the status is a final verdict.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPending, StatusRunning:
		return false
	default:
		return true
	}
}

// Mode distinguishes persisted submissions from interactive sample runs.
type Mode string

const (
	ModeSubmit Mode = "submit"
	ModeRun    Mode = "run"
)

// ParseMode maps a wire string to a Mode, defaulting to submit.
func ParseMode(s string) Mode {
	if s == string(ModeRun) {
		return ModeRun
	}
	return ModeSubmit
}

// TestCase is one stdin/expected-output pair fed to the runner.
type TestCase struct {
	Index          int    `json:"index"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// TestCaseResult is the per-test outcome recorded from a runner callback.
type TestCaseResult struct {
	Index         int    `json:"index"`
	Status        Status `json:"status"`
	TimeMs        int64  `json:"time_ms"`
	MemoryKB      int64  `json:"memory_kb"`
	Stderr        string `json:"stderr,omitempty"`
	CompileOutput string `json:"compile_output,omitempty"`
}

// FailureDetail describes the first failing test of a submission.
// Stdin/expected/actual are only populated for wrong-answer verdicts,
// via a direct runner query; the callback payload is intentionally lean.
type FailureDetail struct {
	Index          int    `json:"index"`
	Status         Status `json:"status"`
	Stdin          string `json:"stdin,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ActualOutput   string `json:"actual_output,omitempty"`
	Stderr         string `json:"stderr,omitempty"`
	CompileOutput  string `json:"compile_output,omitempty"`
}

// Verdict is the final computed outcome of a submission.
type Verdict struct {
	SubmissionID string           `json:"submission_id"`
	Mode         Mode             `json:"mode"`
	Status       Status           `json:"status"`
	Score        int              `json:"score"`
	PassedTests  int              `json:"passed_tests"`
	TotalTests   int              `json:"total_tests"`
	TimeUsedMs   int64            `json:"time_used_ms"`
	MemoryUsedKB int64            `json:"memory_used_kb"`
	Failure      *FailureDetail   `json:"failure,omitempty"`
	Tests        []TestCaseResult `json:"tests,omitempty"`
	JudgedAt     time.Time        `json:"judged_at"`
}

// TrackingMeta is the fixed part of a tracking session, written once when the
// batch is dispatched.
type TrackingMeta struct {
	Total         int
	Mode          Mode
	UserID        int64
	ProblemID     int64
	Language      string
	TimeLimitMs   int64
	MemoryLimitKB int64
}

// FinalizeJob is the unit of work consumed by the finalize worker.
// The deterministic job id derived from the submission id makes duplicate
// enqueue attempts collapse to one job.
type FinalizeJob struct {
	SubmissionID string `json:"submission_id"`
	IsSubmit     bool   `json:"is_submit"`
	Attempt      int    `json:"attempt"`
}

// JobID returns the deterministic queue id for this job.
func (j FinalizeJob) JobID() string {
	return "finalize:" + j.SubmissionID
}
