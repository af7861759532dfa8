// Package model defines the persisted submission and problem records.
package model

import (
	"time"

	judgemodel "arbiter/internal/judge/model"
)

// Submission is one persisted code submission.
type Submission struct {
	ID            int64             `json:"-"`
	SubmissionID  string            `json:"submission_id"`
	UserID        int64             `json:"user_id"`
	ProblemID     int64             `json:"problem_id"`
	Language      string            `json:"language"`
	SourceCode    string            `json:"source_code,omitempty"`
	Status        judgemodel.Status `json:"status"`
	Score         int               `json:"score"`
	PassedTests   int               `json:"passed_tests"`
	TotalTests    int               `json:"total_tests"`
	TimeUsedMs    int64             `json:"time_used_ms"`
	MemoryUsedKB  int64             `json:"memory_used_kb"`
	FailureDetail string            `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	JudgedAt      *time.Time        `json:"judged_at,omitempty"`
}

// Problem is the slice of a problem the judging pipeline needs.
type Problem struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	TimeLimitMs   int64  `json:"time_limit_ms"`
	MemoryLimitKB int64  `json:"memory_limit_kb"`
	TestcaseKey   string `json:"testcase_key"`
}
