package service

import (
	"testing"
	"time"

	"arbiter/internal/judge/model"
	"arbiter/internal/judge/repository"
)

func sessionWith(meta model.TrackingMeta, results ...model.TestCaseResult) *repository.Session {
	stored := make(map[int]repository.StoredResult, len(results))
	for _, r := range results {
		stored[r.Index] = repository.StoredResult{Token: "tok", Result: r}
	}
	return &repository.Session{Meta: meta, Results: stored}
}

func TestCalculateVerdictAllPass(t *testing.T) {
	t.Parallel()
	meta := model.TrackingMeta{Total: 3, Mode: model.ModeSubmit, TimeLimitMs: 1000, MemoryLimitKB: 65536}
	session := sessionWith(meta,
		model.TestCaseResult{Index: 0, Status: model.StatusAccepted, TimeMs: 10, MemoryKB: 100},
		model.TestCaseResult{Index: 1, Status: model.StatusAccepted, TimeMs: 30, MemoryKB: 500},
		model.TestCaseResult{Index: 2, Status: model.StatusAccepted, TimeMs: 20, MemoryKB: 300},
	)

	verdict := CalculateVerdict("sub-1", session, time.Now())
	if verdict.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", verdict.Status)
	}
	if verdict.Score != 100 || verdict.PassedTests != 3 {
		t.Fatalf("score=%d passed=%d, want 100/3", verdict.Score, verdict.PassedTests)
	}
	if verdict.TimeUsedMs != 60 || verdict.MemoryUsedKB != 900 {
		t.Fatalf("usage time=%d mem=%d, want summed 60/900", verdict.TimeUsedMs, verdict.MemoryUsedKB)
	}
	if verdict.Failure != nil {
		t.Fatal("accepted verdict must not carry a failure detail")
	}
	if verdict.Tests != nil {
		t.Fatal("submit mode must not carry per-test results")
	}
}

func TestCalculateVerdictFirstFailureByIndex(t *testing.T) {
	t.Parallel()
	meta := model.TrackingMeta{Total: 4, Mode: model.ModeSubmit, TimeLimitMs: 1000}
	// Results recorded out of order; failure ranking must follow index order,
	// so index 1 wins over index 3.
	session := sessionWith(meta,
		model.TestCaseResult{Index: 3, Status: model.StatusRuntimeError, Stderr: "boom"},
		model.TestCaseResult{Index: 0, Status: model.StatusAccepted},
		model.TestCaseResult{Index: 2, Status: model.StatusAccepted},
		model.TestCaseResult{Index: 1, Status: model.StatusWrongAnswer},
	)

	verdict := CalculateVerdict("sub-2", session, time.Now())
	if verdict.Status != model.StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER", verdict.Status)
	}
	if verdict.Failure == nil || verdict.Failure.Index != 1 {
		t.Fatalf("failure = %+v, want index 1", verdict.Failure)
	}
	if verdict.PassedTests != 2 || verdict.Score != 50 {
		t.Fatalf("passed=%d score=%d, want 2/50", verdict.PassedTests, verdict.Score)
	}
}

func TestCalculateVerdictReclassifiesRuntimeError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		result model.TestCaseResult
		want   model.Status
	}{
		{
			name:   "over time limit becomes TLE",
			result: model.TestCaseResult{Index: 0, Status: model.StatusRuntimeError, TimeMs: 2000},
			want:   model.StatusTimeLimitExceeded,
		},
		{
			name:   "over memory limit becomes MLE",
			result: model.TestCaseResult{Index: 0, Status: model.StatusRuntimeError, TimeMs: 10, MemoryKB: 70000},
			want:   model.StatusMemoryLimitExceeded,
		},
		{
			name:   "within limits stays RE",
			result: model.TestCaseResult{Index: 0, Status: model.StatusRuntimeError, TimeMs: 10, MemoryKB: 100},
			want:   model.StatusRuntimeError,
		},
		{
			name:   "exactly at time limit stays RE",
			result: model.TestCaseResult{Index: 0, Status: model.StatusRuntimeError, TimeMs: 1000},
			want:   model.StatusRuntimeError,
		},
		{
			name:   "exactly at memory limit stays RE",
			result: model.TestCaseResult{Index: 0, Status: model.StatusRuntimeError, TimeMs: 10, MemoryKB: 65536},
			want:   model.StatusRuntimeError,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			meta := model.TrackingMeta{Total: 1, Mode: model.ModeSubmit, TimeLimitMs: 1000, MemoryLimitKB: 65536}
			verdict := CalculateVerdict("sub-3", sessionWith(meta, tc.result), time.Now())
			if verdict.Status != tc.want {
				t.Fatalf("status = %s, want %s", verdict.Status, tc.want)
			}
		})
	}
}

func TestCalculateVerdictScoreRounds(t *testing.T) {
	t.Parallel()
	meta := model.TrackingMeta{Total: 3, Mode: model.ModeSubmit}
	session := sessionWith(meta,
		model.TestCaseResult{Index: 0, Status: model.StatusAccepted},
		model.TestCaseResult{Index: 1, Status: model.StatusAccepted},
		model.TestCaseResult{Index: 2, Status: model.StatusWrongAnswer},
	)
	verdict := CalculateVerdict("sub-4", session, time.Now())
	if verdict.Score != 67 {
		t.Fatalf("score = %d, want 67", verdict.Score)
	}
}

func TestCalculateVerdictRunModeCarriesAllTests(t *testing.T) {
	t.Parallel()
	meta := model.TrackingMeta{Total: 2, Mode: model.ModeRun, TimeLimitMs: 1000}
	session := sessionWith(meta,
		model.TestCaseResult{Index: 1, Status: model.StatusWrongAnswer},
		model.TestCaseResult{Index: 0, Status: model.StatusAccepted},
	)
	verdict := CalculateVerdict("run-1", session, time.Now())
	if len(verdict.Tests) != 2 {
		t.Fatalf("tests = %d, want 2", len(verdict.Tests))
	}
	if verdict.Tests[0].Index != 0 || verdict.Tests[1].Index != 1 {
		t.Fatalf("tests not ordered by index: %+v", verdict.Tests)
	}
}

func TestCalculateVerdictMissingResultFailsTest(t *testing.T) {
	t.Parallel()
	meta := model.TrackingMeta{Total: 2, Mode: model.ModeSubmit}
	session := sessionWith(meta,
		model.TestCaseResult{Index: 0, Status: model.StatusAccepted},
	)
	verdict := CalculateVerdict("sub-5", session, time.Now())
	if verdict.Status != model.StatusUnknownError {
		t.Fatalf("status = %s, want UNKNOWN_ERROR", verdict.Status)
	}
	if verdict.Failure == nil || verdict.Failure.Index != 1 {
		t.Fatalf("failure = %+v, want index 1", verdict.Failure)
	}
}
