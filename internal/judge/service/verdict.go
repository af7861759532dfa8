package service

import (
	"math"
	"sort"
	"time"

	"arbiter/internal/judge/model"
	"arbiter/internal/judge/repository"
)

// CalculateVerdict computes the final verdict from a completed tracking
// session. It is pure: no I/O, fully determined by the session contents.
//
// Runtime-error reclassification: sandboxes kill over-limit processes with a
// signal, so a genuine limit breach often arrives as RUNTIME_ERROR. A result
// whose measured usage exceeds the problem limit is reclassified to the
// corresponding limit verdict before ranking failures.
func CalculateVerdict(submissionID string, session *repository.Session, now time.Time) model.Verdict {
	meta := session.Meta
	verdict := model.Verdict{
		SubmissionID: submissionID,
		Mode:         meta.Mode,
		TotalTests:   meta.Total,
		JudgedAt:     now,
	}

	tests := make([]model.TestCaseResult, 0, meta.Total)
	firstFailure := -1
	for i := 0; i < meta.Total; i++ {
		stored, ok := session.Results[i]
		result := stored.Result
		if !ok {
			// Completion guarantees every index was written; a hole here
			// means the session was corrupted, fail that test explicitly.
			result = model.TestCaseResult{Index: i, Status: model.StatusUnknownError}
		}
		result.Status = reclassify(result, meta)
		tests = append(tests, result)

		if result.Status == model.StatusAccepted {
			verdict.PassedTests++
		} else if firstFailure == -1 {
			firstFailure = i
		}
		verdict.TimeUsedMs += result.TimeMs
		verdict.MemoryUsedKB += result.MemoryKB
	}

	if firstFailure == -1 {
		verdict.Status = model.StatusAccepted
	} else {
		failed := tests[firstFailure]
		verdict.Status = failed.Status
		verdict.Failure = &model.FailureDetail{
			Index:         failed.Index,
			Status:        failed.Status,
			Stderr:        failed.Stderr,
			CompileOutput: failed.CompileOutput,
		}
	}
	if meta.Total > 0 {
		verdict.Score = int(math.Round(float64(verdict.PassedTests) / float64(meta.Total) * 100))
	}

	if meta.Mode == model.ModeRun {
		sort.Slice(tests, func(a, b int) bool { return tests[a].Index < tests[b].Index })
		verdict.Tests = tests
	}
	return verdict
}

func reclassify(result model.TestCaseResult, meta model.TrackingMeta) model.Status {
	if result.Status != model.StatusRuntimeError {
		return result.Status
	}
	if meta.TimeLimitMs > 0 && result.TimeMs > meta.TimeLimitMs {
		return model.StatusTimeLimitExceeded
	}
	if meta.MemoryLimitKB > 0 && result.MemoryKB > meta.MemoryLimitKB {
		return model.StatusMemoryLimitExceeded
	}
	return model.StatusRuntimeError
}
