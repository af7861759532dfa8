// Package repository persists submissions and reads problem metadata.
package repository

import (
	"context"
	"encoding/json"

	"arbiter/internal/common/db"
	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/submit/model"
	appErr "arbiter/pkg/errors"
)

// SubmissionRepository is the MySQL-backed submission store.
type SubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *SubmissionRepository {
	return &SubmissionRepository{db: database}
}

// Create inserts a new pending submission.
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	query := `INSERT INTO submissions
		(submission_id, user_id, problem_id, language, source_code, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := r.db.Exec(ctx, query,
		sub.SubmissionID, sub.UserID, sub.ProblemID, sub.Language,
		sub.SourceCode, string(sub.Status), sub.CreatedAt)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "insert submission failed")
	}
	if sub.ID, err = result.LastInsertId(); err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	return nil
}

// GetByID loads one submission by its public id.
func (r *SubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	query := `SELECT id, submission_id, user_id, problem_id, language, status,
		score, passed_tests, total_tests, time_used_ms, memory_used_kb,
		COALESCE(failure_detail, ''), created_at, judged_at
		FROM submissions WHERE submission_id = ?`
	var sub model.Submission
	err := r.db.QueryRow(ctx, query, submissionID).Scan(
		&sub.ID, &sub.SubmissionID, &sub.UserID, &sub.ProblemID, &sub.Language,
		&sub.Status, &sub.Score, &sub.PassedTests, &sub.TotalTests,
		&sub.TimeUsedMs, &sub.MemoryUsedKB, &sub.FailureDetail,
		&sub.CreatedAt, &sub.JudgedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return &sub, nil
}

// Delete removes a submission row. Used to back out a row whose dispatch to
// the runner failed synchronously.
func (r *SubmissionRepository) Delete(ctx context.Context, submissionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM submissions WHERE submission_id = ? AND judged_at IS NULL`, submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "delete submission failed")
	}
	return nil
}

// IsJudged reports whether the submission row already carries a verdict.
func (r *SubmissionRepository) IsJudged(ctx context.Context, submissionID string) (bool, error) {
	var judged bool
	err := r.db.QueryRow(ctx, `SELECT judged_at IS NOT NULL FROM submissions WHERE submission_id = ?`, submissionID).Scan(&judged)
	if err != nil {
		if db.IsNoRows(err) {
			return false, appErr.New(appErr.SubmissionNotFound)
		}
		return false, appErr.Wrapf(err, appErr.DatabaseError, "check submission judged failed")
	}
	return judged, nil
}

// FinalizeVerdict writes the verdict onto the pending row. The judged_at
// guard in the WHERE clause is the persistence-level idempotence barrier:
// whichever finalize run matches the NULL wins, every other run sees zero
// rows affected and gets AlreadyJudged.
func (r *SubmissionRepository) FinalizeVerdict(ctx context.Context, verdict judgemodel.Verdict) error {
	var failureJSON interface{}
	if verdict.Failure != nil {
		encoded, err := json.Marshal(verdict.Failure)
		if err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "encode failure detail failed")
		}
		failureJSON = string(encoded)
	}

	query := `UPDATE submissions SET
		status = ?, score = ?, passed_tests = ?, total_tests = ?,
		time_used_ms = ?, memory_used_kb = ?, failure_detail = ?, judged_at = ?
		WHERE submission_id = ? AND judged_at IS NULL`
	result, err := r.db.Exec(ctx, query,
		string(verdict.Status), verdict.Score, verdict.PassedTests, verdict.TotalTests,
		verdict.TimeUsedMs, verdict.MemoryUsedKB, failureJSON, verdict.JudgedAt,
		verdict.SubmissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize verdict failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if affected > 0 {
		return nil
	}

	// Zero rows means either the row is already judged or it never existed;
	// the distinction decides between a clean no-op and a retry.
	var exists int
	err = r.db.QueryRow(ctx, `SELECT 1 FROM submissions WHERE submission_id = ?`, verdict.SubmissionID).Scan(&exists)
	if err != nil {
		if db.IsNoRows(err) {
			return appErr.New(appErr.SubmissionNotFound)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "check submission failed")
	}
	return appErr.New(appErr.AlreadyJudged)
}
