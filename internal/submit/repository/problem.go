package repository

import (
	"context"

	"arbiter/internal/common/db"
	"arbiter/internal/submit/model"
	appErr "arbiter/pkg/errors"
)

// ProblemRepository reads the problem metadata the judge needs.
type ProblemRepository struct {
	db db.Database
}

// NewProblemRepository creates a problem repository.
func NewProblemRepository(database db.Database) *ProblemRepository {
	return &ProblemRepository{db: database}
}

// GetByID loads one problem's limits and test-case location.
func (r *ProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	query := `SELECT id, title, time_limit_ms, memory_limit_kb, testcase_key
		FROM problems WHERE id = ?`
	var problem model.Problem
	err := r.db.QueryRow(ctx, query, problemID).Scan(
		&problem.ID, &problem.Title, &problem.TimeLimitMs,
		&problem.MemoryLimitKB, &problem.TestcaseKey)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.ProblemNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	return &problem, nil
}
