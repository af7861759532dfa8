// Package repository keeps per-user solve progress and the global
// leaderboard in the shared cache.
package repository

import (
	"context"
	"strconv"

	"arbiter/internal/common/cache"
	appErr "arbiter/pkg/errors"
)

const (
	solvedKeyPrefix = "stats:solved:"
	userKeyPrefix   = "stats:user:"
	leaderboardKey  = "rank:leaderboard"

	fieldSubmissions = "submissions"
	fieldAccepted    = "accepted"
	fieldSolved      = "solved"
)

// UserStats is the aggregate counters kept per user.
type UserStats struct {
	UserID      int64 `json:"user_id"`
	Submissions int64 `json:"submissions"`
	Accepted    int64 `json:"accepted"`
	Solved      int64 `json:"solved"`
	Rank        int64 `json:"rank"`
}

// LeaderboardEntry is one row of the solved-count ranking.
type LeaderboardEntry struct {
	UserID int64 `json:"user_id"`
	Solved int64 `json:"solved"`
	Rank   int64 `json:"rank"`
}

// ProgressRepository tracks solves, counters, and ranking.
type ProgressRepository struct {
	cache cache.Cache
}

// NewProgressRepository creates a progress repository.
func NewProgressRepository(cacheClient cache.Cache) *ProgressRepository {
	return &ProgressRepository{cache: cacheClient}
}

func solvedKey(userID int64) string {
	return solvedKeyPrefix + strconv.FormatInt(userID, 10)
}

func userKey(userID int64) string {
	return userKeyPrefix + strconv.FormatInt(userID, 10)
}

// IsSolved reports whether the user has already solved the problem.
func (r *ProgressRepository) IsSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	solved, err := r.cache.SIsMember(ctx, solvedKey(userID), problemID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "check solved failed")
	}
	return solved, nil
}

// RecordJudged bumps the user's total submission counter.
func (r *ProgressRepository) RecordJudged(ctx context.Context, userID int64) error {
	if _, err := r.cache.HIncrBy(ctx, userKey(userID), fieldSubmissions, 1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "record judged failed")
	}
	return nil
}

// RecordAccepted bumps the user's accepted counter.
func (r *ProgressRepository) RecordAccepted(ctx context.Context, userID int64) error {
	if _, err := r.cache.HIncrBy(ctx, userKey(userID), fieldAccepted, 1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "record accepted failed")
	}
	return nil
}

// RecordFirstSolve marks the problem solved and, only if this is genuinely
// the first time, bumps the solved counter and the leaderboard. The set-add
// return value makes a redelivered event a no-op.
func (r *ProgressRepository) RecordFirstSolve(ctx context.Context, userID, problemID int64) error {
	added, err := r.cache.SAdd(ctx, solvedKey(userID), problemID)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "mark solved failed")
	}
	if added == 0 {
		return nil
	}
	if _, err := r.cache.HIncrBy(ctx, userKey(userID), fieldSolved, 1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "record solved failed")
	}
	member := strconv.FormatInt(userID, 10)
	if _, err := r.cache.ZIncrBy(ctx, leaderboardKey, 1, member); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "update leaderboard failed")
	}
	return nil
}

// UserStats loads the counters and current rank for a user.
func (r *ProgressRepository) UserStats(ctx context.Context, userID int64) (UserStats, error) {
	fields, err := r.cache.HGetAll(ctx, userKey(userID))
	if err != nil {
		return UserStats{}, appErr.Wrapf(err, appErr.CacheError, "load user stats failed")
	}
	stats := UserStats{
		UserID:      userID,
		Submissions: parseCounter(fields[fieldSubmissions]),
		Accepted:    parseCounter(fields[fieldAccepted]),
		Solved:      parseCounter(fields[fieldSolved]),
		Rank:        -1,
	}
	rank, err := r.cache.ZRevRank(ctx, leaderboardKey, strconv.FormatInt(userID, 10))
	if err != nil {
		return UserStats{}, appErr.Wrapf(err, appErr.CacheError, "load user rank failed")
	}
	if rank >= 0 {
		stats.Rank = rank + 1
	}
	return stats, nil
}

// Leaderboard returns the top n users by solved count.
func (r *ProgressRepository) Leaderboard(ctx context.Context, n int64) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	members, err := r.cache.ZRevRangeWithScores(ctx, leaderboardKey, 0, n-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load leaderboard failed")
	}
	entries := make([]LeaderboardEntry, 0, len(members))
	for i, m := range members {
		userID, err := strconv.ParseInt(m.Member, 10, 64)
		if err != nil {
			return nil, appErr.Newf(appErr.CacheError, "invalid leaderboard member %q", m.Member)
		}
		entries = append(entries, LeaderboardEntry{
			UserID: userID,
			Solved: int64(m.Score),
			Rank:   int64(i) + 1,
		})
	}
	return entries, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
