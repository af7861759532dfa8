package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"arbiter/internal/common/cache"
)

func newTestProgress(t *testing.T) *ProgressRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return NewProgressRepository(redisCache)
}

func TestRecordFirstSolveIsIdempotent(t *testing.T) {
	t.Parallel()
	repo := newTestProgress(t)
	ctx := context.Background()

	if err := repo.RecordFirstSolve(ctx, 7, 42); err != nil {
		t.Fatalf("first solve: %v", err)
	}
	// Redelivered event.
	if err := repo.RecordFirstSolve(ctx, 7, 42); err != nil {
		t.Fatalf("redelivered solve: %v", err)
	}

	stats, err := repo.UserStats(ctx, 7)
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if stats.Solved != 1 {
		t.Fatalf("solved = %d, want 1", stats.Solved)
	}

	solved, err := repo.IsSolved(ctx, 7, 42)
	if err != nil || !solved {
		t.Fatalf("IsSolved = %v, %v", solved, err)
	}
	solved, err = repo.IsSolved(ctx, 7, 43)
	if err != nil || solved {
		t.Fatalf("unsolved problem reported solved: %v, %v", solved, err)
	}
}

func TestLeaderboardOrdersBySolvedCount(t *testing.T) {
	t.Parallel()
	repo := newTestProgress(t)
	ctx := context.Background()

	for problem := int64(1); problem <= 3; problem++ {
		if err := repo.RecordFirstSolve(ctx, 1, problem); err != nil {
			t.Fatalf("solve: %v", err)
		}
	}
	if err := repo.RecordFirstSolve(ctx, 2, 1); err != nil {
		t.Fatalf("solve: %v", err)
	}

	entries, err := repo.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].UserID != 1 || entries[0].Solved != 3 || entries[0].Rank != 1 {
		t.Fatalf("top entry = %+v", entries[0])
	}
	if entries[1].UserID != 2 || entries[1].Solved != 1 || entries[1].Rank != 2 {
		t.Fatalf("second entry = %+v", entries[1])
	}
}

func TestUserStatsIncludesRank(t *testing.T) {
	t.Parallel()
	repo := newTestProgress(t)
	ctx := context.Background()

	if err := repo.RecordJudged(ctx, 7); err != nil {
		t.Fatalf("judged: %v", err)
	}
	if err := repo.RecordJudged(ctx, 7); err != nil {
		t.Fatalf("judged: %v", err)
	}
	if err := repo.RecordAccepted(ctx, 7); err != nil {
		t.Fatalf("accepted: %v", err)
	}
	if err := repo.RecordFirstSolve(ctx, 7, 42); err != nil {
		t.Fatalf("solve: %v", err)
	}

	stats, err := repo.UserStats(ctx, 7)
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if stats.Submissions != 2 || stats.Accepted != 1 || stats.Solved != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Rank != 1 {
		t.Fatalf("rank = %d, want 1", stats.Rank)
	}

	// A user with no activity has no rank.
	empty, err := repo.UserStats(ctx, 99)
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if empty.Rank != -1 || empty.Submissions != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
}
