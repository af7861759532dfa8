package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

func newTestRepo(t *testing.T) *TrackingRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return NewTrackingRepository(redisCache, time.Hour)
}

func testMeta(total int) model.TrackingMeta {
	return model.TrackingMeta{
		Total:         total,
		Mode:          model.ModeSubmit,
		UserID:        7,
		ProblemID:     42,
		Language:      "go",
		TimeLimitMs:   2000,
		MemoryLimitKB: 262144,
	}
}

func storedResult(index int, token string, status model.Status) StoredResult {
	return StoredResult{
		Token: token,
		Result: model.TestCaseResult{
			Index:  index,
			Status: status,
			TimeMs: 100,
		},
	}
}

func TestRecordResultCountsDistinctTokens(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, "sub-1", testMeta(3)); err != nil {
		t.Fatalf("create session: %v", err)
	}

	out, err := repo.RecordResult(ctx, "sub-1", 0, "tok-a", storedResult(0, "tok-a", model.StatusAccepted))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !out.Accepted || out.Received != 1 || out.Total != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Completed() {
		t.Fatal("one of three must not complete")
	}

	out, err = repo.RecordResult(ctx, "sub-1", 1, "tok-b", storedResult(1, "tok-b", model.StatusAccepted))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Received != 2 {
		t.Fatalf("received = %d, want 2", out.Received)
	}

	out, err = repo.RecordResult(ctx, "sub-1", 2, "tok-c", storedResult(2, "tok-c", model.StatusWrongAnswer))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !out.Completed() {
		t.Fatalf("three of three must complete, got %+v", out)
	}
}

func TestRecordResultDropsDuplicateToken(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, "sub-2", testMeta(2)); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := repo.RecordResult(ctx, "sub-2", 0, "tok-a", storedResult(0, "tok-a", model.StatusAccepted)); err != nil {
		t.Fatalf("record: %v", err)
	}

	out, err := repo.RecordResult(ctx, "sub-2", 0, "tok-a", storedResult(0, "tok-a", model.StatusWrongAnswer))
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if out.Accepted {
		t.Fatal("duplicate token must not be accepted")
	}
	if out.Received != 1 {
		t.Fatalf("received = %d, want 1", out.Received)
	}
	if out.Completed() {
		t.Fatal("duplicate must never signal completion")
	}
}

func TestRecordResultFirstWriterWinsPerIndex(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, "sub-3", testMeta(2)); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := repo.RecordResult(ctx, "sub-3", 0, "tok-a", storedResult(0, "tok-a", model.StatusAccepted)); err != nil {
		t.Fatalf("record: %v", err)
	}
	// A second token targeting the same index still counts toward received
	// but must not overwrite the stored result.
	if _, err := repo.RecordResult(ctx, "sub-3", 0, "tok-b", storedResult(0, "tok-b", model.StatusWrongAnswer)); err != nil {
		t.Fatalf("record: %v", err)
	}

	session, err := repo.LoadSession(ctx, "sub-3")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	got := session.Results[0]
	if got.Token != "tok-a" || got.Result.Status != model.StatusAccepted {
		t.Fatalf("index 0 overwritten: %+v", got)
	}
}

func TestLoadSessionRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	meta := testMeta(1)
	if err := repo.CreateSession(ctx, "sub-4", meta); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := repo.RecordResult(ctx, "sub-4", 0, "tok-a", storedResult(0, "tok-a", model.StatusAccepted)); err != nil {
		t.Fatalf("record: %v", err)
	}

	session, err := repo.LoadSession(ctx, "sub-4")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Meta != meta {
		t.Fatalf("meta mismatch: got %+v want %+v", session.Meta, meta)
	}
	if len(session.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(session.Results))
	}
}

func TestLoadSessionGoneReturnsTrackingExpired(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LoadSession(ctx, "never-created")
	if appErr.GetCode(err) != appErr.TrackingExpired {
		t.Fatalf("err = %v, want TrackingExpired", err)
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, "sub-5", testMeta(1)); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := repo.RecordResult(ctx, "sub-5", 0, "tok-a", storedResult(0, "tok-a", model.StatusAccepted)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := repo.DeleteSession(ctx, "sub-5"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := repo.LoadSession(ctx, "sub-5"); appErr.GetCode(err) != appErr.TrackingExpired {
		t.Fatalf("err = %v, want TrackingExpired after delete", err)
	}
}
