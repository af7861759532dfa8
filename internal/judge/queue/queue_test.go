package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
)

func newTestQueue(t *testing.T, cfg Config) *FinalizeQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return NewFinalizeQueue(redisCache, cfg)
}

func TestEnqueueDedupesByJobID(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	job := model.FinalizeJob{SubmissionID: "sub-1", IsSubmit: true}
	enqueued, err := q.Enqueue(ctx, job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !enqueued {
		t.Fatal("first enqueue must succeed")
	}

	enqueued, err = q.Enqueue(ctx, job)
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if enqueued {
		t.Fatal("duplicate enqueue must be rejected")
	}

	got, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if got.SubmissionID != "sub-1" || !got.IsSubmit {
		t.Fatalf("unexpected job %+v", got)
	}

	if _, ok, err := q.Dequeue(ctx); err != nil || ok {
		t.Fatalf("queue must be empty, ok=%v err=%v", ok, err)
	}
}

func TestAckFreesJobID(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	job := model.FinalizeJob{SubmissionID: "sub-2", IsSubmit: true}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if err := q.Ack(ctx, got); err != nil {
		t.Fatalf("ack: %v", err)
	}

	enqueued, err := q.Enqueue(ctx, job)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !enqueued {
		t.Fatal("acked job id must be reusable")
	}
}

func TestRetrySchedulesDelayedRun(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, Config{BackoffBase: 20 * time.Millisecond, BackoffMax: 50 * time.Millisecond})
	ctx := context.Background()

	job := model.FinalizeJob{SubmissionID: "sub-3", IsSubmit: true}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, _, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	retried, err := q.Retry(ctx, got, errors.New("db down"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retried {
		t.Fatal("first retry must reschedule")
	}

	// Not due yet.
	if _, ok, err := q.Dequeue(ctx); err != nil || ok {
		t.Fatalf("delayed job surfaced early, ok=%v err=%v", ok, err)
	}

	time.Sleep(40 * time.Millisecond)
	got, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("promoted job missing, ok=%v err=%v", ok, err)
	}
	if got.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", got.Attempt)
	}
}

func TestRetryExhaustionBuriesJob(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, Config{MaxAttempts: 2, BackoffBase: time.Millisecond})
	ctx := context.Background()

	job := model.FinalizeJob{SubmissionID: "sub-4", IsSubmit: true}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, _, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	retried, err := q.Retry(ctx, got, errors.New("first failure"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retried {
		t.Fatal("attempt 1 of 2 must reschedule")
	}
	time.Sleep(5 * time.Millisecond)
	got, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("promoted job missing, ok=%v err=%v", ok, err)
	}

	retried, err = q.Retry(ctx, got, errors.New("second failure"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried {
		t.Fatal("exhausted job must not reschedule")
	}

	dead, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if _, found := dead[job.JobID()]; !found {
		t.Fatalf("job missing from dead letters: %v", dead)
	}

	// A buried job frees its id for manual re-submission.
	enqueued, err := q.Enqueue(ctx, model.FinalizeJob{SubmissionID: "sub-4", IsSubmit: true})
	if err != nil || !enqueued {
		t.Fatalf("re-enqueue after bury: enqueued=%v err=%v", enqueued, err)
	}
}
