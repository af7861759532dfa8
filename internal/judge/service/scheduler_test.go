package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
	"arbiter/internal/judge/queue"
)

func newServiceCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return redisCache
}

func TestScheduleEnqueuesOnce(t *testing.T) {
	t.Parallel()
	redisCache := newServiceCache(t)
	q := queue.NewFinalizeQueue(redisCache, queue.Config{})
	scheduler := NewFinalizeScheduler(redisCache, q, SchedulerConfig{LockTTL: time.Minute})
	ctx := context.Background()

	if err := scheduler.Schedule(ctx, "sub-1", model.ModeSubmit); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Second completion signal for the same submission.
	if err := scheduler.Schedule(ctx, "sub-1", model.ModeSubmit); err != nil {
		t.Fatalf("schedule again: %v", err)
	}

	job, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if job.SubmissionID != "sub-1" || !job.IsSubmit {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, ok, _ := q.Dequeue(ctx); ok {
		t.Fatal("exactly one finalize job expected")
	}
}

func TestScheduleConcurrentSignalsCollapse(t *testing.T) {
	t.Parallel()
	redisCache := newServiceCache(t)
	q := queue.NewFinalizeQueue(redisCache, queue.Config{})
	scheduler := NewFinalizeScheduler(redisCache, q, SchedulerConfig{LockTTL: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Schedule(ctx, "sub-2", model.ModeRun); err != nil {
				t.Errorf("schedule: %v", err)
			}
		}()
	}
	wg.Wait()

	jobs := 0
	for {
		job, ok, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			break
		}
		if job.IsSubmit {
			t.Fatalf("run-mode job marked as submit: %+v", job)
		}
		jobs++
	}
	if jobs != 1 {
		t.Fatalf("jobs = %d, want 1", jobs)
	}
}
