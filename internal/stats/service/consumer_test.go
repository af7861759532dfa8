package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"arbiter/internal/common/cache"
	"arbiter/internal/common/mq"
	"arbiter/internal/judge/model"
	"arbiter/internal/stats/repository"
)

func newTestConsumer(t *testing.T) (*StatsConsumer, *repository.ProgressRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	progress := repository.NewProgressRepository(redisCache)
	return NewStatsConsumer(progress, ConsumerConfig{}), progress
}

func eventMessage(t *testing.T, event model.JudgeEvent) *mq.Message {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return mq.NewMessage(body)
}

func TestHandleEventChainUpdatesProgress(t *testing.T) {
	t.Parallel()
	consumer, progress := newTestConsumer(t)
	ctx := context.Background()

	base := model.JudgeEvent{
		SubmissionID: "sub-1",
		UserID:       7,
		ProblemID:    42,
		Status:       model.StatusAccepted,
		Score:        100,
	}
	for _, eventType := range []model.EventType{model.EventJudged, model.EventAccepted, model.EventFirstSolved} {
		event := base
		event.Type = eventType
		if err := consumer.Handle(ctx, eventMessage(t, event)); err != nil {
			t.Fatalf("handle %s: %v", eventType, err)
		}
	}

	stats, err := progress.UserStats(ctx, 7)
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if stats.Submissions != 1 || stats.Accepted != 1 || stats.Solved != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHandleRedeliveredFirstSolveDoesNotDoubleCount(t *testing.T) {
	t.Parallel()
	consumer, progress := newTestConsumer(t)
	ctx := context.Background()

	event := model.JudgeEvent{
		Type:      model.EventFirstSolved,
		UserID:    7,
		ProblemID: 42,
	}
	if err := consumer.Handle(ctx, eventMessage(t, event)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := consumer.Handle(ctx, eventMessage(t, event)); err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}

	stats, err := progress.UserStats(ctx, 7)
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if stats.Solved != 1 {
		t.Fatalf("solved = %d, want 1", stats.Solved)
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	t.Parallel()
	consumer, _ := newTestConsumer(t)

	msg := mq.NewMessage([]byte("{not json"))
	if err := consumer.Handle(context.Background(), msg); err != nil {
		t.Fatalf("malformed payload must be dropped, got %v", err)
	}
}

func TestHandleDropsEventWithoutUser(t *testing.T) {
	t.Parallel()
	consumer, _ := newTestConsumer(t)

	event := model.JudgeEvent{Type: model.EventJudged, SubmissionID: "sub-x"}
	if err := consumer.Handle(context.Background(), eventMessage(t, event)); err != nil {
		t.Fatalf("event without user must be dropped, got %v", err)
	}
}
