// Package service consumes judge events and folds them into user progress
// statistics.
package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"arbiter/internal/common/mq"
	"arbiter/internal/judge/model"
	"arbiter/internal/stats/repository"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

// ConsumerConfig names the topics and consumer group for the stats consumer.
type ConsumerConfig struct {
	JudgedTopic      string `yaml:"judgedTopic"`
	AcceptedTopic    string `yaml:"acceptedTopic"`
	FirstSolvedTopic string `yaml:"firstSolvedTopic"`
	ConsumerGroup    string `yaml:"consumerGroup"`
	Concurrency      int    `yaml:"concurrency"`
}

// StatsConsumer applies judge events to the progress repository.
type StatsConsumer struct {
	progress *repository.ProgressRepository
	cfg      ConsumerConfig
}

// NewStatsConsumer creates a stats consumer.
func NewStatsConsumer(progress *repository.ProgressRepository, cfg ConsumerConfig) *StatsConsumer {
	if cfg.JudgedTopic == "" {
		cfg.JudgedTopic = "judge.judged"
	}
	if cfg.AcceptedTopic == "" {
		cfg.AcceptedTopic = "judge.accepted"
	}
	if cfg.FirstSolvedTopic == "" {
		cfg.FirstSolvedTopic = "judge.first-solved"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "arbiter-stats"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &StatsConsumer{progress: progress, cfg: cfg}
}

// Register subscribes the handler to all three event topics.
func (c *StatsConsumer) Register(ctx context.Context, consumer mq.Consumer) error {
	opts := &mq.SubscribeOptions{
		ConsumerGroup: c.cfg.ConsumerGroup,
		Concurrency:   c.cfg.Concurrency,
	}
	for _, topic := range []string{c.cfg.JudgedTopic, c.cfg.AcceptedTopic, c.cfg.FirstSolvedTopic} {
		if err := consumer.SubscribeWithOptions(ctx, topic, c.Handle, opts); err != nil {
			return err
		}
	}
	return nil
}

// Handle applies one judge event. Returning an error triggers the queue's
// redelivery; every mutation it guards is idempotent except the raw
// submission and accepted counters, which tolerate rare double counts.
func (c *StatsConsumer) Handle(ctx context.Context, message *mq.Message) error {
	var event model.JudgeEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		// A payload that never parses would redeliver forever; drop it.
		logger.Error(ctx, "malformed judge event dropped",
			zap.String("message_id", message.ID),
			zap.Error(err))
		return nil
	}
	if event.UserID == 0 {
		logger.Warn(ctx, "judge event without user dropped",
			zap.String("submission_id", event.SubmissionID))
		return nil
	}

	switch event.Type {
	case model.EventJudged:
		return c.progress.RecordJudged(ctx, event.UserID)
	case model.EventAccepted:
		return c.progress.RecordAccepted(ctx, event.UserID)
	case model.EventFirstSolved:
		return c.progress.RecordFirstSolve(ctx, event.UserID, event.ProblemID)
	default:
		return appErr.Newf(appErr.InvalidParams, "unknown event type %q", event.Type)
	}
}
