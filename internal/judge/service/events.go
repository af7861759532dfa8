package service

import (
	"context"
	"encoding/json"

	"arbiter/internal/common/mq"
	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

// EventPublisher emits domain events after a verdict is persisted.
type EventPublisher interface {
	Publish(ctx context.Context, event model.JudgeEvent) error
}

// TopicConfig maps event types to broker topics.
type TopicConfig struct {
	Judged      string `yaml:"judged"`
	Accepted    string `yaml:"accepted"`
	FirstSolved string `yaml:"firstSolved"`
}

// MQEventPublisher publishes judge events to the message queue.
type MQEventPublisher struct {
	producer mq.Producer
	topics   TopicConfig
}

// NewMQEventPublisher creates an MQ-backed event publisher.
func NewMQEventPublisher(producer mq.Producer, topics TopicConfig) *MQEventPublisher {
	if topics.Judged == "" {
		topics.Judged = "judge.judged"
	}
	if topics.Accepted == "" {
		topics.Accepted = "judge.accepted"
	}
	if topics.FirstSolved == "" {
		topics.FirstSolved = "judge.first-solved"
	}
	return &MQEventPublisher{producer: producer, topics: topics}
}

// Publish serializes the event and routes it to the topic for its type.
func (p *MQEventPublisher) Publish(ctx context.Context, event model.JudgeEvent) error {
	topic := p.topicFor(event.Type)
	if topic == "" {
		return appErr.Newf(appErr.InvalidParams, "unknown event type %q", event.Type)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode event failed")
	}
	message := mq.NewMessage(body)
	message.SetHeader("event-type", string(event.Type))
	message.SetHeader("submission-id", event.SubmissionID)
	return p.producer.Publish(ctx, topic, message)
}

func (p *MQEventPublisher) topicFor(t model.EventType) string {
	switch t {
	case model.EventJudged:
		return p.topics.Judged
	case model.EventAccepted:
		return p.topics.Accepted
	case model.EventFirstSolved:
		return p.topics.FirstSolved
	default:
		return ""
	}
}
