package stream

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"arbiter/internal/common/cache"
	"arbiter/pkg/utils/logger"
)

const (
	verdictChannelPrefix  = "judge:verdict:"
	verdictChannelPattern = verdictChannelPrefix + "*"
)

// Bridge relays verdict broadcasts from the shared cache's pub/sub into the
// local hub, so subscribers on any service instance see verdicts finalized on
// any other.
type Bridge struct {
	cache cache.Cache
	hub   *Hub
}

// NewBridge creates a bridge.
func NewBridge(cacheClient cache.Cache, hub *Hub) *Bridge {
	return &Bridge{cache: cacheClient, hub: hub}
}

// Run subscribes to the verdict channel pattern and pumps messages into the
// hub until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.cache.PSubscribe(ctx, verdictChannelPattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			submissionID := strings.TrimPrefix(msg.Channel, verdictChannelPrefix)
			if submissionID == "" || submissionID == msg.Channel {
				logger.Warn(ctx, "unexpected verdict channel",
					zap.String("channel", msg.Channel))
				continue
			}
			b.hub.Publish(submissionID, []byte(msg.Payload))
		}
	}
}
