// Package feed moves committed change events from the durable queue into
// the Redis channel that live subscribers listen on, and delivers channel
// messages to the reconciler.
package feed

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Queue is the durable change-feed ingest side.
type Queue interface {
	DequeueChange(ctx context.Context) (*azqueue.DequeuedMessage, error)
	DeleteChange(ctx context.Context, id, receipt string) error
}

// Relay drains the change queue and publishes each event payload to the
// Redis channel. A single relay serializes delivery, which preserves
// per-task commit order on the channel. Blocks until ctx is cancelled.
func Relay(ctx context.Context, q Queue, rc *redis.Client, channel string) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := q.DequeueChange(ctx)
		if err != nil {
			log.WithError(err).Error("dequeue change event")
			sleep(ctx, time.Second)
			continue
		}
		if msg == nil {
			sleep(ctx, time.Second)
			continue
		}
		if msg.MessageText != nil {
			if err := rc.Publish(ctx, channel, *msg.MessageText).Err(); err != nil {
				log.WithError(err).Errorf("unable to publish change event to %s", channel)
			}
		}
		if err := q.DeleteChange(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
			log.WithError(err).Error("delete relayed message")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
