package feed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklight/domain"
)

// Subscribe listens on the change-event channel and hands each decoded
// event to the handler. The subscription is re-established when the pubsub
// channel closes and torn down when ctx is cancelled, so no handler runs
// after teardown.
func Subscribe(ctx context.Context, rc *redis.Client, channel string, handle func(domain.ChangeEvent)) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				ev, err := domain.DecodeChangeEvent([]byte(msg.Payload))
				if err != nil {
					log.WithError(err).Error("unable to parse change event")
					continue
				}
				handle(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("change feed channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
