package pubsub

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// Bus is the in-process notification bus: messages carry the key of the record that changed on a topic.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger core.Logger

	closeOnce sync.Once
}

var (
	_ core.Publisher = (*Bus)(nil)
	_ core.Notifier  = (*Bus)(nil)
)

func NewBus(logger core.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 64,
				// subscribers ack on receipt; waiting for it keeps a topic in publication order
				BlockPublishUntilSubscriberAck: true,
			},
			NewLoggerAdapter(logger),
		),
		logger: logger,
	}
}

// Publish announces a change of record key on topic. Failures are logged.
func (b *Bus) Publish(topic, key string) {
	msg := message.NewMessage(watermill.NewUUID(), []byte(key))
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Warn("publishing notification", errors.Wrapf(err, "publishing to %s", topic))
	}
}

// Subscribe delivers the keys published on topic until cancel is called.
// Pending duplicate keys are coalesced so that a slow consumer never blocks publishers.
func (b *Bus) Subscribe(topic string) (<-chan string, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan string)

	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		b.logger.Warn("subscribing to notifications", errors.Wrapf(err, "subscribing to %s", topic))
		cancel()
		close(out)
		return out, func() {}
	}

	go func() {
		defer close(out)

		var pending []string
		queued := make(map[string]bool)
		for {
			var (
				send chan string
				next string
			)
			if len(pending) > 0 {
				send = out
				next = pending[0]
			}

			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				msg.Ack()
				key := string(msg.Payload)
				if !queued[key] {
					queued[key] = true
					pending = append(pending, key)
				}
			case send <- next:
				delete(queued, next)
				pending = pending[1:]
			}
		}
	}()

	return out, cancel
}

func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.pubsub.Close() })
	return errors.Wrap(err, "closing bus")
}
