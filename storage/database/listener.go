package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// NotifyChannel is the channel the change triggers notify on.
const NotifyChannel = "campus"

// Topics lists the topics fed by the change triggers.
var Topics = []string{"users", "profiles", "sessions", "settings"}

type notification struct {
	Topic string `json:"topic"`
	Key   string `json:"key"`
}

// Listen relays the change notifications of the database to pub until ctx is done.
// After a lost connection every topic is announced with an empty key, since notifications may have been missed.
func Listen(ctx context.Context, conf *core.Config, pub core.Publisher, logger core.Logger) error {
	listener := pq.NewListener(
		connString(conf.Database.Name, false, conf),
		time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("database listener", errors.Wrapf(err, "event %d", ev))
			}
		},
	)
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(NotifyChannel); err != nil {
		return errors.Wrap(err, "listening to database notifications")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-listener.Notify:
			if !ok {
				return nil
			}
			if n == nil {
				for _, topic := range Topics {
					pub.Publish(topic, "")
				}
				continue
			}
			var msg notification
			if err := json.Unmarshal([]byte(n.Extra), &msg); err != nil {
				logger.Warn("decoding database notification", errors.Wrap(err, n.Extra))
				continue
			}
			pub.Publish(msg.Topic, msg.Key)
		case <-time.After(90 * time.Second):
			go func() { _ = listener.Ping() }()
		}
	}
}
