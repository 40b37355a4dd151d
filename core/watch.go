package core

import (
	"context"
)

type (
	// Publisher announces that the record identified by key changed on topic.
	// An empty key means any record of the topic may have changed.
	Publisher interface {
		Publish(topic, key string)
	}

	// Notifier delivers the keys of records changed on topic until the returned cancel func is called.
	Notifier interface {
		Subscribe(topic string) (<-chan string, func())
	}

	// Snapshot is one observation of a watched record.
	// Found is false when the record does not exist; Err is set when it could not be read.
	Snapshot[T any] struct {
		Value T
		Found bool
		Err   error
	}

	// LoadFunc reads the current state of a watched record.
	LoadFunc[T any] func(ctx context.Context) (T, error)
)

// Watch streams snapshots of the record `key` on `topic`: one immediately, then one after every change notification.
// The stream ends when ctx is done or cancel is called; cancel must always be called by the consumer.
// A load returning ErrNotFound produces a snapshot with Found == false; any other error is carried in Snapshot.Err.
func Watch[T any](ctx context.Context, notifier Notifier, topic, key string, load LoadFunc[T]) (<-chan Snapshot[T], func()) {
	ctx, cancel := context.WithCancel(ctx)
	keys, unsubscribe := notifier.Subscribe(topic)
	out := make(chan Snapshot[T], 1)

	go func() {
		defer close(out)
		defer unsubscribe()

		send := func() bool {
			var snap Snapshot[T]
			val, err := load(ctx)
			switch {
			case err == nil:
				snap = Snapshot[T]{Value: val, Found: true}
			case IsNotFound(err):
				snap = Snapshot[T]{}
			default:
				snap = Snapshot[T]{Err: err}
			}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case k, ok := <-keys:
				if !ok {
					return
				}
				if key != "" && k != "" && k != key {
					continue
				}
				if !send() {
					return
				}
			}
		}
	}()

	return out, cancel
}
