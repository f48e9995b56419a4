package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/storage"
)

// Bridge forwards changes made by other execution contexts from w onto bus
// until ctx is done. Keys are resolved with bus.TopicFor; keys that belong
// to no topic are dropped.
// It returns once the watch is established.
func Bridge(ctx context.Context, w storage.Watcher, bus *Bus, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for c := range changes {
			topic, ok := bus.TopicFor(c.Key)
			if !ok {
				continue
			}
			log.Debug("remote change", zap.String("key", c.Key), zap.String("origin", c.Origin), zap.Bool("removed", c.Removed))
			bus.Publish(Event{Topic: topic, Key: c.Key, Origin: c.Origin, Remote: true})
		}
	}()
	return nil
}
