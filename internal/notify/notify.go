// Package notify is the in-process change notifier. Mutating operations
// publish on it directly; changes written by other execution contexts reach
// it through Bridge.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/storage"
)

// Topic names a logical record set.
type Topic string

const (
	TopicMovies  Topic = "movies"
	TopicUsers   Topic = "users"
	TopicSession Topic = "session"
	TopicRentals Topic = "rentals"
)

// TopicAll subscribes to every topic.
const TopicAll Topic = "*"

// Event is a "data changed" signal. It carries no payload; subscribers
// recompute from the store.
type Event struct {
	Topic  Topic  `json:"topic"`
	Key    string `json:"key,omitempty"`
	Origin string `json:"origin,omitempty"`
	// Remote is set for changes made by another execution context.
	Remote bool `json:"remote"`
}

// TopicForKey maps a persisted key to the topic its change belongs to.
func TopicForKey(key string) (Topic, bool) {
	switch key {
	case storage.KeyMovieOverrides, storage.KeyMovieTombstones:
		return TopicMovies, true
	case storage.KeyCredentials:
		return TopicUsers, true
	case storage.KeySession:
		return TopicSession, true
	case storage.KeyRentals:
		return TopicRentals, true
	}
	return "", false
}

// Bus delivers events to subscribers synchronously, in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Topic][]subscription
	keys map[string]Topic
	log  *zap.Logger
}

type subscription struct {
	id int
	fn func(Event)
}

// NewBus constructs an empty bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[Topic][]subscription), keys: make(map[string]Topic), log: log}
}

// MapKey routes changes of a persisted key to topic. Mappings take
// precedence over TopicForKey; an empty key is ignored.
func (b *Bus) MapKey(key string, topic Topic) {
	if key == "" {
		return
	}
	b.mu.Lock()
	b.keys[key] = topic
	b.mu.Unlock()
}

// TopicFor resolves the topic of a persisted key, consulting keys mapped
// with MapKey before the built-in ones.
func (b *Bus) TopicFor(key string) (Topic, bool) {
	b.mu.RLock()
	t, ok := b.keys[key]
	b.mu.RUnlock()
	if ok {
		return t, true
	}
	return TopicForKey(key)
}

// Subscribe registers fn for topic (or TopicAll) and returns a function that
// cancels the subscription. Cancel is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, fn func(Event)) (cancel func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to the subscribers of ev.Topic and of TopicAll.
// A panicking subscriber is logged and does not stop delivery.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[ev.Topic])+len(b.subs[TopicAll]))
	targets = append(targets, b.subs[ev.Topic]...)
	targets = append(targets, b.subs[TopicAll]...)
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panic", zap.String("topic", string(ev.Topic)), zap.Any("panic", r))
		}
	}()
	s.fn(ev)
}
