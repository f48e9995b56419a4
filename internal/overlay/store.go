package overlay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/idalloc"
	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/storage"
)

// Config describes one layered record set.
type Config[T any] struct {
	// Base is the immutable bundled record list.
	Base []T
	// OverridesKey holds the ordered override list.
	OverridesKey string
	// TombstonesKey holds the list of tombstoned base IDs.
	TombstonesKey string
	// ID extracts a record's identifier.
	ID func(T) string
	// WithID returns a copy of a record carrying the given identifier.
	WithID func(T, string) T
	// Topic is published after every mutation.
	Topic notify.Topic
}

// Store is the per-context handle on a layered record set. The effective
// view is cached and recomputed after invalidation; every mutation reads the
// layers fresh from the KV store and writes them back whole.
type Store[T any] struct {
	cfg Config[T]
	kv  storage.KV
	bus *notify.Bus
	log *zap.Logger

	baseIDs map[string]int

	mu      sync.Mutex
	cache   []T
	valid   bool
	pending []notify.Event
	cancel  func()
}

// New constructs a store. When bus is non-nil the layer keys are mapped to
// cfg.Topic and the cached view is invalidated by every event on it,
// including those bridged from other contexts.
func New[T any](cfg Config[T], kv storage.KV, bus *notify.Bus, log *zap.Logger) *Store[T] {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store[T]{
		cfg:     cfg,
		kv:      kv,
		bus:     bus,
		log:     log.With(zap.String("overrides", cfg.OverridesKey)),
		baseIDs: make(map[string]int, len(cfg.Base)),
	}
	for i, b := range cfg.Base {
		if _, dup := s.baseIDs[cfg.ID(b)]; !dup {
			s.baseIDs[cfg.ID(b)] = i
		}
	}
	if bus != nil {
		bus.MapKey(cfg.OverridesKey, cfg.Topic)
		bus.MapKey(cfg.TombstonesKey, cfg.Topic)
		s.cancel = bus.Subscribe(cfg.Topic, func(notify.Event) { s.Invalidate() })
	}
	return s
}

// Close detaches the store from the bus.
func (s *Store[T]) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Invalidate drops the cached view; the next read recomputes it.
func (s *Store[T]) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.cache = nil
	s.mu.Unlock()
}

type layers[T any] struct {
	overrides  []T
	tombstones []string
}

// load reads both layers. A missing or malformed layer is treated as empty.
// A failed backend read is returned, so that mutations never write back a
// list rebuilt from a layer they could not see.
func (s *Store[T]) load(ctx context.Context) (layers[T], error) {
	var (
		l   layers[T]
		err error
	)
	if l.overrides, err = readLayer[T](ctx, s.kv, s.cfg.OverridesKey, s.log); err != nil {
		return layers[T]{}, err
	}
	if s.cfg.TombstonesKey != "" {
		if l.tombstones, err = readLayer[string](ctx, s.kv, s.cfg.TombstonesKey, s.log); err != nil {
			return layers[T]{}, err
		}
	}
	return l, nil
}

func readLayer[E any](ctx context.Context, kv storage.KV, key string, log *zap.Logger) ([]E, error) {
	var out []E
	_, err := storage.ReadJSON(ctx, kv, key, &out)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errs.ErrStorageUnavailable):
		return nil, err
	}
	log.Warn("layer unreadable, treating as empty", zap.String("key", key), zap.Error(err))
	return nil, nil
}

func (s *Store[T]) merge(l layers[T]) []T {
	return Merge(s.cfg.Base, l.overrides, l.tombstones, s.cfg.ID)
}

// View returns the effective record list. It never fails: unreadable layers
// degrade to the base view.
func (s *Store[T]) View(ctx context.Context) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.viewLocked(ctx))
}

func (s *Store[T]) viewLocked(ctx context.Context) []T {
	if !s.valid {
		l, err := s.load(ctx)
		if err != nil {
			// not cached: the next read retries the backend
			s.log.Warn("layers unavailable, using base view", zap.Error(err))
			return s.merge(layers[T]{})
		}
		s.cache = s.merge(l)
		s.valid = true
	}
	return s.cache
}

// Get returns the visible record with id.
func (s *Store[T]) Get(ctx context.Context, id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.viewLocked(ctx) {
		if s.cfg.ID(r) == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Add assigns rec the next free ID, appends it to the override layer and
// returns the stored record. The ID is allocated over the view, the raw
// override list and every base ID, so it never shadows a tombstoned record.
func (s *Store[T]) Add(ctx context.Context, rec T) (T, error) {
	s.mu.Lock()
	defer s.unlock()

	l, err := s.load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	ids := make([]string, 0, len(s.baseIDs)+len(l.overrides))
	for id := range s.baseIDs {
		ids = append(ids, id)
	}
	for _, o := range l.overrides {
		ids = append(ids, s.cfg.ID(o))
	}
	rec = s.cfg.WithID(rec, idalloc.NextID(ids))

	if err := storage.WriteJSON(ctx, s.kv, s.cfg.OverridesKey, append(l.overrides, rec)); err != nil {
		var zero T
		return zero, err
	}
	s.changedLocked(s.cfg.OverridesKey)
	return rec, nil
}

// Update stores rec as the override for its ID: in place when one exists,
// appended otherwise (first edit of a base record). Editing a tombstoned base
// record brings it back; the tombstone is cleared first and reinstated when
// the override cannot be written. IDs unknown to both layers yield
// errs.ErrNotFound.
func (s *Store[T]) Update(ctx context.Context, rec T) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.unlock()

	id := s.cfg.ID(rec)
	l, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	idx := slices.IndexFunc(l.overrides, func(o T) bool { return s.cfg.ID(o) == id })
	_, isBase := s.baseIDs[id]
	if idx < 0 && !isBase {
		return zero, fmt.Errorf("%w: %s", errs.ErrNotFound, id)
	}

	t := slices.Index(l.tombstones, id)
	if t >= 0 {
		rest := slices.Delete(slices.Clone(l.tombstones), t, t+1)
		if err := storage.WriteJSON(ctx, s.kv, s.cfg.TombstonesKey, rest); err != nil {
			return zero, err
		}
	}

	overrides := slices.Clone(l.overrides)
	if idx >= 0 {
		overrides[idx] = rec
	} else {
		overrides = append(overrides, rec)
	}
	if err := storage.WriteJSON(ctx, s.kv, s.cfg.OverridesKey, overrides); err != nil {
		if t >= 0 {
			if rerr := storage.WriteJSON(ctx, s.kv, s.cfg.TombstonesKey, l.tombstones); rerr != nil {
				s.log.Error("tombstone rollback failed", zap.String("id", id), zap.Error(rerr))
				s.changedLocked(s.cfg.TombstonesKey)
			}
		}
		return zero, err
	}
	if t >= 0 {
		s.changedLocked(s.cfg.TombstonesKey)
	}
	s.changedLocked(s.cfg.OverridesKey)
	return rec, nil
}

// Remove deletes the record with id. An override is spliced out and its last
// value returned; otherwise a base record is tombstoned and its original
// value returned. ok is false when id is known to neither layer.
func (s *Store[T]) Remove(ctx context.Context, id string) (removed T, ok bool, err error) {
	s.mu.Lock()
	defer s.unlock()

	l, err := s.load(ctx)
	if err != nil {
		return removed, false, err
	}
	if idx := slices.IndexFunc(l.overrides, func(o T) bool { return s.cfg.ID(o) == id }); idx >= 0 {
		removed = l.overrides[idx]
		rest := slices.Delete(slices.Clone(l.overrides), idx, idx+1)
		if err := storage.WriteJSON(ctx, s.kv, s.cfg.OverridesKey, rest); err != nil {
			var zero T
			return zero, false, err
		}
		s.changedLocked(s.cfg.OverridesKey)
		return removed, true, nil
	}

	bi, isBase := s.baseIDs[id]
	if !isBase || s.cfg.TombstonesKey == "" {
		return removed, false, nil
	}
	removed = s.cfg.Base[bi]
	if slices.Contains(l.tombstones, id) {
		return removed, true, nil
	}
	if err := storage.WriteJSON(ctx, s.kv, s.cfg.TombstonesKey, append(l.tombstones, id)); err != nil {
		var zero T
		return zero, false, err
	}
	s.changedLocked(s.cfg.TombstonesKey)
	return removed, true, nil
}

// Restore undoes a Remove. A tombstoned base record reappears in its
// original form regardless of rec's other fields; a record absent from both
// the view and the override layer is re-inserted as given. Restoring a
// visible record is a no-op.
func (s *Store[T]) Restore(ctx context.Context, rec T) error {
	id := s.cfg.ID(rec)
	if id == "" {
		return fmt.Errorf("%w: restore without id", errs.ErrValidation)
	}

	s.mu.Lock()
	defer s.unlock()

	l, err := s.load(ctx)
	if err != nil {
		return err
	}
	if t := slices.Index(l.tombstones, id); t >= 0 {
		if err := storage.WriteJSON(ctx, s.kv, s.cfg.TombstonesKey, slices.Delete(l.tombstones, t, t+1)); err != nil {
			return err
		}
		s.changedLocked(s.cfg.TombstonesKey)
		return nil
	}
	if slices.ContainsFunc(l.overrides, func(o T) bool { return s.cfg.ID(o) == id }) {
		return nil
	}
	if _, isBase := s.baseIDs[id]; isBase {
		return nil
	}
	if err := storage.WriteJSON(ctx, s.kv, s.cfg.OverridesKey, append(l.overrides, rec)); err != nil {
		return err
	}
	s.changedLocked(s.cfg.OverridesKey)
	return nil
}

// changedLocked drops the cache and queues an event for unlock.
func (s *Store[T]) changedLocked(key string) {
	s.valid = false
	s.cache = nil
	s.pending = append(s.pending, notify.Event{Topic: s.cfg.Topic, Key: key})
}

// unlock releases s.mu and then publishes queued events, so that
// subscribers (this store's own Invalidate included) may take the lock.
func (s *Store[T]) unlock() {
	evs := s.pending
	s.pending = nil
	s.mu.Unlock()
	if s.bus == nil {
		return
	}
	for _, ev := range evs {
		s.bus.Publish(ev)
	}
}
