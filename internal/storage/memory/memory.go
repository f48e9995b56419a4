// Package memory implements an in-process key-value device shared by several
// handles, each handle playing the role of one execution context. Writes made
// through one handle are reported to the watchers of every other handle, the
// way a browser reports storage events to other tabs only.
package memory

import (
	"context"
	"sync"

	"github.com/ucasvieira/locadora/internal/storage"
)

// Device is the shared store.
type Device struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[*watcher]struct{}
}

// NewDevice returns an empty device.
func NewDevice() *Device {
	return &Device{data: map[string]string{}, watchers: map[*watcher]struct{}{}}
}

// Open returns a handle that stamps its writes with origin.
func (d *Device) Open(origin string) *Handle { return &Handle{d: d, origin: origin} }

// Handle is one context's view of the device.
type Handle struct {
	d      *Device
	origin string
}

var _ storage.Backend = (*Handle)(nil)

// Origin returns the context ID of this handle.
func (h *Handle) Origin() string { return h.origin }

// Get returns the value under key.
func (h *Handle) Get(_ context.Context, key string) (string, bool, error) {
	h.d.mu.RLock()
	defer h.d.mu.RUnlock()
	v, ok := h.d.data[key]
	return v, ok, nil
}

// Set stores value under key and notifies other handles.
func (h *Handle) Set(_ context.Context, key, value string) error {
	h.d.mu.Lock()
	h.d.data[key] = value
	h.d.mu.Unlock()
	h.d.broadcast(storage.Change{Key: key, Value: value, Origin: h.origin})
	return nil
}

// Remove deletes key and notifies other handles if it existed.
func (h *Handle) Remove(_ context.Context, key string) error {
	h.d.mu.Lock()
	_, existed := h.d.data[key]
	delete(h.d.data, key)
	h.d.mu.Unlock()
	if existed {
		h.d.broadcast(storage.Change{Key: key, Removed: true, Origin: h.origin})
	}
	return nil
}

// Watch streams changes written through other handles until ctx is done.
func (h *Handle) Watch(ctx context.Context) (<-chan storage.Change, error) {
	w := &watcher{origin: h.origin, signal: make(chan struct{}, 1)}
	h.d.mu.Lock()
	h.d.watchers[w] = struct{}{}
	h.d.mu.Unlock()

	out := make(chan storage.Change)
	go func() {
		defer close(out)
		defer func() {
			h.d.mu.Lock()
			delete(h.d.watchers, w)
			h.d.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}
			for _, ch := range w.drain() {
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the device outlives its handles.
func (h *Handle) Close() error { return nil }

func (d *Device) broadcast(ch storage.Change) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for w := range d.watchers {
		if w.origin == ch.Origin {
			continue
		}
		w.push(ch)
	}
}

// watcher queues changes without bound so a slow reader never blocks writers
// and never loses a change.
type watcher struct {
	origin  string
	mu      sync.Mutex
	pending []storage.Change
	signal  chan struct{}
}

func (w *watcher) push(ch storage.Change) {
	w.mu.Lock()
	w.pending = append(w.pending, ch)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) drain() []storage.Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = nil
	return out
}
