package history

import "sync"

// Observer is called synchronously after a successful listener count update.
type Observer func(*Secret)

type observerEntry struct {
	id uint64
	fn Observer
}

// observerRegistry keeps subscriptions in registration order. Dispatch works on a
// snapshot, so observers may subscribe or unsubscribe from inside a callback.
type observerRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	entries []observerEntry
}

func (r *observerRegistry) add(fn Observer) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.entries = append(r.entries, observerEntry{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *observerRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.entries {
		if entry.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *observerRegistry) snapshot() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Observer, len(r.entries))
	for i, entry := range r.entries {
		out[i] = entry.fn
	}
	return out
}

func (r *observerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
