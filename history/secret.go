package history

import (
	"errors"
	"strings"
	"sync"
	"time"

	"crosscopy/models"
)

var (
	ErrEmptyPhrase = errors.New("history: phrase must not be empty")
	ErrNoWatcher   = errors.New("history: secret has no listener watcher")
)

// Secret is the client-side state for one shared phrase: the items exchanged
// under it (newest first), the last known listener count, and its watch loop.
type Secret struct {
	phrase string

	mu             sync.Mutex
	items          []models.DataItem
	listenersCount int

	watcher ListenerWatcher
	options WatchOptions

	watchMu sync.Mutex
	run     *watchRun
	// stopped is the last loop StopWatching cancelled. A later start waits for it.
	stopped *watchRun

	observers observerRegistry
}

// NewSecret creates a Secret for phrase and starts watching its listener count.
func NewSecret(phrase string, watcher ListenerWatcher, options WatchOptions) (*Secret, error) {
	if strings.TrimSpace(phrase) == "" {
		return nil, ErrEmptyPhrase
	}
	if watcher == nil {
		return nil, ErrNoWatcher
	}

	s := newDetachedSecret(phrase)
	s.attach(watcher, options)
	if err := s.StartWatching(); err != nil {
		return nil, err
	}
	return s, nil
}

// newDetachedSecret builds a Secret with no watcher. Decoded secrets start this
// way and are attached by the store before their loops start.
func newDetachedSecret(phrase string) *Secret {
	return &Secret{phrase: phrase}
}

func (s *Secret) attach(watcher ListenerWatcher, options WatchOptions) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.watcher = watcher
	s.options = options.withDefaults()
}

func (s *Secret) Phrase() string {
	return s.phrase
}

func (s *Secret) String() string {
	return s.phrase
}

// ListenersCount returns the most recent count reported by the server. It is
// zero until the first successful poll.
func (s *Secret) ListenersCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenersCount
}

// Items returns a copy of the exchanged items, newest first.
func (s *Secret) Items() []models.DataItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DataItem, len(s.items))
	copy(out, s.items)
	return out
}

// AddItem records item as the newest entry.
func (s *Secret) AddItem(item models.DataItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append([]models.DataItem{item}, s.items...)
}

// appendItem keeps document order when decoding.
func (s *Secret) appendItem(item models.DataItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, item)
}

// LatestID is the id of the newest item, or "" when there are none.
func (s *Secret) LatestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return ""
	}
	return s.items[0].ID
}

// LastModified is the date of the newest item, or the zero time when there are none.
func (s *Secret) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return time.Time{}
	}
	return s.items[0].Date
}

// Subscribe registers fn to be called after every successful listener count
// update. The returned function removes the subscription and is safe to call
// more than once, including from inside fn.
func (s *Secret) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	id := s.observers.add(fn)

	var once sync.Once
	return func() {
		once.Do(func() { s.observers.remove(id) })
	}
}

func (s *Secret) notify() {
	for _, fn := range s.observers.snapshot() {
		fn(s)
	}
}
