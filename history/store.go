package history

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultKey is the preference key the history document is stored under.
const DefaultKey = "history"

// KeyValueStore is the persistence backend for the history document.
// GetValue returns "" with a nil error when the key has never been written.
type KeyValueStore interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	Synchronize() error
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Key     string
	Watcher ListenerWatcher
	Watch   WatchOptions
}

func (c StoreConfig) withDefaults() StoreConfig {
	if strings.TrimSpace(c.Key) == "" {
		c.Key = DefaultKey
	}
	c.Watch = c.Watch.withDefaults()
	return c
}

// Store loads and saves a History under a single key.
type Store struct {
	kv  KeyValueStore
	cfg StoreConfig
}

func NewStore(kv KeyValueStore, cfg StoreConfig) (*Store, error) {
	if kv == nil {
		return nil, errors.New("history: key-value store is required")
	}
	if cfg.Watcher == nil {
		return nil, ErrNoWatcher
	}
	return &Store{kv: kv, cfg: cfg.withDefaults()}, nil
}

// Load reads the persisted History. A missing or empty value yields an empty
// History without decoding. Every loaded Secret starts watching before Load
// returns.
func (s *Store) Load() (*History, error) {
	raw, err := s.kv.GetValue(s.cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if raw == "" {
		return NewHistory(), nil
	}

	h, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	for _, secret := range h.Secrets {
		secret.attach(s.cfg.Watcher, s.cfg.Watch)
		if err := secret.StartWatching(); err != nil {
			<-h.StopAll()
			return nil, fmt.Errorf("start watching %q: %w", secret.phrase, err)
		}
	}
	s.cfg.Watch.Logger.Info("history loaded", "secrets", h.Len())
	return h, nil
}

// Save encodes h, writes it under the store key and flushes the backend.
func (s *Store) Save(h *History) error {
	doc, err := Encode(h)
	if err != nil {
		return err
	}
	if err := s.kv.SetValue(s.cfg.Key, doc); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := s.kv.Synchronize(); err != nil {
		return fmt.Errorf("synchronize history: %w", err)
	}
	return nil
}

// NewSecret creates a Secret using the store's watcher and options.
func (s *Store) NewSecret(phrase string) (*Secret, error) {
	return NewSecret(phrase, s.cfg.Watcher, s.cfg.Watch)
}
