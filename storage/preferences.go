package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetValue returns the value stored under key, or "" when the key has never
// been written.
func (s *Store) GetValue(key string) (string, error) {
	pref, err := s.GetPreference(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pref.Value, nil
}

// GetPreference returns the stored row for key or ErrNotFound.
func (s *Store) GetPreference(key string) (*Preference, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("preference key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	pref := Preference{Key: key}
	err := s.db.QueryRow(
		`SELECT pref_value, updated_at FROM preferences WHERE pref_key = ?`,
		key,
	).Scan(&pref.Value, &pref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference %q: %w", key, err)
	}
	return &pref, nil
}

// SetValue inserts or replaces the value stored under key.
func (s *Store) SetValue(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("preference key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`INSERT INTO preferences (pref_key, pref_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(pref_key) DO UPDATE SET
		  pref_value = excluded.pref_value,
		  updated_at = excluded.updated_at`,
		key,
		value,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}
