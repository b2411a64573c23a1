package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested key does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("storage: store is closed")
)

// Preference is one stored key/value pair.
type Preference struct {
	Key       string
	Value     string
	UpdatedAt int64
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
