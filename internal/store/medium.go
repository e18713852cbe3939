package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxValueBytes is the per-key size ceiling applied when none is configured.
const DefaultMaxValueBytes = 5 << 20

// ErrValueTooLarge is returned when a value exceeds the per-key ceiling.
var ErrValueTooLarge = errors.New("value exceeds storage quota")

// Item describes a stored key without its value.
type Item struct {
	Key       string
	Size      int
	UpdatedAt time.Time
}

// UpdateFunc computes the new value for a key from its current value.
// ok is false when the key is absent.
type UpdateFunc func(current string, ok bool) (string, error)

// Medium is the durable local key/value store.
type Medium interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Update atomically replaces the value for key with fn's result.
	// If fn returns an error, nothing is written.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the items whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Item, error)
}

func checkSize(key, value string, limit int) error {
	if limit > 0 && len(value) > limit {
		return &QuotaError{Key: key, Size: len(value), Limit: limit}
	}
	return nil
}

// QuotaError reports a write rejected by the size ceiling.
// It matches ErrValueTooLarge with errors.Is.
type QuotaError struct {
	Key   string
	Size  int
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("store: %s: %d bytes exceeds %d-byte quota", e.Key, e.Size, e.Limit)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrValueTooLarge
}
