package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is a volatile Medium. It applies the same size ceiling as SQLite.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	values   map[string]memoryValue
	maxBytes int
	now      func() time.Time
}

type memoryValue struct {
	value     string
	updatedAt time.Time
}

// NewMemory returns an empty in-memory medium with the default ceiling.
func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string]memoryValue),
		maxBytes: DefaultMaxValueBytes,
		now:      time.Now,
	}
}

// SetMaxValueBytes changes the per-key ceiling. Zero disables it.
func (m *Memory) SetMaxValueBytes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBytes = n
}

// Get implements Medium.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v.value, ok, nil
}

// Set implements Medium.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkSize(key, value, m.maxBytes); err != nil {
		return err
	}
	m.values[key] = memoryValue{value: value, updatedAt: m.now()}
	return nil
}

// Update implements Medium.
func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[key]
	next, err := fn(cur.value, ok)
	if err != nil {
		return err
	}
	if err := checkSize(key, next, m.maxBytes); err != nil {
		return err
	}
	m.values[key] = memoryValue{value: next, updatedAt: m.now()}
	return nil
}

// Delete implements Medium.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// List implements Medium.
func (m *Memory) List(_ context.Context, prefix string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []Item
	for k, v := range m.values {
		if strings.HasPrefix(k, prefix) {
			items = append(items, Item{Key: k, Size: len(v.value), UpdatedAt: v.updatedAt})
		}
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.Key, b.Key) })
	return items, nil
}
