package remote

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/tablesync/internal/model"
)

// Op names a Store method, for call recording and failure injection.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpGetAll Op = "getAll"
)

// Call is one recorded Store invocation.
type Call struct {
	Op         Op
	Collection string
	ID         string
	Fields     model.Fields
}

// Memory is an in-process Store. It records every call and can be told to
// fail, stall or panic on selected calls, which makes it the workhorse of
// the replay and orchestrator tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
	ids         model.IDGenerator
	now         func() time.Time
	latency     time.Duration
	fail        func(Call) error
	calls       []Call
}

type memoryCollection struct {
	order []string
	docs  map[string]model.Fields
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithIDs sets the document id source. Defaults to UUIDv7.
func WithIDs(g model.IDGenerator) MemoryOption {
	return func(m *Memory) { m.ids = g }
}

// WithNow sets the server clock used to resolve ServerTime placeholders.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithLatency delays every call by d, honouring context cancellation.
func WithLatency(d time.Duration) MemoryOption {
	return func(m *Memory) { m.latency = d }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		collections: make(map[string]*memoryCollection),
		ids:         model.UUIDv7Generator{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailWith installs a hook consulted before every call. A non-nil return
// fails the call with that error; the hook may also block or panic.
// Passing nil removes the hook.
func (m *Memory) FailWith(fn func(Call) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// SetLatency changes the per-call delay.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns a copy of every call made so far, in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Seed inserts documents directly, bypassing call recording.
func (m *Memory) Seed(collection string, docs ...model.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	for _, d := range docs {
		if _, exists := c.docs[d.ID]; !exists {
			c.order = append(c.order, d.ID)
		}
		c.docs[d.ID] = maps.Clone(d.Fields)
	}
}

// Get returns a copy of one document's fields.
func (m *Memory) Get(collection, id string) (model.Fields, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, false
	}
	f, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(f), true
}

// Docs returns every document in collection in insertion order.
func (m *Memory) Docs(collection string) []model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(collection, nil)
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, collection string, fields model.Fields) (string, error) {
	if err := m.before(ctx, Call{Op: OpCreate, Collection: collection, Fields: fields}); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.ids.Generate()
	c := m.collection(collection)
	c.order = append(c.order, id)
	c.docs[id] = ResolveServerTime(fields, m.now())
	return id, nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, collection, id string, fields model.Fields) error {
	if err := m.before(ctx, Call{Op: OpUpdate, Collection: collection, ID: id, Fields: fields}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	maps.Copy(doc, ResolveServerTime(fields, m.now()))
	return nil
}

// GetAll implements Store.
func (m *Memory) GetAll(ctx context.Context, collection string, filters ...Filter) ([]model.Document, error) {
	if err := m.before(ctx, Call{Op: OpGetAll, Collection: collection}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(collection, filters), nil
}

// before records the call, applies latency and consults the failure hook.
func (m *Memory) before(ctx context.Context, call Call) error {
	m.mu.Lock()
	if call.Fields != nil {
		call.Fields = maps.Clone(call.Fields)
	}
	m.calls = append(m.calls, call)
	latency, fail := m.latency, m.fail
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		return fail(call)
	}
	return nil
}

func (m *Memory) collection(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]model.Fields)}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) snapshot(collection string, filters []Filter) []model.Document {
	c, ok := m.collections[collection]
	if !ok {
		return []model.Document{}
	}
	out := make([]model.Document, 0, len(c.order))
	for _, id := range c.order {
		f := c.docs[id]
		if !matches(f, filters) {
			continue
		}
		out = append(out, model.Document{ID: id, Fields: maps.Clone(f)})
	}
	return out
}

func matches(fields model.Fields, filters []Filter) bool {
	for _, flt := range filters {
		if !reflect.DeepEqual(fields[flt.Field], flt.Value) {
			return false
		}
	}
	return true
}
