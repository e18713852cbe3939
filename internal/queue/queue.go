// Package queue implements the durable mutation queue.
//
// Two independent ordered lists are kept in the local medium: customer order
// submissions and administrative actions. Both are append-only from the
// caller's point of view; entries leave a list only through Clear or
// through Remove after a replay pass has attempted them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/store"
)

// Medium keys holding the two queues.
const (
	OrdersKey  = "queue/orders"
	ActionsKey = "queue/actions"
)

// ErrCorrupt is returned when a stored queue cannot be parsed. The stored
// text is never overwritten implicitly once this happens.
var ErrCorrupt = errors.New("queue: stored entries are malformed")

// Snapshot is a point-in-time, non-destructive copy of both queues.
type Snapshot struct {
	Orders  []model.OrderSubmission
	Actions []model.AdminAction
}

// Len returns the number of entries across both queues.
func (s Snapshot) Len() int {
	return len(s.Orders) + len(s.Actions)
}

// Newest returns the highest timestamp across both queues, or 0 when empty.
func (s Snapshot) Newest() int64 {
	var newest int64
	for _, o := range s.Orders {
		newest = max(newest, o.Timestamp)
	}
	for _, a := range s.Actions {
		newest = max(newest, a.Timestamp)
	}
	return newest
}

// Counts reports how many entries are pending in each queue.
type Counts struct {
	Orders  int `json:"orders"`
	Actions int `json:"actions"`
}

// Total returns the number of pending entries.
func (c Counts) Total() int {
	return c.Orders + c.Actions
}

// Queue is the dual mutation queue.
type Queue struct {
	medium store.Medium
	clock  Clock
	ids    model.IDGenerator
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the timestamp source. Defaults to a MonotonicClock.
func WithClock(c Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithIDGenerator sets the entry id source. Defaults to UUIDv7.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(q *Queue) {
		q.ids = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates a queue over the given medium.
func New(medium store.Medium, opts ...Option) *Queue {
	q := &Queue{
		medium: medium,
		clock:  NewMonotonicClock(),
		ids:    model.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ResumeClock returns a MonotonicClock over time.Now that never returns
// less than the newest timestamp already persisted in medium, so entries
// enqueued after a restart sort after the ones still pending even if the
// wall clock stepped back while the process was down.
func ResumeClock(ctx context.Context, medium store.Medium) (*MonotonicClock, error) {
	snap, err := (&Queue{medium: medium}).DrainSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return NewMonotonicClockAt(snap.Newest(), time.Now), nil
}

// EnqueueOrder appends an order submission stamped with the current time.
func (q *Queue) EnqueueOrder(ctx context.Context, payload model.OrderPayload) (model.OrderSubmission, error) {
	var sub model.OrderSubmission
	err := q.push(ctx, OrdersKey, func(ts int64) (json.RawMessage, error) {
		sub = model.OrderSubmission{ID: q.ids.Generate(), Payload: payload, Timestamp: ts}
		return json.Marshal(sub)
	})
	if err != nil {
		return model.OrderSubmission{}, fmt.Errorf("enqueue order: %w", err)
	}
	q.logger.Debug("enqueued order", "entry_id", sub.ID, "timestamp", sub.Timestamp)
	return sub, nil
}

// EnqueueAction appends an admin action stamped with the current time.
func (q *Queue) EnqueueAction(ctx context.Context, action model.Action) (model.AdminAction, error) {
	if action == nil {
		return model.AdminAction{}, fmt.Errorf("enqueue action: nil action")
	}
	var act model.AdminAction
	err := q.push(ctx, ActionsKey, func(ts int64) (json.RawMessage, error) {
		act = model.AdminAction{ID: q.ids.Generate(), Action: action, Timestamp: ts}
		return json.Marshal(act)
	})
	if err != nil {
		return model.AdminAction{}, fmt.Errorf("enqueue %s: %w", action.Kind(), err)
	}
	q.logger.Debug("enqueued action", "entry_id", act.ID, "kind", action.Kind(), "timestamp", act.Timestamp)
	return act, nil
}

// DrainSnapshot returns both queues without removing anything.
func (q *Queue) DrainSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := load(ctx, q.medium, OrdersKey, &snap.Orders); err != nil {
		return Snapshot{}, err
	}
	if err := load(ctx, q.medium, ActionsKey, &snap.Actions); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Len reports the pending counts.
func (q *Queue) Len(ctx context.Context) (Counts, error) {
	snap, err := q.DrainSnapshot(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Orders: len(snap.Orders), Actions: len(snap.Actions)}, nil
}

// Clear empties both queues. Clearing empty queues is a no-op.
func (q *Queue) Clear(ctx context.Context) error {
	for _, key := range []string{OrdersKey, ActionsKey} {
		if err := q.medium.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	q.logger.Debug("cleared queues")
	return nil
}

// Remove deletes the entries with the given ids from both queues and
// returns how many were removed. Unknown ids are ignored.
func (q *Queue) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	removed := 0
	for _, key := range []string{OrdersKey, ActionsKey} {
		err := q.medium.Update(ctx, key, func(cur string, ok bool) (string, error) {
			list, err := decodeRaw(key, cur, ok)
			if err != nil {
				return "", err
			}
			kept := list[:0]
			for _, raw := range list {
				var head struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(raw, &head); err != nil {
					return "", fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
				}
				if _, hit := drop[head.ID]; hit {
					removed++
					continue
				}
				kept = append(kept, raw)
			}
			return encodeRaw(kept)
		})
		if err != nil {
			return removed, fmt.Errorf("remove from %s: %w", key, err)
		}
	}
	q.logger.Debug("removed entries", "requested", len(ids), "removed", removed)
	return removed, nil
}

// push appends one entry to the list under key. The entry's timestamp is
// the clock reading clamped to the newest entry already in the list.
func (q *Queue) push(ctx context.Context, key string, build func(ts int64) (json.RawMessage, error)) error {
	return q.medium.Update(ctx, key, func(cur string, ok bool) (string, error) {
		list, err := decodeRaw(key, cur, ok)
		if err != nil {
			return "", err
		}
		ts := q.clock.NowMillis()
		if n := len(list); n > 0 {
			var last struct {
				Timestamp int64 `json:"timestamp"`
			}
			if err := json.Unmarshal(list[n-1], &last); err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
			}
			if last.Timestamp > ts {
				ts = last.Timestamp
			}
		}
		item, err := build(ts)
		if err != nil {
			return "", err
		}
		return encodeRaw(append(list, item))
	})
}

func load(ctx context.Context, m store.Medium, key string, dst any) error {
	text, ok, err := m.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || text == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(text), dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func decodeRaw(key, text string, ok bool) ([]json.RawMessage, error) {
	if !ok || text == "" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return list, nil
}

func encodeRaw(list []json.RawMessage) (string, error) {
	if list == nil {
		list = []json.RawMessage{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
