// Package replay drains the mutation queue against the remote store.
//
// A pass takes a non-destructive snapshot of both queues, merges them into
// one timeline ordered by enqueue timestamp, and applies every entry
// exactly once, in order, without stopping at failures. Each attempt
// produces a SyncLogRecord; the batch goes to the audit log and the
// truncation policy then decides which attempted entries leave the queue.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/tablesync/internal/audit"
	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/remote"
)

// DefaultEntryTimeout bounds each remote call unless configured otherwise.
const DefaultEntryTimeout = 30 * time.Second

// QueueSource is the part of the mutation queue a pass needs.
type QueueSource interface {
	DrainSnapshot(ctx context.Context) (queue.Snapshot, error)
	Remove(ctx context.Context, ids []string) (int, error)
}

// Result is the outcome of one pass.
type Result struct {
	PassID  string
	Records []model.SyncLogRecord

	// Removed is how many attempted entries were truncated from the queue.
	Removed int

	// AuditErr is set when the audit append failed. It never affects truncation.
	AuditErr error

	// TruncateErr is set when removing entries from the queue failed.
	TruncateErr error
}

// Failed returns the number of error records.
func (r *Result) Failed() int {
	n := 0
	for _, rec := range r.Records {
		if !rec.Succeeded() {
			n++
		}
	}
	return n
}

// AllSucceeded reports whether every attempted entry was applied.
// An empty pass counts as success.
func (r *Result) AllSucceeded() bool {
	return r.Failed() == 0
}

// Engine runs replay passes.
//
// An Engine is not safe for concurrent passes; callers serialize Pass
// (the sync orchestrator does this with its single-flight guard).
type Engine struct {
	queue        QueueSource
	remote       remote.Store
	audit        audit.Log
	policy       TruncationPolicy
	entryTimeout time.Duration
	clock        queue.Clock
	ids          model.IDGenerator
	accountID    string
	deviceID     string
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAudit sets the audit sink. Defaults to audit.Discard.
func WithAudit(l audit.Log) Option {
	return func(e *Engine) { e.audit = l }
}

// WithTruncation sets the truncation policy. Defaults to AllOrNothing.
func WithTruncation(p TruncationPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithEntryTimeout bounds each remote call. Non-positive values keep the default.
func WithEntryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.entryTimeout = d
		}
	}
}

// WithClock sets the source of record timestamps.
func WithClock(c queue.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the pass id source.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithAccount sets the account and device the audit batches are filed under.
func WithAccount(accountID, deviceID string) Option {
	return func(e *Engine) {
		e.accountID = accountID
		e.deviceID = deviceID
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a replay engine.
func New(q QueueSource, rs remote.Store, opts ...Option) *Engine {
	e := &Engine{
		queue:        q,
		remote:       rs,
		audit:        audit.Discard{},
		policy:       AllOrNothing,
		entryTimeout: DefaultEntryTimeout,
		clock:        queue.NewMonotonicClock(),
		ids:          model.UUIDv7Generator{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge tags both queues' entries and orders them by timestamp. The sort
// is stable over orders-then-actions, so equal timestamps keep orders first
// and each queue's own order.
func Merge(snap queue.Snapshot) []model.Entry {
	entries := make([]model.Entry, 0, snap.Len())
	for _, o := range snap.Orders {
		entries = append(entries, model.OrderEntry(o))
	}
	for _, a := range snap.Actions {
		entries = append(entries, model.ActionEntry(a))
	}
	slices.SortStableFunc(entries, func(a, b model.Entry) int {
		switch {
		case a.Timestamp() < b.Timestamp():
			return -1
		case a.Timestamp() > b.Timestamp():
			return 1
		}
		return 0
	})
	return entries
}

// Pass runs one replay pass. The only error it returns is a failure to
// read the queue; per-entry, audit and truncation failures are reported
// in the Result.
func (e *Engine) Pass(ctx context.Context) (*Result, error) {
	snap, err := e.queue.DrainSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: read queue: %w", err)
	}

	res := &Result{PassID: e.ids.Generate()}
	entries := Merge(snap)
	if len(entries) == 0 {
		e.logger.Debug("replay pass: queue empty", "pass_id", res.PassID)
		return res, nil
	}

	e.logger.Info("replay pass started", "pass_id", res.PassID, "entries", len(entries))
	res.Records = make([]model.SyncLogRecord, 0, len(entries))
	for _, entry := range entries {
		rec := model.SyncLogRecord{Entry: entry, Status: model.StatusSuccess}
		if err := e.attempt(ctx, entry); err != nil {
			rec.Status = model.StatusError
			rec.Error = err.Error()
			e.logger.Warn("replay entry failed", "pass_id", res.PassID, "entry_id", entry.ID(), "kind", entry.Label(), "error", err)
		} else {
			e.logger.Debug("replay entry applied", "pass_id", res.PassID, "entry_id", entry.ID(), "kind", entry.Label())
		}
		rec.Timestamp = e.clock.NowMillis()
		res.Records = append(res.Records, rec)
	}

	batch := audit.Batch{
		PassID:    res.PassID,
		AccountID: e.accountID,
		DeviceID:  e.deviceID,
		Records:   res.Records,
		SyncedAt:  time.UnixMilli(e.clock.NowMillis()).UTC(),
	}
	auditCtx, cancel := context.WithTimeout(ctx, e.entryTimeout)
	err = e.audit.Append(auditCtx, batch)
	cancel()
	if err != nil {
		res.AuditErr = err
		e.logger.Error("audit append failed", "pass_id", res.PassID, "error", err)
	}

	e.truncate(ctx, res)

	e.logger.Info("replay pass finished",
		"pass_id", res.PassID,
		"entries", len(res.Records),
		"failed", res.Failed(),
		"removed", res.Removed,
	)
	return res, nil
}

func (e *Engine) truncate(ctx context.Context, res *Result) {
	ids := e.policy.removable(res.Records)
	if len(ids) == 0 {
		return
	}
	n, err := e.queue.Remove(ctx, ids)
	res.Removed = n
	if err != nil {
		res.TruncateErr = err
		e.logger.Error("queue truncation failed", "pass_id", res.PassID, "error", err)
	}
}

type outcome struct {
	err error
}

// attempt applies one entry under the per-entry timeout. A collaborator
// that ignores cancellation is abandoned once the timeout fires.
func (e *Engine) attempt(ctx context.Context, entry model.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, e.entryTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: newPanicError(entry.ID(), entry.Label(), r)}
			}
		}()
		done <- outcome{err: e.apply(ctx, entry)}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == context.DeadlineExceeded {
			return newTimeoutError(entry.ID(), entry.Label(), e.entryTimeout)
		}
		return out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return newTimeoutError(entry.ID(), entry.Label(), e.entryTimeout)
		}
		return newRemoteError(entry.ID(), entry.Label(), ctx.Err())
	}
}

// apply maps one entry onto remote store calls.
func (e *Engine) apply(ctx context.Context, entry model.Entry) error {
	switch {
	case entry.Order != nil:
		o := entry.Order
		return e.create(ctx, entry, model.CollectionOrders, o.Payload.Fields(), o.Timestamp)
	case entry.Admin != nil:
		return e.applyAction(ctx, entry)
	default:
		return newInvalidPayloadError(entry.ID(), entry.Label(), "entry carries no mutation", nil)
	}
}

func (e *Engine) applyAction(ctx context.Context, entry model.Entry) error {
	ts := entry.Admin.Timestamp
	switch a := entry.Admin.Action.(type) {
	case model.CreateMenuItem:
		return e.create(ctx, entry, model.CollectionMenuItems, a.MenuItemFields.Fields(), ts)
	case model.UpdateMenuItem:
		return e.update(ctx, entry, model.CollectionMenuItems, a.Patch)
	case model.DeleteMenuItem:
		return e.softDelete(ctx, entry, model.CollectionMenuItems, a.ID)
	case model.CreateCategory:
		return e.create(ctx, entry, model.CollectionCategories, a.CategoryFields.Fields(), ts)
	case model.UpdateCategory:
		return e.update(ctx, entry, model.CollectionCategories, a.Patch)
	case model.DeleteCategory:
		return e.softDelete(ctx, entry, model.CollectionCategories, a.ID)
	case model.CreateTable:
		return e.create(ctx, entry, model.CollectionTables, a.TableFields.Fields(), ts)
	case model.UpdateTable:
		return e.update(ctx, entry, model.CollectionTables, a.Patch)
	case model.DeleteTable:
		return e.softDelete(ctx, entry, model.CollectionTables, a.ID)
	case model.UpdateOrderStatus:
		if a.ID == "" {
			return newInvalidPayloadError(entry.ID(), entry.Label(), "missing order id", nil)
		}
		fields := model.Fields{
			model.FieldStatus:    string(a.Status),
			model.FieldUpdatedAt: remote.ServerTime(),
		}
		return e.remoteErr(entry, e.remote.Update(ctx, model.CollectionOrders, a.ID, fields))
	case model.UnknownAction:
		if a.DecodeErr != nil {
			return newInvalidPayloadError(entry.ID(), entry.Label(), "payload does not decode", a.DecodeErr)
		}
		return newUnknownActionError(entry.ID(), entry.Label())
	default:
		return newUnknownActionError(entry.ID(), entry.Label())
	}
}

// create writes a new document stamped with the entry's original time.
func (e *Engine) create(ctx context.Context, entry model.Entry, collection string, fields model.Fields, ts int64) error {
	fields = fields.With(model.FieldCreatedAt, time.UnixMilli(ts).UTC())
	_, err := e.remote.Create(ctx, collection, fields)
	return e.remoteErr(entry, err)
}

// update merges the patch data and a fresh server updatedAt.
func (e *Engine) update(ctx context.Context, entry model.Entry, collection string, p model.Patch) error {
	if p.ID == "" {
		return newInvalidPayloadError(entry.ID(), entry.Label(), "missing document id", nil)
	}
	fields := model.Fields{}
	if p.Data != nil {
		fields = p.Data.Clone()
	}
	fields[model.FieldUpdatedAt] = remote.ServerTime()
	return e.remoteErr(entry, e.remote.Update(ctx, collection, p.ID, fields))
}

// softDelete marks the document deleted; documents are never removed.
func (e *Engine) softDelete(ctx context.Context, entry model.Entry, collection, id string) error {
	if id == "" {
		return newInvalidPayloadError(entry.ID(), entry.Label(), "missing document id", nil)
	}
	fields := model.Fields{
		model.FieldDeleted:   true,
		model.FieldUpdatedAt: remote.ServerTime(),
	}
	return e.remoteErr(entry, e.remote.Update(ctx, collection, id, fields))
}

func (e *Engine) remoteErr(entry model.Entry, err error) error {
	if err == nil {
		return nil
	}
	return newRemoteError(entry.ID(), entry.Label(), err)
}
