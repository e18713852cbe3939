package replay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/audit"
	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/testutil"
)

var serverNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	medium *store.Memory
	queue  *queue.Queue
	remote *remote.Memory
	audit  *recordingLog
}

func newFixture(t *testing.T, clock queue.Clock) *fixture {
	t.Helper()
	m := store.NewMemory()
	return &fixture{
		medium: m,
		queue:  queue.New(m, queue.WithClock(clock), queue.WithIDGenerator(testutil.NewSequentialIDs("e"))),
		remote: remote.NewMemory(
			remote.WithIDs(testutil.NewSequentialIDs("doc")),
			remote.WithNow(func() time.Time { return serverNow }),
		),
		audit: &recordingLog{},
	}
}

func (f *fixture) engine(opts ...Option) *Engine {
	base := []Option{
		WithAudit(f.audit),
		WithClock(testutil.NewDeterministicClock(1000, 1)),
		WithIDGenerator(testutil.NewSequentialIDs("pass")),
		WithAccount("acct-1", "dev-1"),
	}
	return New(f.queue, f.remote, append(base, opts...)...)
}

type recordingLog struct {
	mu      sync.Mutex
	batches []audit.Batch
	err     error
}

func (l *recordingLog) Append(_ context.Context, b audit.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, b)
	return l.err
}

func statuses(records []model.SyncLogRecord) []model.SyncStatus {
	out := make([]model.SyncStatus, len(records))
	for i, r := range records {
		out[i] = r.Status
	}
	return out
}

func entryIDs(records []model.SyncLogRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Entry.ID()
	}
	return out
}

func TestPass_AppliesInTimestampOrderAcrossQueues(t *testing.T) {
	// Order at t=100, category at t=50: the category must land first.
	f := newFixture(t, testutil.NewScriptedClock(100, 50))
	ctx := context.Background()

	_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{
		Items: []model.OrderItem{{MenuItemID: "m1", Quantity: 2, Price: 600}},
		Total: 1200,
	})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.CreateCategory{CategoryFields: model.CategoryFields{Title: "Drinks"}})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"e-2", "e-1"}, entryIDs(res.Records))
	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, model.CollectionCategories, calls[0].Collection)
	assert.Equal(t, model.CollectionOrders, calls[1].Collection)
}

func TestPass_CreateStampsOriginalTimestamp(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedClock(50))
	ctx := context.Background()

	_, err := f.queue.EnqueueAction(ctx, model.CreateCategory{CategoryFields: model.CategoryFields{Title: "Drinks"}})
	require.NoError(t, err)

	_, err = f.engine().Pass(ctx)
	require.NoError(t, err)

	doc, ok := f.remote.Get(model.CollectionCategories, "doc-1")
	require.True(t, ok)
	assert.Equal(t, "Drinks", doc["title"])
	assert.Equal(t, time.UnixMilli(50).UTC(), doc[model.FieldCreatedAt])
}

func TestPass_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	f.remote.Seed(model.CollectionCategories,
		model.Document{ID: "c1", Fields: model.Fields{"title": "Food"}},
		model.Document{ID: "c3", Fields: model.Fields{"title": "Dessert"}},
	)

	for _, id := range []string{"c1", "c-missing", "c3"} {
		_, err := f.queue.EnqueueAction(ctx, model.UpdateCategory{Patch: model.Patch{ID: id, Data: model.Fields{"order": int64(1)}}})
		require.NoError(t, err)
	}

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, []model.SyncStatus{model.StatusSuccess, model.StatusError, model.StatusSuccess}, statuses(res.Records))
	assert.Equal(t,
		"REMOTE_FAILURE: updateCategory failed: categories/c-missing: remote: document not found (entry=e-2)",
		res.Records[1].Error)
	assert.False(t, res.AllSucceeded())
	assert.Equal(t, 1, res.Failed())

	// All three entries stay queued under the default policy.
	counts, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Actions)
	assert.Zero(t, res.Removed)
}

func TestPass_AllSucceededEmptiesQueue(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()

	_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{Total: 500})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.CreateTable{TableFields: model.TableFields{Number: 4, Seats: 2}})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	assert.Equal(t, 2, res.Removed)

	counts, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())
}

func TestPass_PerEntryTruncationKeepsOnlyFailures(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	f.remote.Seed(model.CollectionTables, model.Document{ID: "t1", Fields: model.Fields{"number": int64(1)}})

	_, err := f.queue.EnqueueAction(ctx, model.DeleteTable{Removal: model.Removal{ID: "t1"}})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.DeleteTable{Removal: model.Removal{ID: "t-gone"}})
	require.NoError(t, err)

	res, err := f.engine(WithTruncation(PerEntry)).Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)

	snap, err := f.queue.DrainSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Actions, 1)
	assert.Equal(t, "e-2", snap.Actions[0].ID)
}

func TestPass_SoftDeleteKeepsDocument(t *testing.T) {
	cases := []struct {
		name       string
		collection string
		action     model.Action
	}{
		{"menu item", model.CollectionMenuItems, model.DeleteMenuItem{Removal: model.Removal{ID: "x1"}}},
		{"category", model.CollectionCategories, model.DeleteCategory{Removal: model.Removal{ID: "x1"}}},
		{"table", model.CollectionTables, model.DeleteTable{Removal: model.Removal{ID: "x1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testutil.NewDeterministicClock(10, 10))
			ctx := context.Background()
			f.remote.Seed(tc.collection, model.Document{ID: "x1", Fields: model.Fields{"name": "keep me"}})

			_, err := f.queue.EnqueueAction(ctx, tc.action)
			require.NoError(t, err)

			res, err := f.engine().Pass(ctx)
			require.NoError(t, err)
			require.True(t, res.AllSucceeded())

			doc, ok := f.remote.Get(tc.collection, "x1")
			require.True(t, ok, "document must survive a delete")
			assert.Equal(t, true, doc[model.FieldDeleted])
			assert.Equal(t, serverNow, doc[model.FieldUpdatedAt])
			assert.Equal(t, "keep me", doc["name"])
		})
	}
}

func TestPass_UpdateOrderStatusWritesOnlyStatus(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	f.remote.Seed(model.CollectionOrders, model.Document{ID: "o1", Fields: model.Fields{"total": int64(900), "status": "pending"}})

	_, err := f.queue.EnqueueAction(ctx, model.UpdateOrderStatus{ID: "o1", Status: model.OrderReady})
	require.NoError(t, err)

	_, err = f.engine().Pass(ctx)
	require.NoError(t, err)

	calls := f.remote.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.Fields{
		model.FieldStatus:    "ready",
		model.FieldUpdatedAt: remote.ServerTime(),
	}, calls[0].Fields)

	doc, _ := f.remote.Get(model.CollectionOrders, "o1")
	assert.Equal(t, int64(900), doc["total"])
	assert.Equal(t, "ready", doc["status"])
}

func TestPass_UnknownActionFailsLoudly(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()

	_, err := f.queue.EnqueueAction(ctx, model.UnknownAction{Type: "refundOrder", Payload: json.RawMessage(`{"id":"o1"}`)})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.CreateCategory{CategoryFields: model.CategoryFields{Title: "Soups"}})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, `UNKNOWN_ACTION: unrecognised action type "refundOrder" (entry=e-1)`, res.Records[0].Error)
	assert.Equal(t, model.StatusSuccess, res.Records[1].Status)
	assert.Len(t, f.remote.Calls(), 1, "unknown action must not reach the remote store")
}

func TestPass_MalformedPayloadIsInvalid(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	require.NoError(t, f.medium.Set(ctx, queue.ActionsKey,
		`[{"queue":"actions","id":"bad","type":"updateTable","payload":"nope","timestamp":5}]`))

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, model.StatusError, res.Records[0].Status)
	assert.Contains(t, res.Records[0].Error, "INVALID_PAYLOAD: updateTable: payload does not decode")
	assert.Empty(t, f.remote.Calls())
}

func TestPass_MissingIDIsInvalid(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()

	_, err := f.queue.EnqueueAction(ctx, model.UpdateMenuItem{Patch: model.Patch{Data: model.Fields{"price": int64(100)}}})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_PAYLOAD: updateMenuItem: missing document id (entry=e-1)", res.Records[0].Error)
}

func TestPass_EntryTimeout(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	f.remote.Seed(model.CollectionTables,
		model.Document{ID: "slow", Fields: model.Fields{}},
		model.Document{ID: "fast", Fields: model.Fields{}},
	)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.remote.FailWith(func(c remote.Call) error {
		if c.ID == "slow" {
			<-release // ignores cancellation
		}
		return nil
	})

	_, err := f.queue.EnqueueAction(ctx, model.DeleteTable{Removal: model.Removal{ID: "slow"}})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.DeleteTable{Removal: model.Removal{ID: "fast"}})
	require.NoError(t, err)

	res, err := f.engine(WithEntryTimeout(20 * time.Millisecond)).Pass(ctx)
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "TIMEOUT: deleteTable exceeded 20ms (entry=e-1)", res.Records[0].Error)
	assert.Equal(t, model.StatusSuccess, res.Records[1].Status)
}

func TestPass_PanicIsRecorded(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	f.remote.FailWith(func(c remote.Call) error {
		if c.Collection == model.CollectionOrders {
			panic("driver exploded")
		}
		return nil
	})

	_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{Total: 100})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.CreateTable{TableFields: model.TableFields{Number: 9}})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "PANIC: order panicked: driver exploded (entry=e-1)", res.Records[0].Error)
	assert.Equal(t, model.StatusSuccess, res.Records[1].Status)
}

func TestPass_AuditBatch(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()

	_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{Total: 100})
	require.NoError(t, err)
	_, err = f.queue.EnqueueAction(ctx, model.UpdateTable{Patch: model.Patch{ID: "nope"}})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)

	require.Len(t, f.audit.batches, 1)
	b := f.audit.batches[0]
	assert.Equal(t, "pass-1", b.PassID)
	assert.Equal(t, "acct-1", b.AccountID)
	assert.Equal(t, "dev-1", b.DeviceID)
	assert.Equal(t, res.Records, b.Records)
	assert.Equal(t, 1, b.Failed())

	// Record timestamps come from the engine clock, one reading per record.
	assert.Equal(t, int64(1001), res.Records[0].Timestamp)
	assert.Equal(t, int64(1002), res.Records[1].Timestamp)
	assert.Equal(t, time.UnixMilli(1003).UTC(), b.SyncedAt, "the batch is stamped after the last record")
}

func TestPass_AuditFailureDoesNotBlockTruncation(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	f.audit.err = errors.New("audit offline")

	_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{Total: 100})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)
	assert.EqualError(t, res.AuditErr, "audit offline")
	assert.Equal(t, 1, res.Removed)
}

func TestPass_EmptyQueueSkipsAudit(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))

	res, err := f.engine().Pass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.True(t, res.AllSucceeded())
	assert.Empty(t, f.audit.batches)
	assert.Empty(t, f.remote.Calls())
}

func TestPass_EntryEnqueuedMidPassSurvives(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()

	var once sync.Once
	f.remote.FailWith(func(remote.Call) error {
		once.Do(func() {
			_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{Total: 999})
			assert.NoError(t, err)
		})
		return nil
	})

	_, err := f.queue.EnqueueOrder(ctx, model.OrderPayload{Total: 100})
	require.NoError(t, err)

	res, err := f.engine().Pass(ctx)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Removed)

	snap, err := f.queue.DrainSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, "e-2", snap.Orders[0].ID)
}

func TestPass_CorruptQueueIsAnError(t *testing.T) {
	f := newFixture(t, testutil.NewDeterministicClock(10, 10))
	ctx := context.Background()
	require.NoError(t, f.medium.Set(ctx, queue.OrdersKey, "{not a list"))

	_, err := f.engine().Pass(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrCorrupt)
	assert.Empty(t, f.remote.Calls())
}

func TestMerge_TiesKeepOrdersFirst(t *testing.T) {
	snap := queue.Snapshot{
		Orders: []model.OrderSubmission{{ID: "o1", Timestamp: 20}, {ID: "o2", Timestamp: 30}},
		Actions: []model.AdminAction{
			{ID: "a1", Action: model.DeleteTable{}, Timestamp: 10},
			{ID: "a2", Action: model.DeleteTable{}, Timestamp: 20},
		},
	}
	var got []string
	for _, e := range Merge(snap) {
		got = append(got, e.ID())
	}
	assert.Equal(t, []string{"a1", "o1", "a2", "o2"}, got)
}

func TestParseTruncationPolicy(t *testing.T) {
	p, err := ParseTruncationPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AllOrNothing, p)

	p, err = ParseTruncationPolicy("per-entry")
	require.NoError(t, err)
	assert.Equal(t, PerEntry, p)

	_, err = ParseTruncationPolicy("sometimes")
	assert.Error(t, err)
}

func TestReplayError_Helpers(t *testing.T) {
	err := newTimeoutError("e-1", "order", time.Second)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsRemoteFailure(err))

	wrapped := newRemoteError("e-2", "createTable", remote.ErrNotFound)
	assert.True(t, IsRemoteFailure(wrapped))
	assert.ErrorIs(t, wrapped, remote.ErrNotFound)
	assert.True(t, IsUnknownAction(newUnknownActionError("e-3", "refund")))
}
