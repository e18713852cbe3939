package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/testutil"
)

var serverNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestMemory() *Memory {
	return NewMemory(
		WithIDs(testutil.NewSequentialIDs("doc")),
		WithNow(func() time.Time { return serverNow }),
	)
}

func TestMemory_CreateResolvesServerTime(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	id, err := m.Create(ctx, "categories", model.Fields{"title": "Drinks", "syncedAt": ServerTime()})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	got, ok := m.Get("categories", id)
	require.True(t, ok)
	assert.Equal(t, "Drinks", got["title"])
	assert.Equal(t, serverNow, got["syncedAt"])

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.True(t, IsServerTime(calls[0].Fields["syncedAt"]), "recorded call keeps the placeholder")
}

func TestMemory_UpdateMergesFields(t *testing.T) {
	m := newTestMemory()
	m.Seed("menuItems", model.Document{ID: "m1", Fields: model.Fields{"name": "Tea", "price": int64(200)}})

	err := m.Update(context.Background(), "menuItems", "m1", model.Fields{"price": int64(250)})
	require.NoError(t, err)

	got, _ := m.Get("menuItems", "m1")
	assert.Equal(t, model.Fields{"name": "Tea", "price": int64(250)}, got)
}

func TestMemory_UpdateMissingDocument(t *testing.T) {
	m := newTestMemory()
	err := m.Update(context.Background(), "tables", "nope", model.Fields{"seats": 2})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_GetAllFiltersAndKeepsOrder(t *testing.T) {
	m := newTestMemory()
	m.Seed("orders",
		model.Document{ID: "o2", Fields: model.Fields{"status": "ready"}},
		model.Document{ID: "o1", Fields: model.Fields{"status": "pending"}},
		model.Document{ID: "o3", Fields: model.Fields{"status": "ready"}},
	)

	all, err := m.GetAll(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "o2", all[0].ID)

	ready, err := m.GetAll(context.Background(), "orders", Where("status", "ready"))
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "o3", ready[1].ID)

	empty, err := m.GetAll(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemory_FailWith(t *testing.T) {
	m := newTestMemory()
	boom := errors.New("unavailable")
	m.FailWith(func(c Call) error {
		if c.Op == OpCreate && c.Collection == "tables" {
			return boom
		}
		return nil
	})

	_, err := m.Create(context.Background(), "tables", model.Fields{"number": 1})
	assert.ErrorIs(t, err, boom)
	_, err = m.Create(context.Background(), "categories", model.Fields{"title": "x"})
	assert.NoError(t, err)

	assert.Empty(t, m.Docs("tables"))
	assert.Len(t, m.Calls(), 2)
}

func TestMemory_LatencyHonoursContext(t *testing.T) {
	m := newTestMemory()
	m.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Create(ctx, "orders", model.Fields{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.Docs("orders"))
}

func TestServerTimestamp_JSON(t *testing.T) {
	data, err := json.Marshal(model.Fields{"updatedAt": ServerTime()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"updatedAt":{".sv":"timestamp"}}`, string(data))
}

func TestSplitServerTime(t *testing.T) {
	plain, server := SplitServerTime(model.Fields{"deleted": true, "updatedAt": ServerTime()})
	assert.Equal(t, model.Fields{"deleted": true}, plain)
	assert.Equal(t, []string{"updatedAt"}, server)
}
