package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/store"
)

func seeded() *remote.Memory {
	rs := remote.NewMemory()
	rs.Seed(model.CollectionCategories, model.Document{ID: "c1", Fields: model.Fields{"title": "Drinks"}})
	rs.Seed(model.CollectionMenuItems, model.Document{ID: "m1", Fields: model.Fields{"name": "Tea", "price": int64(200)}})
	rs.Seed(model.CollectionTables, model.Document{ID: "t1", Fields: model.Fields{"number": int64(1)}})
	rs.Seed(model.CollectionOrders, model.Document{ID: "o1", Fields: model.Fields{"total": int64(1200)}})
	return rs
}

func TestRefreshAll_WritesEveryCollection(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	s := New(m, seeded())

	report := s.RefreshAll(ctx)
	require.NoError(t, report.Err())
	require.Len(t, report.Results, 4)
	for _, res := range report.Results {
		assert.Equal(t, 1, res.Count, res.Name)
		assert.True(t, res.Changed, res.Name)
		assert.Len(t, res.Digest, 64)
	}

	text, ok, err := m.Get(ctx, Key(model.CollectionMenuItems))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"id":"m1","name":"Tea","price":200}]`, text)

	items := s.Read(ctx, model.CollectionMenuItems)
	require.Len(t, items, 1)
	assert.Equal(t, "m1", items[0].ID)
	assert.Equal(t, float64(200), items[0].Fields["price"])
}

func TestRefreshAll_UnchangedContentIsNotRewritten(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemory(), seeded())

	first := s.RefreshAll(ctx)
	second := s.RefreshAll(ctx)
	for i := range second.Results {
		assert.False(t, second.Results[i].Changed)
		assert.Equal(t, first.Results[i].Digest, second.Results[i].Digest)
	}
}

func TestRefreshAll_FailureIsolatedToCollection(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	rs := seeded()
	s := New(m, rs)
	require.NoError(t, s.RefreshAll(ctx).Err())

	rs.Seed(model.CollectionCategories, model.Document{ID: "c2", Fields: model.Fields{"title": "Food"}})
	rs.Seed(model.CollectionTables, model.Document{ID: "t2", Fields: model.Fields{"number": int64(2)}})
	rs.FailWith(func(c remote.Call) error {
		if c.Collection == model.CollectionOrders {
			return errors.New("orders unavailable")
		}
		return nil
	})

	report := s.RefreshAll(ctx)
	assert.Equal(t, []string{model.CollectionOrders}, report.Failed())
	assert.ErrorContains(t, report.Err(), "orders unavailable")

	// Collections before and after the failing one were refreshed.
	assert.Len(t, s.Read(ctx, model.CollectionCategories), 2)
	assert.Len(t, s.Read(ctx, model.CollectionTables), 2)
	// The failing collection keeps its previous copy.
	orders := s.Read(ctx, model.CollectionOrders)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)
}

func TestRefreshAll_QuotaExceededIsPerCollection(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetMaxValueBytes(100)
	rs := seeded()
	rs.Seed(model.CollectionMenuItems, model.Document{ID: "m2", Fields: model.Fields{"description": strings.Repeat("x", 200)}})
	s := New(m, rs)

	report := s.RefreshAll(ctx)
	assert.Equal(t, []string{model.CollectionMenuItems}, report.Failed())
	assert.ErrorIs(t, report.Err(), store.ErrValueTooLarge)

	assert.Empty(t, s.Read(ctx, model.CollectionMenuItems))
	assert.Len(t, s.Read(ctx, model.CollectionOrders), 1)
}

func TestRead_NeverFails(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	s := New(m, remote.NewMemory())

	missing := s.Read(ctx, model.CollectionTables)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)

	require.NoError(t, m.Set(ctx, Key(model.CollectionTables), "not json"))
	assert.Empty(t, s.Read(ctx, model.CollectionTables))

	require.NoError(t, m.Set(ctx, Key(model.CollectionTables), `[{"number":1}]`))
	assert.Empty(t, s.Read(ctx, model.CollectionTables), "documents without id are malformed")

	require.NoError(t, m.Set(ctx, Key(model.CollectionTables), `null`))
	assert.Empty(t, s.Read(ctx, model.CollectionTables))
}

func TestWithCollections_FiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemory()
	rs.Seed(model.CollectionOrders,
		model.Document{ID: "o1", Fields: model.Fields{"status": "paid"}},
		model.Document{ID: "o2", Fields: model.Fields{"status": "pending"}},
	)
	s := New(store.NewMemory(), rs, WithCollections(
		Collection{Name: model.CollectionOrders, Filters: []remote.Filter{remote.Where("status", "pending")}},
	))

	assert.Equal(t, []string{model.CollectionOrders}, s.Names())
	require.NoError(t, s.RefreshAll(ctx).Err())
	orders := s.Read(ctx, model.CollectionOrders)
	require.Len(t, orders, 1)
	assert.Equal(t, "o2", orders[0].ID)
}

func TestList_ReportsCachedCollections(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	s := New(m, seeded(), WithCollections(Collections(model.CollectionTables, model.CollectionCategories)...))

	cached, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached)

	require.NoError(t, s.RefreshAll(ctx).Err())
	require.NoError(t, m.Set(ctx, "queue/orders", "[]"))

	cached, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 2, "only cache keys are listed")
	assert.Equal(t, model.CollectionCategories, cached[0].Name)
	assert.Equal(t, model.CollectionTables, cached[1].Name)
	assert.Equal(t, len(`[{"id":"t1","number":1}]`), cached[1].Bytes)
	assert.False(t, cached[1].UpdatedAt.IsZero())
}
