// Package snapshot keeps a local, point-in-time copy of remote collections.
//
// Each collection is stored as one canonical JSON array under
// cache/<name>. A refresh replaces the array wholesale; there is no
// field-level merge and no atomicity across collections. Reads never fail:
// absent or unreadable data reads as an empty collection.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/store"
)

const keyPrefix = "cache/"

// Key returns the medium key holding collection.
func Key(collection string) string {
	return keyPrefix + collection
}

// Collection is one remote collection mirrored locally.
type Collection struct {
	Name    string
	Filters []remote.Filter
}

// Collections builds unfiltered Collection values from names.
func Collections(names ...string) []Collection {
	out := make([]Collection, len(names))
	for i, n := range names {
		out[i] = Collection{Name: n}
	}
	return out
}

// Result is the outcome of refreshing one collection.
type Result struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Digest  string `json:"digest,omitempty"`
	Changed bool   `json:"changed"`
	Err     error  `json:"-"`
}

// Report is the outcome of RefreshAll, one Result per collection in order.
type Report struct {
	Results []Result `json:"results"`
}

// Err joins the per-collection errors, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Failed returns the names of collections that were not refreshed.
func (r Report) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if res.Err != nil {
			names = append(names, res.Name)
		}
	}
	return names
}

// Store is the local snapshot store.
type Store struct {
	medium      store.Medium
	remote      remote.Store
	collections []Collection
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCollections sets the mirrored collections, in refresh order.
func WithCollections(c ...Collection) Option {
	return func(s *Store) {
		s.collections = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a snapshot store. By default it mirrors
// model.DefaultSnapshotCollections.
func New(medium store.Medium, rs remote.Store, opts ...Option) *Store {
	s := &Store{
		medium:      medium,
		remote:      rs,
		collections: Collections(model.DefaultSnapshotCollections...),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Names returns the mirrored collection names in refresh order.
func (s *Store) Names() []string {
	names := make([]string, len(s.collections))
	for i, c := range s.collections {
		names[i] = c.Name
	}
	return names
}

// Cached describes one collection present in the local snapshot.
type Cached struct {
	Name      string    `json:"name"`
	Bytes     int       `json:"bytes"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List returns every cached collection, ordered by name. It includes
// collections written under an earlier configuration.
func (s *Store) List(ctx context.Context) ([]Cached, error) {
	items, err := s.medium.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list cached collections: %w", err)
	}
	out := make([]Cached, len(items))
	for i, it := range items {
		out[i] = Cached{Name: strings.TrimPrefix(it.Key, keyPrefix), Bytes: it.Size, UpdatedAt: it.UpdatedAt}
	}
	return out, nil
}

// RefreshAll refreshes every collection in order. A failure affects only
// its own collection: it is logged, reported, and the next collection is
// still attempted. Collections already written stay written.
func (s *Store) RefreshAll(ctx context.Context) Report {
	report := Report{Results: make([]Result, 0, len(s.collections))}
	for _, c := range s.collections {
		res := s.Refresh(ctx, c)
		if res.Err != nil {
			s.logger.Warn("snapshot refresh failed", "collection", c.Name, "error", res.Err)
		} else {
			s.logger.Debug("snapshot refreshed", "collection", c.Name, "count", res.Count, "changed", res.Changed)
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// Refresh fetches one collection and overwrites its local copy. Identical
// content is not rewritten.
func (s *Store) Refresh(ctx context.Context, c Collection) Result {
	res := Result{Name: c.Name}

	docs, err := s.remote.GetAll(ctx, c.Name, c.Filters...)
	if err != nil {
		res.Err = fmt.Errorf("fetch: %w", err)
		return res
	}
	if docs == nil {
		docs = []model.Document{}
	}
	text, err := model.MarshalCanonical(docs)
	if err != nil {
		res.Err = fmt.Errorf("encode: %w", err)
		return res
	}
	res.Count = len(docs)
	res.Digest = model.Digest(model.DomainSnapshot, text)

	key := Key(c.Name)
	if prev, ok, err := s.medium.Get(ctx, key); err == nil && ok && prev == string(text) {
		return res
	}
	if err := s.medium.Set(ctx, key, string(text)); err != nil {
		res.Err = fmt.Errorf("write: %w", err)
		return res
	}
	res.Changed = true
	return res
}

// Read returns the cached documents of collection. It never fails: missing
// or malformed data yields an empty slice.
func (s *Store) Read(ctx context.Context, collection string) []model.Document {
	text, ok, err := s.medium.Get(ctx, Key(collection))
	if err != nil {
		s.logger.Warn("snapshot read failed", "collection", collection, "error", err)
		return []model.Document{}
	}
	if !ok || text == "" {
		return []model.Document{}
	}
	var docs []model.Document
	if err := json.Unmarshal([]byte(text), &docs); err != nil {
		s.logger.Warn("snapshot is malformed", "collection", collection, "error", err)
		return []model.Document{}
	}
	if docs == nil {
		return []model.Document{}
	}
	return docs
}
