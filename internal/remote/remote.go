// Package remote defines the remote document store the sync engine
// reconciles against, plus an in-memory implementation.
//
// Backends live in subpackages: mongostore (MongoDB) and httpstore (REST).
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/tablesync/internal/model"
)

// ErrNotFound is returned by Update when the target document does not exist.
var ErrNotFound = errors.New("remote: document not found")

// Store is the remote document store.
//
// Fields may contain ServerTime() values; backends replace them with the
// time at which the server applied the write.
type Store interface {
	// Create adds a new document and returns its server-assigned id.
	Create(ctx context.Context, collection string, fields model.Fields) (string, error)

	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields model.Fields) error

	// GetAll returns every document in collection matching all filters.
	GetAll(ctx context.Context, collection string, filters ...Filter) ([]model.Document, error)
}

// Filter restricts GetAll to documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// ServerTimestamp is the placeholder for a server-assigned write time.
type ServerTimestamp struct{}

// MarshalJSON encodes the placeholder the way REST document stores expect it.
func (ServerTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`{".sv":"timestamp"}`), nil
}

// ServerTime returns the server timestamp placeholder.
func ServerTime() any {
	return ServerTimestamp{}
}

// IsServerTime reports whether v is the server timestamp placeholder.
func IsServerTime(v any) bool {
	_, ok := v.(ServerTimestamp)
	return ok
}

// SplitServerTime separates placeholder fields from concrete ones.
func SplitServerTime(fields model.Fields) (plain model.Fields, server []string) {
	plain = make(model.Fields, len(fields))
	for k, v := range fields {
		if IsServerTime(v) {
			server = append(server, k)
			continue
		}
		plain[k] = v
	}
	return plain, server
}

// ResolveServerTime returns a copy of fields with every placeholder
// replaced by now.
func ResolveServerTime(fields model.Fields, now time.Time) model.Fields {
	out := make(model.Fields, len(fields))
	for k, v := range fields {
		if IsServerTime(v) {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}
