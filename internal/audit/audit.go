// Package audit delivers sync log batches to their sinks.
//
// A batch is the full set of SyncLogRecords produced by one replay pass.
// Sinks are write-only: nothing here is ever read back by the engine.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
)

// Batch is the audit payload of one replay pass.
type Batch struct {
	PassID    string                `json:"passId"`
	AccountID string                `json:"accountId"`
	DeviceID  string                `json:"deviceId"`
	Records   []model.SyncLogRecord `json:"records"`

	// SyncedAt is when the pass finished, on the device clock.
	SyncedAt time.Time `json:"syncedAt"`
}

// Failed returns how many records in the batch are errors.
func (b Batch) Failed() int {
	n := 0
	for _, r := range b.Records {
		if !r.Succeeded() {
			n++
		}
	}
	return n
}

// Log is an append-only audit sink.
type Log interface {
	Append(ctx context.Context, batch Batch) error
}

// RemoteLog appends each batch as one document in the remote syncLogs
// collection. syncedAt is the server's write time; the device's own
// SyncedAt is kept as deviceSyncedAt.
type RemoteLog struct {
	store      remote.Store
	collection string
}

// NewRemoteLog creates a sink writing to the syncLogs collection of store.
func NewRemoteLog(store remote.Store) *RemoteLog {
	return &RemoteLog{store: store, collection: model.CollectionSyncLogs}
}

// Append implements Log with a single create.
func (l *RemoteLog) Append(ctx context.Context, batch Batch) error {
	records, err := toGeneric(batch.Records)
	if err != nil {
		return fmt.Errorf("audit: encode records: %w", err)
	}
	fields := model.Fields{
		"accountId": batch.AccountID,
		"deviceId":  batch.DeviceID,
		"passId":    batch.PassID,
		"records":   records,
		"count":     int64(len(batch.Records)),
		"failed":    int64(batch.Failed()),
		"syncedAt":  remote.ServerTime(),
	}
	if !batch.SyncedAt.IsZero() {
		fields["deviceSyncedAt"] = batch.SyncedAt.UTC()
	}
	if _, err := l.store.Create(ctx, l.collection, fields); err != nil {
		return fmt.Errorf("audit: append pass %s: %w", batch.PassID, err)
	}
	return nil
}

// Multi fans a batch out to several sinks. Every sink is attempted; the
// errors of those that failed are joined.
type Multi []Log

// Append implements Log.
func (m Multi) Append(ctx context.Context, batch Batch) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Log that drops every batch.
type Discard struct{}

// Append implements Log.
func (Discard) Append(context.Context, Batch) error { return nil }

func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
