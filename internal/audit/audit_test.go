package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/testutil"
)

func sampleBatch() Batch {
	return Batch{
		PassID:    "pass-1",
		AccountID: "acct-1",
		DeviceID:  "till.front",
		Records: []model.SyncLogRecord{
			{
				Entry:     model.ActionEntry(model.AdminAction{ID: "a1", Action: model.DeleteTable{Removal: model.Removal{ID: "t1"}}, Timestamp: 10}),
				Status:    model.StatusSuccess,
				Timestamp: 20,
			},
			{
				Entry:     model.ActionEntry(model.AdminAction{ID: "a2", Action: model.DeleteTable{Removal: model.Removal{ID: "t2"}}, Timestamp: 11}),
				Status:    model.StatusError,
				Error:     "remote: document not found",
				Timestamp: 21,
			},
		},
	}
}

func TestRemoteLog_AppendsOneDocumentPerBatch(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := remote.NewMemory(
		remote.WithIDs(testutil.NewSequentialIDs("log")),
		remote.WithNow(func() time.Time { return now }),
	)

	require.NoError(t, NewRemoteLog(store).Append(context.Background(), sampleBatch()))

	docs := store.Docs(model.CollectionSyncLogs)
	require.Len(t, docs, 1)
	f := docs[0].Fields
	assert.Equal(t, "acct-1", f["accountId"])
	assert.Equal(t, "till.front", f["deviceId"])
	assert.Equal(t, "pass-1", f["passId"])
	assert.Equal(t, int64(2), f["count"])
	assert.Equal(t, int64(1), f["failed"])
	assert.Equal(t, now, f["syncedAt"])
	assert.Nil(t, f["deviceSyncedAt"], "unstamped batches carry only the server time")

	records, ok := f["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 2)
	second := records[1].(map[string]any)
	assert.Equal(t, "error", second["status"])
	assert.Equal(t, "a2", second["entry"].(map[string]any)["id"])
}

func TestRemoteLog_PropagatesStoreError(t *testing.T) {
	store := remote.NewMemory()
	store.FailWith(func(remote.Call) error { return errors.New("offline") })

	err := NewRemoteLog(store).Append(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass-1")
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return &jetstream.PubAck{Stream: "SYNCLOG", Sequence: uint64(len(f.subjects))}, nil
}

func TestNATSLog_PublishesOnSanitizedSubject(t *testing.T) {
	pub := &fakePublisher{}
	l := NewNATSLog(pub, "")

	require.NoError(t, l.Append(context.Background(), sampleBatch()))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "tablesync.synclog.acct-1.till_front", pub.subjects[0])
	assert.Contains(t, string(pub.payloads[0]), `"passId":"pass-1"`)
}

func TestNATSLog_CarriesSyncTime(t *testing.T) {
	pub := &fakePublisher{}
	l := NewNATSLog(pub, "")
	synced := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	batch := sampleBatch()
	batch.SyncedAt = synced
	require.NoError(t, l.Append(context.Background(), batch))

	var got Batch
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.True(t, synced.Equal(got.SyncedAt))
}

func TestNATSLog_StampsUnstampedBatch(t *testing.T) {
	pub := &fakePublisher{}
	l := NewNATSLog(pub, "")
	publishedAt := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return publishedAt }

	require.NoError(t, l.Append(context.Background(), sampleBatch()))

	var got Batch
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.True(t, publishedAt.Equal(got.SyncedAt))
}

func TestRemoteLog_KeepsDeviceSyncTime(t *testing.T) {
	store := remote.NewMemory()
	synced := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	batch := sampleBatch()
	batch.SyncedAt = synced

	require.NoError(t, NewRemoteLog(store).Append(context.Background(), batch))

	docs := store.Docs(model.CollectionSyncLogs)
	require.Len(t, docs, 1)
	assert.Equal(t, synced, docs[0].Fields["deviceSyncedAt"])
}

func TestNATSLog_Subject(t *testing.T) {
	l := NewNATSLog(&fakePublisher{}, "audit")
	assert.Equal(t, "audit._.dev_1", l.Subject("", "dev*1"))
}

func TestMulti_AttemptsEverySink(t *testing.T) {
	failing := &fakePublisher{err: errors.New("no stream")}
	ok := &fakePublisher{}
	m := Multi{NewNATSLog(failing, ""), NewNATSLog(ok, "")}

	err := m.Append(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stream")
	assert.Len(t, ok.subjects, 1)

	assert.NoError(t, Multi{Discard{}}.Append(context.Background(), sampleBatch()))
}
