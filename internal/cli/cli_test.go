package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validOrder = `{"items":[{"menuItemId":"m1","quantity":2,"price":450}],"total":900}`

// env is one on-disk database shared across command invocations.
type env struct {
	t  *testing.T
	db string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{t: t, db: filepath.Join(t.TempDir(), "tablesync.db")}
}

// run executes the root command with args plus the database and remote
// flags, and returns stdout.
func (e *env) run(args ...string) (string, error) {
	return e.runContext(context.Background(), args...)
}

func (e *env) runContext(ctx context.Context, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--db", e.db, "--remote", "memory"))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "tablesync", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"order", "action", "queue", "sync", "cache", "status", "run", "shell", "test"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"verbose", "format", "config", "db", "remote"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("queue", "list", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestOrder_QueuedAndListed(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("order", "--payload", validOrder)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ queued order ")

	_, err = e.run("action", "createCategory", "--payload", `{"title":"Drinks"}`)
	require.NoError(t, err)

	out, err = e.run("queue", "list", "--format", "json")
	require.NoError(t, err)

	var view QueueView
	decodeData(t, out, &view)
	assert.Equal(t, 1, view.Orders)
	assert.Equal(t, 1, view.Actions)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "order", view.Entries[0].Kind, "entries are listed in enqueue order")
	assert.Equal(t, "createCategory", view.Entries[1].Kind)
	assert.Less(t, view.Entries[0].Timestamp, view.Entries[1].Timestamp)
}

func TestOrder_FromFile(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(t.TempDir(), "order.json")
	require.NoError(t, os.WriteFile(path, []byte(validOrder), 0644))

	out, err := e.run("order", "--file", path, "--format", "json")
	require.NoError(t, err)

	var view EnqueuedView
	decodeData(t, out, &view)
	assert.Equal(t, "order", view.Kind)
	assert.Equal(t, "orders", string(view.Queue))
	assert.NotEmpty(t, view.ID)
}

func TestOrder_FromStdin(t *testing.T) {
	e := newEnv(t)
	cmd := NewRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetIn(strings.NewReader(validOrder))
	cmd.SetArgs([]string{"order", "--file", "-", "--db", e.db, "--remote", "memory"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "✓ queued order ")
}

func TestOrder_InvalidPayload(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("order", "--payload", `{"items":[],"total":-1}`, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidPayload, resp.Error.Code)

	out, err = e.run("queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "Queue is empty.\n", out, "rejected payloads are never queued")
}

func TestOrder_RequiresPayloadSource(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("order")
	require.Error(t, err)

	_, err = e.run("order", "--payload", validOrder, "--file", "x.json")
	require.Error(t, err)
}

func TestAction_UnknownKind(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("action", "refundOrder", "--payload", `{"id":"o1"}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]: invalid payload")
}

func TestQueueClear_Idempotent(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("order", "--payload", validOrder)
	require.NoError(t, err)

	out, err := e.run("queue", "clear")
	require.NoError(t, err)
	assert.Equal(t, "✓ queue cleared\n", out)

	out, err = e.run("queue", "clear", "--format", "json")
	require.NoError(t, err)
	var data map[string]bool
	decodeData(t, out, &data)
	assert.True(t, data["cleared"])

	out, err = e.run("queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "Queue is empty.\n", out)
}

func TestSync_OfflineReplaysQueue(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("action", "createCategory", "--payload", `{"title":"Drinks"}`)
	require.NoError(t, err)

	out, err := e.run("sync", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ createCategory ")
	assert.NotContains(t, out, "refresh", "offline passes skip the cache refresh")
	assert.Contains(t, out, "Sync Summary: 1 replayed, 0 failed, 1 removed")

	out, err = e.run("queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "Queue is empty.\n", out)
}

func TestSync_FailedEntryKeepsQueue(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("action", "deleteTable", "--payload", `{"id":"t-missing"}`)
	require.NoError(t, err)

	out, err := e.run("sync", "--offline", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var view SyncView
	decodeData(t, out, &view)
	require.Len(t, view.Records, 1)
	assert.Equal(t, 1, view.Failed)
	assert.Zero(t, view.Removed)
	assert.Contains(t, view.Records[0].Error, "REMOTE_FAILURE")
	assert.Equal(t, 1, view.State.Pending.Actions)
	assert.Nil(t, view.State.LastSync)
}

func TestSync_EmptyQueue(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("sync", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync Summary: 0 replayed, 0 failed, 0 removed")
}

func TestStatus_ReportsLastSync(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("status", "--format", "json")
	require.NoError(t, err)
	var before map[string]any
	decodeData(t, out, &before)
	assert.Nil(t, before["lastSyncTimestamp"])

	_, err = e.run("order", "--payload", validOrder)
	require.NoError(t, err)
	out, err = e.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:   1 orders, 0 actions")
	assert.Contains(t, out, "Last sync: never")

	_, err = e.run("sync", "--offline")
	require.NoError(t, err)

	out, err = e.run("status", "--format", "json")
	require.NoError(t, err)
	var after map[string]any
	decodeData(t, out, &after)
	assert.NotNil(t, after["lastSyncTimestamp"], "a successful pass persists the last sync time")
}

func TestCache_RefreshAndShow(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("cache", "show", "tables")
	require.NoError(t, err)
	assert.Equal(t, "No cached tables.\n", out)

	out, err = e.run("cache", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "tables: 0 docs")

	out, err = e.run("cache", "show", "tables", "--format", "json")
	require.NoError(t, err)
	var docs []map[string]any
	decodeData(t, out, &docs)
	assert.Empty(t, docs)
}

func TestCache_List(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("cache", "list")
	require.NoError(t, err)
	assert.Equal(t, "Cache is empty.\n", out)

	_, err = e.run("cache", "refresh")
	require.NoError(t, err)

	out, err = e.run("cache", "list", "--format", "json")
	require.NoError(t, err)
	var view struct {
		Collections []struct {
			Name  string `json:"name"`
			Bytes int    `json:"bytes"`
		} `json:"collections"`
	}
	decodeData(t, out, &view)
	var names []string
	for _, c := range view.Collections {
		names = append(names, c.Name)
		assert.Equal(t, 2, c.Bytes, "an empty collection is cached as []")
	}
	assert.Equal(t, []string{"categories", "menuItems", "orders", "tables"}, names)
}

func TestTest_ScenariosPass(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("test", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ cross_queue_ordering")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_FilterAndJSON(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("test", filepath.Join("..", "harness", "testdata", "scenarios"),
		"--filter", "partial_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)
}

func TestTest_UpdateWritesGoldenFiles(t *testing.T) {
	e := newEnv(t)
	golden := t.TempDir()

	out, err := e.run("test", filepath.Join("..", "harness", "testdata", "scenarios"),
		"--filter", "soft_delete_table", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "soft_delete_table.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "soft_delete_table.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_status
description: expects a failure that never happens
queue:
  - action: createCategory
    payload: {title: Drinks}
assertions:
  - type: statuses
    expect: [error]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_status.yaml"), []byte(scenario), 0644))

	e := newEnv(t)
	out, err := e.run("test", dir, "--golden", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_status")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTest_MissingDirectory(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	out, err := e.runContext(ctx, "run", "--offline", "--listen", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync orchestrator started")
}

func TestConfigFile_Required(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("queue", "list", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFile_Applied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablesync.yml")
	cfg := "replay:\n  truncation: per-entry\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	opts := &RootOptions{Config: path, DB: filepath.Join(t.TempDir(), "x.db"), Remote: "memory"}
	loaded, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, "per-entry", loaded.Replay.Truncation)
	assert.Equal(t, opts.DB, loaded.DB, "flags override the file")
}
