package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/replay"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tablesync.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, RemoteMemory, cfg.Remote.Kind)
	assert.Equal(t, replay.DefaultEntryTimeout, cfg.Replay.EntryTimeout)
	assert.Equal(t, []string{"categories", "menuItems", "tables", "orders"}, cfg.Snapshot.Collections)
}

func TestLoad_MissingOptionalFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"), false)
	require.NoError(t, err)
	assert.Equal(t, "tablesync.db", cfg.DB)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"), true)
	assert.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/tablesync.db
account_id: bistro-7
remote:
  kind: mongo
  mongo:
    uri: mongodb://db:27017
replay:
  truncation: per-entry
  entry_timeout: 5s
snapshot:
  collections: [categories, menuItems]
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/tablesync.db", cfg.DB)
	assert.Equal(t, "bistro-7", cfg.AccountID)
	assert.Equal(t, RemoteMongo, cfg.Remote.Kind)
	assert.Equal(t, "mongodb://db:27017", cfg.Remote.Mongo.URI)
	assert.Equal(t, "tablesync", cfg.Remote.Mongo.Database, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Replay.EntryTimeout)
	assert.Equal(t, []string{"categories", "menuItems"}, cfg.Snapshot.Collections)

	p, err := cfg.TruncationPolicy()
	require.NoError(t, err)
	assert.Equal(t, replay.PerEntry, p)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "remote:\n  knd: mongo\n")
	_, err := Load(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "knd")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default().Remote, cfg.Remote)
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = RemoteMongo
	cfg.ApplyEnv(env(map[string]string{
		"TABLESYNC_REMOTE":     "rest",
		"TABLESYNC_BASE_URL":   "https://api.example.test",
		"TABLESYNC_TOKEN":      "s3cret",
		"TABLESYNC_NATS_URL":   "nats://localhost:4222",
		"TABLESYNC_TRUNCATION": "per-entry",
		"TABLESYNC_DEVICE_ID":  "",
	}))

	assert.Equal(t, RemoteREST, cfg.Remote.Kind)
	assert.Equal(t, "https://api.example.test", cfg.Remote.REST.BaseURL)
	assert.Equal(t, "s3cret", cfg.Remote.REST.Token)
	assert.Equal(t, "nats://localhost:4222", cfg.Audit.NATSURL)
	assert.Equal(t, "per-entry", cfg.Replay.Truncation)
	assert.NotEmpty(t, cfg.DeviceID, "empty variables are ignored")
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = "firebase"
	cfg.Replay.Truncation = "sometimes"
	cfg.Replay.EntryTimeout = 0
	cfg.Snapshot.Collections = nil

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"remote.kind", "replay.truncation", "replay.entry_timeout", "snapshot.collections"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_RESTNeedsBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = RemoteREST
	assert.ErrorContains(t, cfg.Validate(), "base_url")
}
