// Package config loads tablesync settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, TABLESYNC_*
// environment variables, then command-line flags (applied by the CLI).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/replay"
)

// DefaultFile is read when no --config flag is given, if it exists.
const DefaultFile = "tablesync.yml"

// Remote backend kinds.
const (
	RemoteMemory = "memory"
	RemoteMongo  = "mongo"
	RemoteREST   = "rest"
)

// Config is the full application configuration.
type Config struct {
	DB           string             `yaml:"db"`
	AccountID    string             `yaml:"account_id"`
	DeviceID     string             `yaml:"device_id"`
	Remote       RemoteConfig       `yaml:"remote"`
	Audit        AuditConfig        `yaml:"audit"`
	Replay       ReplayConfig       `yaml:"replay"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Status       StatusConfig       `yaml:"status"`
}

type RemoteConfig struct {
	Kind  string      `yaml:"kind"`
	Mongo MongoConfig `yaml:"mongo"`
	REST  RESTConfig  `yaml:"rest"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuditConfig struct {
	// Remote appends batches to the remote syncLogs collection.
	Remote        bool   `yaml:"remote"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ReplayConfig struct {
	Truncation   string        `yaml:"truncation"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

type SnapshotConfig struct {
	Collections []string `yaml:"collections"`
}

type ConnectivityConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB:        "tablesync.db",
		AccountID: "default",
		DeviceID:  hostname(),
		Remote: RemoteConfig{
			Kind:  RemoteMemory,
			Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "tablesync"},
			REST:  RESTConfig{Timeout: 15 * time.Second},
		},
		Audit:        AuditConfig{Remote: true, SubjectPrefix: "tablesync.synclog"},
		Replay:       ReplayConfig{Truncation: string(replay.AllOrNothing), EntryTimeout: replay.DefaultEntryTimeout},
		Snapshot:     SnapshotConfig{Collections: append([]string(nil), model.DefaultSnapshotCollections...)},
		Connectivity: ConnectivityConfig{PollInterval: 5 * time.Second},
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "device"
	}
	return h
}

// Load builds the configuration from defaults, the file at path and the
// process environment. A missing file is an error only when required.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from TABLESYNC_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("TABLESYNC_DB", &c.DB)
	set("TABLESYNC_ACCOUNT_ID", &c.AccountID)
	set("TABLESYNC_DEVICE_ID", &c.DeviceID)
	set("TABLESYNC_REMOTE", &c.Remote.Kind)
	set("TABLESYNC_MONGO_URI", &c.Remote.Mongo.URI)
	set("TABLESYNC_MONGO_DB", &c.Remote.Mongo.Database)
	set("TABLESYNC_BASE_URL", &c.Remote.REST.BaseURL)
	set("TABLESYNC_TOKEN", &c.Remote.REST.Token)
	set("TABLESYNC_NATS_URL", &c.Audit.NATSURL)
	set("TABLESYNC_TRUNCATION", &c.Replay.Truncation)
}

// TruncationPolicy returns the parsed replay truncation policy.
func (c *Config) TruncationPolicy() (replay.TruncationPolicy, error) {
	return replay.ParseTruncationPolicy(c.Replay.Truncation)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, errors.New("db: path is required"))
	}
	if c.AccountID == "" {
		errs = append(errs, errors.New("account_id: required"))
	}
	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteMongo:
		if c.Remote.Mongo.URI == "" || c.Remote.Mongo.Database == "" {
			errs = append(errs, errors.New("remote.mongo: uri and database are required"))
		}
	case RemoteREST:
		if c.Remote.REST.BaseURL == "" {
			errs = append(errs, errors.New("remote.rest.base_url: required"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.kind: unknown backend %q (want %s, %s or %s)",
			c.Remote.Kind, RemoteMemory, RemoteMongo, RemoteREST))
	}
	if _, err := c.TruncationPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("replay.truncation: %w", err))
	}
	if c.Replay.EntryTimeout <= 0 {
		errs = append(errs, errors.New("replay.entry_timeout: must be positive"))
	}
	if c.Connectivity.PollInterval <= 0 {
		errs = append(errs, errors.New("connectivity.poll_interval: must be positive"))
	}
	if len(c.Snapshot.Collections) == 0 {
		errs = append(errs, errors.New("snapshot.collections: at least one collection is required"))
	}
	return errors.Join(errs...)
}
