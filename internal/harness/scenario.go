package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/replay"
	"github.com/roach88/tablesync/internal/remote"
)

// Scenario is one replay test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Truncation selects the replay truncation policy. Empty means all-or-nothing.
	Truncation string `yaml:"truncation,omitempty"`

	// EntryTimeout bounds each remote call. Zero keeps the engine default.
	EntryTimeout time.Duration `yaml:"entry_timeout,omitempty"`

	// Seed lists documents present remotely before the pass, per collection.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Queue lists entries to enqueue, in enqueue order.
	Queue []QueueStep `yaml:"queue"`

	// Fail lists remote failure rules; the first matching rule applies.
	Fail []FailRule `yaml:"fail,omitempty"`

	// Assertions validate the pass result and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// QueueStep enqueues one order or one admin action.
type QueueStep struct {
	// Order is an order payload. Mutually exclusive with Action.
	Order map[string]any `yaml:"order,omitempty"`

	// Action is an action kind; unknown kinds are enqueued as-is.
	Action string `yaml:"action,omitempty"`

	// Payload is the action payload.
	Payload any `yaml:"payload,omitempty"`

	// At is the enqueue timestamp in Unix milliseconds.
	At int64 `yaml:"at"`
}

// FailRule makes matching remote calls misbehave. Empty selectors match
// every call.
type FailRule struct {
	Op         string `yaml:"op,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`

	// Error fails the call with this message.
	Error string `yaml:"error,omitempty"`

	// Panic panics with this value.
	Panic string `yaml:"panic,omitempty"`

	// Stall blocks the call for this long, ignoring cancellation.
	Stall time.Duration `yaml:"stall,omitempty"`
}

// Assertion validates the outcome of the pass.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Expect holds statuses (statuses), collections (call_order) or
	// fields (remote_doc).
	Expect any `yaml:"expect,omitempty"`

	// Index selects a record (record_error).
	Index int `yaml:"index,omitempty"`

	// Contains is the expected error substring (record_error).
	Contains string `yaml:"contains,omitempty"`

	// Collection and ID select a remote document (remote_doc, remote_count).
	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`

	// Count is the expected document count (remote_count).
	Count int `yaml:"count,omitempty"`

	// Orders and Actions are expected pending counts (queue_len).
	Orders  int `yaml:"orders,omitempty"`
	Actions int `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertStatuses    = "statuses"
	AssertRecordError = "record_error"
	AssertCallOrder   = "call_order"
	AssertRemoteDoc   = "remote_doc"
	AssertRemoteCount = "remote_count"
	AssertQueueLen    = "queue_len"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := replay.ParseTruncationPolicy(s.Truncation); err != nil {
		return err
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for coll, docs := range s.Seed {
		for i, doc := range docs {
			if id, ok := doc["id"].(string); !ok || id == "" {
				return fmt.Errorf("seed.%s[%d]: string id is required", coll, i)
			}
		}
	}

	for i, step := range s.Queue {
		switch {
		case step.Order != nil && step.Action != "":
			return fmt.Errorf("queue[%d]: order and action are mutually exclusive", i)
		case step.Order == nil && step.Action == "":
			return fmt.Errorf("queue[%d]: order or action is required", i)
		}
	}

	for i, rule := range s.Fail {
		switch remote.Op(rule.Op) {
		case "", remote.OpCreate, remote.OpUpdate, remote.OpGetAll:
		default:
			return fmt.Errorf("fail[%d]: unknown op %q", i, rule.Op)
		}
		if rule.Error == "" && rule.Panic == "" && rule.Stall == 0 {
			return fmt.Errorf("fail[%d]: one of error, panic or stall is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStatuses, AssertCallOrder:
		if _, ok := a.Expect.([]any); !ok {
			return fmt.Errorf("assertions[%d]: expect list is required for %s", index, a.Type)
		}
	case AssertRecordError:
		if a.Contains == "" {
			return fmt.Errorf("assertions[%d]: contains is required for record_error", index)
		}
	case AssertRemoteDoc:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: collection and id are required for remote_doc", index)
		}
		if _, ok := a.Expect.(map[string]any); !ok {
			return fmt.Errorf("assertions[%d]: expect map is required for remote_doc", index)
		}
	case AssertRemoteCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for remote_count", index)
		}
	case AssertQueueLen:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// kind returns the action kind of an action step.
func (q QueueStep) kind() model.ActionKind {
	return model.ActionKind(q.Action)
}
