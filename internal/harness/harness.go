package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/tablesync/internal/audit"
	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/replay"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/testutil"
)

// Deterministic values shared by every run.
const (
	// RecordClockBase is the first record timestamp minus one step.
	RecordClockBase int64 = 999_999

	// defaultStepSpacing spaces steps that omit "at".
	defaultStepSpacing int64 = 100
)

// ServerNow is the fixed time the in-memory remote resolves server
// timestamps to.
var ServerNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger passed to the replay engine.
// Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Create fresh in-memory database and remote store
//  2. Seed remote documents and install failure rules
//  3. Enqueue every step at its scripted timestamp
//  4. Run one replay pass
//  5. Evaluate assertions against the pass and final state
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	defer st.Close()

	stamps := make([]int64, len(scenario.Queue))
	for i, step := range scenario.Queue {
		stamps[i] = step.At
		if stamps[i] == 0 {
			stamps[i] = int64(i+1) * defaultStepSpacing
		}
	}
	q := queue.New(st,
		queue.WithClock(testutil.NewScriptedClock(stamps...)),
		queue.WithIDGenerator(testutil.NewSequentialIDs("e")),
		queue.WithLogger(cfg.logger),
	)

	rs := remote.NewMemory(
		remote.WithIDs(testutil.NewSequentialIDs("doc")),
		remote.WithNow(func() time.Time { return ServerNow }),
	)
	if err := seed(rs, scenario.Seed); err != nil {
		return nil, err
	}

	for i, step := range scenario.Queue {
		if err := enqueue(ctx, q, step); err != nil {
			return nil, fmt.Errorf("queue[%d]: %w", i, err)
		}
	}
	if len(scenario.Fail) > 0 {
		rs.FailWith(failureHook(scenario.Fail))
	}

	policy, err := replay.ParseTruncationPolicy(scenario.Truncation)
	if err != nil {
		return nil, err
	}
	rec := &auditRecorder{}
	eng := replay.New(q, rs,
		replay.WithAudit(rec),
		replay.WithTruncation(policy),
		replay.WithEntryTimeout(scenario.EntryTimeout),
		replay.WithClock(testutil.NewDeterministicClock(RecordClockBase, 1)),
		replay.WithIDGenerator(testutil.NewSequentialIDs("pass")),
		replay.WithAccount("harness", "harness-device"),
		replay.WithLogger(cfg.logger),
	)

	res, err := eng.Pass(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay pass: %w", err)
	}
	pending, err := q.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending entries: %w", err)
	}

	result := NewResult()
	result.Replay = res
	result.Calls = rs.Calls()
	result.Audit = rec.batches()
	result.Pending = pending
	result.remote = rs

	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}

// seed loads documents in collection name order so document ids stay stable.
func seed(rs *remote.Memory, docs map[string][]map[string]any) error {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, raw := range docs[name] {
			fields := make(model.Fields, len(raw))
			for k, v := range raw {
				if k != "id" {
					fields[k] = v
				}
			}
			rs.Seed(name, model.Document{ID: raw["id"].(string), Fields: fields})
		}
	}
	return nil
}

func enqueue(ctx context.Context, q *queue.Queue, step QueueStep) error {
	if step.Order != nil {
		data, err := json.Marshal(step.Order)
		if err != nil {
			return fmt.Errorf("encode order: %w", err)
		}
		var payload model.OrderPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		_, err = q.EnqueueOrder(ctx, payload)
		return err
	}

	data, err := json.Marshal(step.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", step.Action, err)
	}
	action, err := model.DecodeAction(step.kind(), data)
	if err != nil {
		// Malformed payloads are enqueued as-is so replay reports them.
		action = model.UnknownAction{Type: step.kind(), Payload: data, DecodeErr: err}
	}
	_, err = q.EnqueueAction(ctx, action)
	return err
}

// failureHook applies the first rule matching each call.
func failureHook(rules []FailRule) func(remote.Call) error {
	return func(call remote.Call) error {
		for _, r := range rules {
			if !r.matches(call) {
				continue
			}
			if r.Stall > 0 {
				time.Sleep(r.Stall)
			}
			if r.Panic != "" {
				panic(r.Panic)
			}
			if r.Error != "" {
				return errors.New(r.Error)
			}
			return nil
		}
		return nil
	}
}

func (r FailRule) matches(call remote.Call) bool {
	return (r.Op == "" || remote.Op(r.Op) == call.Op) &&
		(r.Collection == "" || r.Collection == call.Collection) &&
		(r.ID == "" || r.ID == call.ID)
}

// auditRecorder keeps appended batches in memory.
type auditRecorder struct {
	mu   sync.Mutex
	list []audit.Batch
}

func (a *auditRecorder) Append(_ context.Context, b audit.Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.list = append(a.list, b)
	return nil
}

func (a *auditRecorder) batches() []audit.Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Batch(nil), a.list...)
}
