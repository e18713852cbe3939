package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tablesync/internal/model"
)

// PassSnapshot captures the observable outcome of a scenario's pass.
// It is serialized as canonical JSON for deterministic comparison.
type PassSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts a PassSnapshot to a map[string]any for canonical
// JSON serialization.
func (s *PassSnapshot) toCanonicalMap() map[string]any {
	records := make([]any, 0, len(s.Result.Replay.Records))
	for _, rec := range s.Result.Replay.Records {
		m := map[string]any{
			"id":       rec.Entry.ID(),
			"kind":     rec.Entry.Label(),
			"queue":    string(rec.Entry.Queue),
			"at":       rec.Entry.Timestamp(),
			"status":   string(rec.Status),
			"loggedAt": rec.Timestamp,
		}
		if rec.Error != "" {
			m["error"] = rec.Error
		}
		records = append(records, m)
	}

	calls := make([]any, 0, len(s.Result.Calls))
	for _, c := range s.Result.Calls {
		m := map[string]any{
			"op":         string(c.Op),
			"collection": c.Collection,
		}
		if c.ID != "" {
			m["id"] = c.ID
		}
		calls = append(calls, m)
	}

	return map[string]any{
		"scenario": s.ScenarioName,
		"records":  records,
		"calls":    calls,
		"pending": map[string]any{
			"orders":  s.Result.Pending.Orders,
			"actions": s.Result.Pending.Actions,
		},
		"removed": s.Result.Replay.Removed,
		"audited": len(s.Result.Audit),
	}
}

// RunWithGolden executes a scenario and compares its pass snapshot against
// a golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := SnapshotJSON(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// SnapshotJSON returns the canonical JSON golden files hold for result.
func SnapshotJSON(scenarioName string, result *Result) ([]byte, error) {
	snapshot := PassSnapshot{ScenarioName: scenarioName, Result: result}
	return model.MarshalCanonical(snapshot.toCanonicalMap())
}
