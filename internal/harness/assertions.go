package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Records  []string // Record summaries for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Records) > 0 {
		buf.WriteString("\n  Records:\n")
		for i, r := range e.Records {
			fmt.Fprintf(&buf, "    [%d] %s\n", i, r)
		}
	}
	return buf.String()
}

// evaluateAssertion dispatches to the appropriate assertion function.
func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertStatuses:
		return assertStatuses(result, a)
	case AssertRecordError:
		return assertRecordError(result, a)
	case AssertCallOrder:
		return assertCallOrder(result, a)
	case AssertRemoteDoc:
		return assertRemoteDoc(result, a)
	case AssertRemoteCount:
		return assertRemoteCount(result, a)
	case AssertQueueLen:
		return assertQueueLen(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertStatuses(result *Result, a Assertion) error {
	want := toStrings(a.Expect)
	got := make([]string, len(result.Replay.Records))
	for i, rec := range result.Replay.Records {
		got[i] = string(rec.Status)
	}
	if !equalStrings(want, got) {
		return &AssertionError{
			Type:     AssertStatuses,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
			Records:  summarize(result),
		}
	}
	return nil
}

func assertRecordError(result *Result, a Assertion) error {
	records := result.Replay.Records
	if a.Index < 0 || a.Index >= len(records) {
		return &AssertionError{
			Type:     AssertRecordError,
			Expected: fmt.Sprintf("record at index %d", a.Index),
			Actual:   fmt.Sprintf("%d records", len(records)),
			Records:  summarize(result),
		}
	}
	if got := records[a.Index].Error; !strings.Contains(got, a.Contains) {
		return &AssertionError{
			Type:     AssertRecordError,
			Expected: fmt.Sprintf("record %d error containing %q", a.Index, a.Contains),
			Actual:   fmt.Sprintf("%q", got),
			Records:  summarize(result),
		}
	}
	return nil
}

// assertCallOrder compares the collections of write calls.
func assertCallOrder(result *Result, a Assertion) error {
	want := toStrings(a.Expect)
	var got []string
	for _, c := range result.Calls {
		if c.Op == remote.OpCreate || c.Op == remote.OpUpdate {
			got = append(got, c.Collection)
		}
	}
	if !equalStrings(want, got) {
		return &AssertionError{
			Type:     AssertCallOrder,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
			Records:  summarize(result),
		}
	}
	return nil
}

// assertRemoteDoc checks that every expected field is present with an
// equal canonical JSON value. Fields not named are ignored.
func assertRemoteDoc(result *Result, a Assertion) error {
	fields, ok := result.remote.Get(a.Collection, a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertRemoteDoc,
			Expected: fmt.Sprintf("document %s/%s", a.Collection, a.ID),
			Actual:   "not found",
		}
	}
	want, _ := a.Expect.(map[string]any)
	for key, wantValue := range want {
		gotValue, present := fields[key]
		if !present {
			return &AssertionError{
				Type:     AssertRemoteDoc,
				Expected: fmt.Sprintf("%s/%s.%s", a.Collection, a.ID, key),
				Actual:   "field missing",
			}
		}
		wantJSON, err := model.MarshalCanonical(wantValue)
		if err != nil {
			return fmt.Errorf("encode expected %s: %w", key, err)
		}
		gotJSON, err := model.MarshalCanonical(gotValue)
		if err != nil {
			return fmt.Errorf("encode actual %s: %w", key, err)
		}
		if string(wantJSON) != string(gotJSON) {
			return &AssertionError{
				Type:     AssertRemoteDoc,
				Expected: fmt.Sprintf("%s/%s.%s = %s", a.Collection, a.ID, key, wantJSON),
				Actual:   string(gotJSON),
			}
		}
	}
	return nil
}

func assertRemoteCount(result *Result, a Assertion) error {
	if got := len(result.remote.Docs(a.Collection)); got != a.Count {
		return &AssertionError{
			Type:     AssertRemoteCount,
			Expected: fmt.Sprintf("%d documents in %s", a.Count, a.Collection),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertQueueLen(result *Result, a Assertion) error {
	got := result.Pending
	if got.Orders != a.Orders || got.Actions != a.Actions {
		return &AssertionError{
			Type:     AssertQueueLen,
			Expected: fmt.Sprintf("orders=%d actions=%d", a.Orders, a.Actions),
			Actual:   fmt.Sprintf("orders=%d actions=%d", got.Orders, got.Actions),
			Records:  summarize(result),
		}
	}
	return nil
}

func summarize(result *Result) []string {
	out := make([]string, len(result.Replay.Records))
	for i, rec := range result.Replay.Records {
		s := fmt.Sprintf("%s %s@%d %s", rec.Entry.ID(), rec.Entry.Label(), rec.Entry.Timestamp(), rec.Status)
		if rec.Error != "" {
			s += ": " + rec.Error
		}
		out[i] = s
	}
	return out
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = fmt.Sprint(item)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
