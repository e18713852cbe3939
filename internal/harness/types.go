package harness

import (
	"github.com/roach88/tablesync/internal/audit"
	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/remote"
	"github.com/roach88/tablesync/internal/replay"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Replay is the result of the pass.
	Replay *replay.Result `json:"-"`

	// Calls lists remote calls in the order they were made.
	Calls []remote.Call `json:"-"`

	// Audit lists batches appended to the audit log.
	Audit []audit.Batch `json:"-"`

	// Pending is what remained queued after truncation.
	Pending queue.Counts `json:"pending"`

	remote *remote.Memory
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
