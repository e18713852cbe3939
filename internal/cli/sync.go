package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/snapshot"
	"github.com/roach88/tablesync/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Offline bool
}

// RecordView is one replayed entry.
type RecordView struct {
	EnqueuedView
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SyncView summarizes one sync pass.
type SyncView struct {
	PassID    string            `json:"passId"`
	Refreshed []snapshot.Result `json:"refreshed,omitempty"`
	Stale     []string          `json:"refreshFailed,omitempty"`
	Records   []RecordView      `json:"records"`
	Removed   int               `json:"removed"`
	Failed    int               `json:"failed"`
	AuditErr  string            `json:"auditError,omitempty"`
	State     syncer.State      `json:"state"`
}

// Text implements Texter.
func (v SyncView) Text() string {
	var b strings.Builder
	for _, r := range v.Refreshed {
		switch {
		case r.Err != nil:
			fmt.Fprintf(&b, "✗ refresh %s: %v\n", r.Name, r.Err)
		default:
			fmt.Fprintf(&b, "✓ refresh %s (%d docs)\n", r.Name, r.Count)
		}
	}
	for _, r := range v.Records {
		if r.Error != "" {
			fmt.Fprintf(&b, "✗ %s %s: %s\n", r.Kind, r.ID, r.Error)
			continue
		}
		fmt.Fprintf(&b, "✓ %s %s\n", r.Kind, r.ID)
	}
	if v.AuditErr != "" {
		fmt.Fprintf(&b, "! audit log: %s\n", v.AuditErr)
	}
	fmt.Fprintf(&b, "\nSync Summary: %d replayed, %d failed, %d removed\n", len(v.Records), v.Failed, v.Removed)
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		Long: `Refresh the local cache (when online) and replay the queue once.

Exit codes:
  0 - Every queued entry was applied
  1 - One or more entries failed; the queue is retained
  2 - Command error (unreadable queue, bad config, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip the cache refresh and treat the network as down")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	app, err := OpenApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	mon, _ := app.Connectivity(opts.Offline)
	defer mon.Close()
	orch, err := app.Orchestrator(ctx, mon)
	if err != nil {
		return commandError("failed to restore sync state", err)
	}
	defer orch.Wait()

	outcome, err := orch.SyncNow(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeSyncFailed, "sync failed", err)
	}

	view := syncView(outcome, orch.State())
	if err := out.Success(view); err != nil {
		return err
	}
	if !outcome.Succeeded() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d entries failed", view.Failed, len(view.Records)))
	}
	return nil
}

func syncView(o *syncer.Outcome, st syncer.State) SyncView {
	view := SyncView{Records: []RecordView{}, State: st}
	if o.Refresh != nil {
		view.Refreshed = o.Refresh.Results
		view.Stale = o.Refresh.Failed()
	}
	if r := o.Replay; r != nil {
		view.PassID = r.PassID
		view.Removed = r.Removed
		view.Failed = r.Failed()
		if r.AuditErr != nil {
			view.AuditErr = r.AuditErr.Error()
		}
		for _, rec := range r.Records {
			view.Records = append(view.Records, RecordView{
				EnqueuedView: entryView(rec.Entry),
				Status:       string(rec.Status),
				Error:        rec.Error,
			})
		}
	}
	return view
}
