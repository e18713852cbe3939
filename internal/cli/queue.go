package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/replay"
)

// QueueView lists pending entries in replay order.
type QueueView struct {
	Entries []EnqueuedView `json:"entries"`
	Orders  int            `json:"orders"`
	Actions int            `json:"actions"`
}

// Text implements Texter.
func (v QueueView) Text() string {
	var b strings.Builder
	if len(v.Entries) == 0 {
		b.WriteString("Queue is empty.\n")
		return b.String()
	}
	for _, e := range v.Entries {
		fmt.Fprintf(&b, "%-15d %-8s %-18s %s\n", e.Timestamp, e.Queue, e.Kind, e.ID)
	}
	fmt.Fprintf(&b, "\n%d pending (%d orders, %d actions)\n", len(v.Entries), v.Orders, v.Actions)
	return b.String()
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear the local mutation queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List pending entries in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard every pending entry",
		Long: `Discard every pending order and action without replaying them.

Clearing an empty queue is not an error.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueClear(rootOpts, cmd)
		},
	})
	return cmd
}

func runQueueList(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	app, err := OpenApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer app.Close()

	snap, err := app.Queue.DrainSnapshot(cmd.Context())
	if err != nil {
		return out.Fail(ExitCommandError, CodeQueue, "failed to read queue", err)
	}
	view := QueueView{
		Entries: make([]EnqueuedView, 0, snap.Len()),
		Orders:  len(snap.Orders),
		Actions: len(snap.Actions),
	}
	for _, e := range replay.Merge(snap) {
		view.Entries = append(view.Entries, entryView(e))
	}
	return out.Success(view)
}

func runQueueClear(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	app, err := OpenApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Queue.Clear(cmd.Context()); err != nil {
		return out.Fail(ExitCommandError, CodeQueue, "failed to clear queue", err)
	}
	if opts.Format == "json" {
		return out.Success(map[string]bool{"cleared": true})
	}
	return out.Success("✓ queue cleared")
}

func entryView(e model.Entry) EnqueuedView {
	return EnqueuedView{ID: e.ID(), Queue: e.Queue, Kind: e.Label(), Timestamp: e.Timestamp()}
}
