package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/syncer"
)

// StatusView is the state reported by the status command.
type StatusView struct {
	syncer.State
}

// Text implements Texter.
func (v StatusView) Text() string {
	var b strings.Builder
	online := "offline"
	if v.Online {
		online = "online"
	}
	fmt.Fprintf(&b, "Network:   %s\n", online)
	fmt.Fprintf(&b, "Pending:   %d orders, %d actions\n", v.Pending.Orders, v.Pending.Actions)
	if v.LastSync == nil {
		b.WriteString("Last sync: never\n")
	} else {
		fmt.Fprintf(&b, "Last sync: %s\n", v.LastSyncTime().Format(time.RFC3339))
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show connectivity, pending entries and the last sync time",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	app, err := OpenApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	mon, _ := app.Connectivity(false)
	defer mon.Close()
	orch, err := app.Orchestrator(ctx, mon)
	if err != nil {
		return commandError("failed to restore sync state", err)
	}
	if opts.Format == "json" {
		return out.Success(orch.State())
	}
	return out.Success(StatusView{State: orch.State()})
}
