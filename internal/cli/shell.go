package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/replay"
	"github.com/roach88/tablesync/internal/syncer"
)

const shellHelp = `Commands:
  order <json>          queue an order submission
  action <kind> <json>  queue an admin action
  queue                 list pending entries
  sync                  run a sync pass now
  status                show connectivity, pending entries and last sync
  help                  show this help
  quit                  leave the shell
`

// ShellOptions holds flags for the shell command.
type ShellOptions struct {
	*RootOptions
	Offline bool
}

// NewShellCommand creates the shell command.
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt for queueing changes and syncing",
		Long: `Start an interactive prompt. Payloads are validated before they are
queued, exactly as the order and action commands do.

` + shellHelp,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "treat the network as down")
	return cmd
}

func runShell(opts *ShellOptions, cmd *cobra.Command) error {
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

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tablesync> ",
		AutoComplete:    shellCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start shell", err)
	}
	defer rl.Close()

	sh := &shell{app: app, orch: orch, out: rl.Stdout()}
	fmt.Fprint(sh.out, "Type \"help\" for commands.\n")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}
		if sh.exec(ctx, line) {
			return nil
		}
	}
}

func shellCompleter() *readline.PrefixCompleter {
	kinds := make([]readline.PrefixCompleterInterface, 0, len(kindNames()))
	for _, k := range kindNames() {
		kinds = append(kinds, readline.PcItem(k))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("order"),
		readline.PcItem("action", kinds...),
		readline.PcItem("queue"),
		readline.PcItem("sync"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// shell executes one prompt line at a time.
type shell struct {
	app  *App
	orch *syncer.Orchestrator
	out  io.Writer
}

// exec runs line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprint(s.out, shellHelp)
	case "order":
		s.report(enqueueOrder(ctx, s.app.Validator, s.app.Queue, []byte(rest)))
	case "action":
		kind, payload, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Fprintln(s.out, "usage: action <kind> <json>")
			return false
		}
		s.report(enqueueAction(ctx, s.app.Validator, s.app.Queue, kind, []byte(strings.TrimSpace(payload))))
	case "queue":
		snap, err := s.app.Queue.DrainSnapshot(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "✗ %v\n", err)
			return false
		}
		view := QueueView{Orders: len(snap.Orders), Actions: len(snap.Actions)}
		for _, e := range replay.Merge(snap) {
			view.Entries = append(view.Entries, entryView(e))
		}
		fmt.Fprint(s.out, view.Text())
	case "sync":
		outcome, err := s.orch.SyncNow(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "✗ sync failed: %v\n", err)
			return false
		}
		fmt.Fprint(s.out, syncView(outcome, s.orch.State()).Text())
	case "status":
		fmt.Fprint(s.out, StatusView{State: s.orch.State()}.Text())
	default:
		fmt.Fprintf(s.out, "unknown command %q (try \"help\")\n", verb)
	}
	return false
}

func (s *shell) report(view EnqueuedView, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "✗ %v\n", err)
		return
	}
	fmt.Fprint(s.out, view.Text())
}
