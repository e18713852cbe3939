package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/statusfeed"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Listen  string
	Offline bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync orchestrator until interrupted",
		Long: `Watch connectivity and sync on startup and on every offline-to-online
transition. With --listen, serve the status feed:

  GET  /status   current sync state (JSON)
  POST /sync     run a sync pass now
  GET  /ws       WebSocket stream of state changes

Example:
  tablesync run --db ./tablesync.db --listen :8080
  tablesync run --offline --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "status feed listen address (overrides status.listen)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "pin connectivity offline (replay still runs on demand)")

	return cmd
}

func runOrchestrator(opts *RunOptions, cmd *cobra.Command) error {
	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	app, err := OpenApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	mon, sig := app.Connectivity(opts.Offline)
	defer mon.Close()
	if sig != nil {
		go sig.Run(ctx)
	}

	orch, err := app.Orchestrator(ctx, mon)
	if err != nil {
		return commandError("failed to restore sync state", err)
	}

	listen := app.Config.Status.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	var srv *http.Server
	errCh := make(chan error, 1)
	if listen != "" {
		feed := statusfeed.NewServer(orch, app.Logger)
		defer feed.Close()
		srv = &http.Server{Addr: listen, Handler: feed.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		slog.Info("status feed listening", "addr", listen)
	}

	orch.Start(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync orchestrator started. Watching connectivity...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = WrapExitError(ExitCommandError, "status feed failed", err)
		cancel()
	}

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("status feed shutdown", "error", err)
		}
	}
	orch.Wait()

	slog.Info("orchestrator stopped gracefully")
	return runErr
}
