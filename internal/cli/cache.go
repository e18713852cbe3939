package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/snapshot"
)

// RefreshView reports a cache refresh.
type RefreshView struct {
	Results []snapshot.Result `json:"results"`
	Failed  []string          `json:"failed,omitempty"`
}

// Text implements Texter.
func (v RefreshView) Text() string {
	var b strings.Builder
	for _, r := range v.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(&b, "✗ %s: %v (previous cache kept)\n", r.Name, r.Err)
		case r.Changed:
			fmt.Fprintf(&b, "✓ %s: %d docs\n", r.Name, r.Count)
		default:
			fmt.Fprintf(&b, "= %s: %d docs, unchanged\n", r.Name, r.Count)
		}
	}
	return b.String()
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Refresh or inspect the local snapshot of remote collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Replace every cached collection with the remote contents",
		Long: `Fetch every configured collection and overwrite its local copy.

A collection that fails to fetch keeps its previous cached contents.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheRefresh(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List cached collections with their size and age",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <collection>",
		Short:         "Print the cached documents of a collection",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheShow(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runCacheRefresh(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	app, err := OpenApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer app.Close()

	report := app.Snapshot.RefreshAll(cmd.Context())
	view := RefreshView{Results: report.Results, Failed: report.Failed()}
	if err := out.Success(view); err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		return WrapExitError(ExitFailure, "cache refresh incomplete", err)
	}
	return nil
}

// CacheListView lists the collections present in the local snapshot.
type CacheListView struct {
	Collections []snapshot.Cached `json:"collections"`
}

// Text implements Texter.
func (v CacheListView) Text() string {
	if len(v.Collections) == 0 {
		return "Cache is empty.\n"
	}
	var b strings.Builder
	for _, c := range v.Collections {
		fmt.Fprintf(&b, "%-15s %8d bytes  %s\n", c.Name, c.Bytes, c.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func runCacheList(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	app, err := OpenApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer app.Close()

	cached, err := app.Snapshot.List(cmd.Context())
	if err != nil {
		return out.Fail(ExitCommandError, CodeCache, "failed to list cache", err)
	}
	return out.Success(CacheListView{Collections: cached})
}

func runCacheShow(opts *RootOptions, collection string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	app, err := OpenApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer app.Close()

	docs := app.Snapshot.Read(cmd.Context(), collection)
	if opts.Format == "json" {
		return out.Success(docs)
	}
	if len(docs) == 0 {
		return out.Success(fmt.Sprintf("No cached %s.", collection))
	}
	var b strings.Builder
	for _, d := range docs {
		line, err := model.MarshalCanonical(d)
		if err != nil {
			return out.Fail(ExitCommandError, CodeCache, "failed to render document", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	fmt.Fprint(cmd.OutOrStdout(), b.String())
	return nil
}
