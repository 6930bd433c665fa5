package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/ghsync"
	"github.com/cexll/pmsync/internal/github"
	"github.com/cexll/pmsync/internal/watch"
	"github.com/spf13/cobra"
)

type syncFlags struct {
	kinds        []string
	dryRun       bool
	keepGoing    bool
	ensureLabels bool
	mode         string
	asJSON       bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.kinds, "kind", nil, "only sync these kinds (prd, epic, task)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report what would change without writing anything")
	cmd.Flags().BoolVar(&f.keepGoing, "keep-going", false, "record failures and continue with the next entity")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "output the report as JSON")
}

func (a *App) syncOptions(f *syncFlags) (ghsync.Options, error) {
	opts := ghsync.Options{
		DryRun:       f.dryRun,
		KeepGoing:    f.keepGoing,
		EnsureLabels: f.ensureLabels,
		Mode:         a.cfg.ConflictMode,
	}
	for _, name := range f.kinds {
		kind, err := entity.Lookup(name)
		if err != nil {
			return opts, err
		}
		opts.Kinds = append(opts.Kinds, kind)
	}
	if f.mode != "" {
		mode, err := ghsync.ParseConflictMode(f.mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	return opts, nil
}

func (a *App) syncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the store to GitHub Issues and back",
	}
	cmd.AddCommand(a.syncUpCommand(), a.syncDownCommand(), a.syncWatchCommand())
	return cmd
}

func (a *App) syncUpCommand() *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Upload PRDs, EPICs and TASKs as GitHub issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.syncOptions(&flags)
			if err != nil {
				return err
			}
			// A dry-run upload never calls the tracker, so it works offline.
			var tracker github.IssueTracker
			if !opts.DryRun {
				if tracker, err = a.tracker(); err != nil {
					return err
				}
			}
			report, err := ghsync.NewUploader(a.store, tracker).Upload(cmd.Context(), opts)
			return a.printReport(report, flags.asJSON, err)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.ensureLabels, "ensure-labels", false, "create missing kind and priority labels first")
	return cmd
}

func (a *App) syncDownCommand() *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Download GitHub issues into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.syncOptions(&flags)
			if err != nil {
				return err
			}
			tracker, err := a.tracker()
			if err != nil {
				return err
			}
			report, err := ghsync.NewDownloader(a.store, tracker).Download(cmd.Context(), opts)
			return a.printReport(report, flags.asJSON, err)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.mode, "mode", "", "conflict mode when the local copy is newer (merge, overwrite, github, local)")
	return cmd
}

func (a *App) syncWatchCommand() *cobra.Command {
	var (
		flags    syncFlags
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Upload whenever entity files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.syncOptions(&flags)
			if err != nil {
				return err
			}
			tracker, err := a.tracker()
			if err != nil {
				return err
			}
			if debounce <= 0 {
				debounce = a.cfg.WatchDebounce
			}

			uploader := ghsync.NewUploader(a.store, tracker)
			w, err := watch.New(a.store.Root(), debounce, func(ctx context.Context, changed []string) error {
				report, err := uploader.Upload(ctx, opts)
				if errors.Is(err, ghsync.ErrSyncInProgress) {
					warn(a.Err, "sync already running, skipping this batch")
					return nil
				}
				return a.printReport(report, false, err)
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(a.Out, "Watching %s for changes (Ctrl+C to stop)\n", a.store.Root())
			return w.Run(ctx)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before uploading (default from PM_WATCH_DEBOUNCE_MS)")
	return cmd
}

// printReport writes the run's result lines and returns runErr.
func (a *App) printReport(report *ghsync.Report, asJSON bool, runErr error) error {
	if report == nil {
		return runErr
	}
	if asJSON {
		if err := writeJSON(a.Out, report); err != nil {
			return err
		}
		return runErr
	}
	for _, res := range report.Results {
		line := res.String()
		switch {
		case res.Action == ghsync.ActionFailed:
			line = red(line)
		case res.Conflict || res.Action == ghsync.ActionConflictSkipped:
			line = yellow(line)
		}
		fmt.Fprintln(a.Out, line)
	}
	if runErr != nil {
		return runErr
	}
	if n := len(report.Failed()); n > 0 {
		fmt.Fprintln(a.Out, report.Summary())
		return fmt.Errorf("%d entit%s failed to sync", n, plural(n, "y", "ies"))
	}
	success(a.Out, "%s", report.Summary())
	if n := len(report.Conflicts()); n > 0 {
		warn(a.Out, "%d conflict(s): the local copy was newer than GitHub", n)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
