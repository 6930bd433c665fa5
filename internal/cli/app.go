// Package cli builds the pm command tree.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/cexll/pmsync/internal/config"
	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/github"
	"github.com/cexll/pmsync/internal/logging"
	"github.com/cexll/pmsync/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// App carries the dependencies shared by every command. Fields are
// replaceable for tests.
type App struct {
	Out io.Writer
	Err io.Writer

	LoadConfig func() (*config.Config, error)
	NewTracker func(github.TrackerConfig) (github.IssueTracker, error)
	Serve      func(addr string, handler http.Handler) error

	cfg       *config.Config
	store     *store.Store
	logCloser io.Closer
}

// NewApp returns an App wired to the real environment.
func NewApp() *App {
	return &App{
		Out:        os.Stdout,
		Err:        os.Stderr,
		LoadConfig: config.Load,
		NewTracker: github.NewTracker,
		Serve:      http.ListenAndServe,
	}
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	var (
		root    string
		quiet   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:           "pm",
		Short:         "Manage PRDs, Epics and Tasks and mirror them to GitHub Issues",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			cfg, err := a.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if root != "" {
				cfg.Root = root
			}
			a.cfg = cfg

			closer, err := logging.Setup(logging.Options{
				File:       cfg.LogFile,
				MaxSizeMB:  cfg.LogMaxSizeMB,
				MaxBackups: cfg.LogMaxBackups,
				MaxAgeDays: cfg.LogMaxAgeDays,
				Quiet:      quiet,
				Stderr:     a.Err,
			})
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			a.logCloser = closer
			a.store = store.New(cfg.Root, store.WithAuthor(cfg.Author))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}
	cmd.SetOut(a.Out)
	cmd.SetErr(a.Err)

	cmd.PersistentFlags().StringVar(&root, "root", "", "store root directory (overrides PM_ROOT)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "do not copy log output to stderr")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		a.prdCommand(),
		a.epicCommand(),
		a.entityCommand(entity.Task),
		a.syncCommand(),
		a.serveCommand(),
	)
	return cmd
}

// tracker builds the issue tracker after checking credentials.
func (a *App) tracker() (github.IssueTracker, error) {
	if err := a.cfg.ValidateSync(); err != nil {
		return nil, err
	}
	return a.NewTracker(a.cfg.TrackerConfig())
}
