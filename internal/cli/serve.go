package cli

import (
	"fmt"
	"log"

	"github.com/cexll/pmsync/internal/dispatcher"
	"github.com/cexll/pmsync/internal/ghsync"
	"github.com/cexll/pmsync/internal/web"
	"github.com/cexll/pmsync/internal/webhook"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

func (a *App) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and the GitHub issues webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Port = port
			}
			if err := a.cfg.ValidateServe(); err != nil {
				return err
			}

			r := mux.NewRouter()

			// Webhook deliveries carry the issue, so no API client is needed
			// to apply them.
			downloader := ghsync.NewDownloader(a.store, nil)
			opts := ghsync.Options{Mode: a.cfg.ConflictMode}
			queue := dispatcher.New(downloader, opts, dispatcher.Config{
				Workers:           a.cfg.DispatcherWorkers,
				QueueSize:         a.cfg.DispatcherQueueSize,
				MaxAttempts:       a.cfg.DispatcherMaxAttempts,
				InitialBackoff:    a.cfg.DispatcherRetryInitial,
				BackoffMultiplier: a.cfg.DispatcherBackoffMultiplier,
				MaxBackoff:        a.cfg.DispatcherRetryMax,
			})
			defer queue.Shutdown(cmd.Context())

			hook := webhook.NewHandler(a.cfg.WebhookSecret, a.cfg.Repo, downloader, opts).WithQueue(queue)
			r.HandleFunc("/webhook", hook.Handle).Methods("POST")

			dashboard, err := web.NewHandler(a.store, a.cfg.Repo)
			if err != nil {
				return fmt.Errorf("failed to initialize web handler: %w", err)
			}
			dashboard.RegisterRoutes(r)

			addr := fmt.Sprintf(":%d", a.cfg.Port)
			log.Printf("[Web] Serving %s on %s", a.store.Root(), addr)
			log.Printf("[Web] Webhook queue: %d worker(s), queue size %d, max attempts %d", a.cfg.DispatcherWorkers, a.cfg.DispatcherQueueSize, a.cfg.DispatcherMaxAttempts)
			log.Printf("[Web] Webhook endpoint: http://localhost%s/webhook", addr)
			fmt.Fprintf(a.Out, "Listening on http://localhost%s/\n", addr)

			if err := a.Serve(addr, r); err != nil {
				return fmt.Errorf("server failed to start: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from PORT)")
	return cmd
}
