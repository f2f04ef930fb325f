package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mailmirror/mailmirror/internal/api"
	"github.com/mailmirror/mailmirror/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run mailmirror as a daemon with scheduled polling",
	Long: `Run mailmirror as a long-running daemon that polls accounts on schedule.

The daemon runs in the foreground and provides:
  - Scheduled incremental polls per account config
  - HTTP status API on the configured port (default: 8080)

Configure schedules in config.toml:
  [[accounts]]
  email = "you@example.com"
  schedule = "*/5 * * * *"   # every five minutes (cron format)
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    */5 * * * *   = Every 5 minutes
    0 2 * * *     = 2:00 AM daily
    0 8,18 * * *  = 8 AM and 6 PM daily

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if len(cfg.ScheduledAccounts()) == 0 {
		return fmt.Errorf("no scheduled accounts configured\n\nAdd accounts to config.toml:\n\n  [[accounts]]\n  email = \"you@example.com\"\n  schedule = \"*/5 * * * *\"\n  enabled = true")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	engine, err := newEngine(s)
	if err != nil {
		return err
	}

	sched := scheduler.New(engine.IncrementalSync).WithLogger(logger)
	count, errs := sched.AddAccountsFromConfig(cfg)
	for _, err := range errs {
		logger.Error("failed to schedule account", "error", err)
	}
	if count == 0 {
		return fmt.Errorf("no accounts could be scheduled")
	}
	sched.Start()

	apiServer := api.NewServer(cfg, s, sched, engine.Metrics(), logger)

	fmt.Printf("mailmirror daemon started\n")
	fmt.Printf("  Status API: http://%s\n", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled accounts: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	for _, status := range sched.Status() {
		fmt.Printf("  %s: next poll at %s\n", status.Email, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	serveErr := g.Wait()

	fmt.Println("\nWaiting for running polls to complete...")
	select {
	case <-sched.Stop().Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return serveErr
}
