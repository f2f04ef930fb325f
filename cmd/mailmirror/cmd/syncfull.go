package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailmirror/mailmirror/internal/store"
)

var syncFullCmd = &cobra.Command{
	Use:   "sync-full [email]",
	Short: "Run the initial full download for accounts",
	Long: `Download every message in the configured folders for an account.

Safe to interrupt: committed chunks survive and the next run resumes from
where the mirror left off. If no email is given, every account with stored
credentials is synced sequentially.

Examples:
  mailmirror sync-full
  mailmirror sync-full you@example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		engine, err := newEngine(s)
		if err != nil {
			return err
		}
		emails, err := resolveEmails(s, args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var failures []string
		for _, email := range emails {
			if ctx.Err() != nil {
				break
			}
			if err := runSync(ctx, s, email, "full sync", engine.InitialSync); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", email, err))
			}
		}

		if len(failures) > 0 {
			fmt.Println()
			fmt.Println("Errors:")
			for _, f := range failures {
				fmt.Printf("  %s\n", f)
			}
			return fmt.Errorf("%d account(s) failed to sync", len(failures))
		}
		return nil
	},
}

// runSync runs one sync pass and prints the resulting sync_runs record.
func runSync(ctx context.Context, s *store.Store, email, label string, fn func(context.Context, string) error) error {
	fmt.Printf("Starting %s for %s\n", label, email)
	start := time.Now()

	if err := fn(ctx, email); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nInterrupted. Run again to resume.")
			return nil
		}
		return err
	}

	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Second))
	printLastRun(s, email)
	return nil
}

func printLastRun(s *store.Store, email string) {
	acc, err := s.GetAccountByEmail(email)
	if err != nil || acc == nil {
		return
	}
	runs, err := s.RecentSyncRuns(acc.ID, 1)
	if err != nil || len(runs) == 0 {
		return
	}

	run := runs[0]
	fmt.Printf("  Folders:  %d synced\n", run.FoldersSynced)
	fmt.Printf("  Messages: %d fetched, %d linked, %d deleted\n",
		run.MessagesFetched, run.MessagesLinked, run.MessagesDeleted)
	if run.FlagsUpdated > 0 {
		fmt.Printf("  Flags:    %d updated\n", run.FlagsUpdated)
	}
	if run.CommitsDropped > 0 {
		fmt.Printf("  Dropped:  %d commit(s), will replay next run\n", run.CommitsDropped)
	}
	if run.ErrorMessage != "" {
		fmt.Printf("  Warning:  %s\n", run.ErrorMessage)
	}
}

func init() {
	rootCmd.AddCommand(syncFullCmd)
}
