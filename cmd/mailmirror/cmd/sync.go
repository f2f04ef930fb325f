package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [email]",
	Short: "Run an incremental poll for accounts",
	Long: `Poll for changes since the last sync: new messages, flag updates and
deletions. Folders whose change markers did not move are skipped without
being selected.

If no email is given, every account with stored credentials is polled.

Examples:
  mailmirror sync
  mailmirror sync you@example.com`,
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
			if err := runSync(ctx, s, email, "incremental sync", engine.IncrementalSync); err != nil {
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

func init() {
	rootCmd.AddCommand(syncCmd)
}
