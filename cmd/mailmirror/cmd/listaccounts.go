package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailmirror/mailmirror/internal/imap"
)

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "List mirrored accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		accounts, err := s.ListAccounts()
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts. Run 'add-account' to add one.")
			return nil
		}

		for _, acc := range accounts {
			state := "initial sync pending"
			if acc.InitialSyncDone {
				state = "synced"
			}
			creds := ""
			if !imap.HasCredentials(cfg.CredentialsDir(), acc.Email) {
				creds = " (no credentials)"
			}
			fmt.Printf("  %s - %s%s\n", acc.Email, state, creds)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listAccountsCmd)
}
