package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailmirror/mailmirror/internal/imap"
)

var (
	addHost     string
	addPort     int
	addUsername string
	addNoTLS    bool
	addSTARTTLS bool
	addToken    string
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account [email]",
	Short: "Add an IMAP account",
	Long: `Add an IMAP account and store its credentials.

By default, connects using implicit TLS (IMAPS, port 993).
Use --starttls for STARTTLS upgrade on port 143.
Use --no-tls for a plain unencrypted connection (not recommended).

Password accounts are prompted interactively. Pass --token to use an
OAUTHBEARER access token instead of a password.

Examples:
  mailmirror add-account you@example.com --host imap.example.com
  mailmirror add-account you@example.com --host mail.example.com --starttls
  mailmirror add-account you@gmail.com --host imap.gmail.com --token "$ACCESS_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]
		if addHost == "" {
			return fmt.Errorf("--host is required")
		}
		username := addUsername
		if username == "" {
			username = email
		}

		server := imap.ServerConfig{
			Host:     addHost,
			Port:     addPort,
			TLS:      !addNoTLS && !addSTARTTLS,
			STARTTLS: addSTARTTLS,
			Username: username,
		}
		creds := &imap.Credentials{Server: server, AccessToken: addToken}

		if addToken == "" {
			// Password never comes in via a flag: it would leak into shell
			// history and process listings.
			fmt.Printf("Password for %s@%s: ", username, addHost)
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(raw) == 0 {
				return fmt.Errorf("password is required")
			}
			creds.Password = string(raw)
		}

		fmt.Printf("Testing connection to %s...\n", server.Addr())
		client := imap.NewClient(creds, email, cfg.Sync.Folders, cfg.Sync.ChunkSize,
			imap.WithLogger(logger))
		_, err := client.FolderStatus(cmd.Context(), "INBOX")
		_ = client.Close()
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Println("Connected successfully")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := imap.SaveCredentials(cfg.CredentialsDir(), email, creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		if _, err := s.GetOrCreateAccount(email); err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		fmt.Printf("\nAccount added successfully!\n")
		fmt.Printf("  Email:  %s\n", email)
		fmt.Printf("  Server: %s\n", server.Identifier())
		fmt.Println()
		fmt.Println("You can now run:")
		fmt.Printf("  mailmirror sync-full %s\n", email)
		return nil
	},
}

func init() {
	addAccountCmd.Flags().StringVar(&addHost, "host", "", "IMAP server hostname")
	addAccountCmd.Flags().IntVar(&addPort, "port", 0, "IMAP server port (default: 993, or 143 with --starttls)")
	addAccountCmd.Flags().StringVar(&addUsername, "username", "", "login username (default: the account email)")
	addAccountCmd.Flags().BoolVar(&addNoTLS, "no-tls", false, "plain unencrypted connection")
	addAccountCmd.Flags().BoolVar(&addSTARTTLS, "starttls", false, "use STARTTLS upgrade")
	addAccountCmd.Flags().StringVar(&addToken, "token", "", "OAUTHBEARER access token instead of a password")
	rootCmd.AddCommand(addAccountCmd)
}
