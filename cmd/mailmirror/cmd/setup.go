package cmd

import (
	"fmt"

	"github.com/mailmirror/mailmirror/internal/blob"
	"github.com/mailmirror/mailmirror/internal/imap"
	"github.com/mailmirror/mailmirror/internal/store"
	"github.com/mailmirror/mailmirror/internal/sync"
)

// openStore opens the database and applies the schema.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// newDialer builds the session dialer from config.
func newDialer() *imap.Dialer {
	return &imap.Dialer{
		CredentialsDir: cfg.CredentialsDir(),
		Folders:        cfg.Sync.Folders,
		ChunkSize:      cfg.Sync.ChunkSize,
		RateLimit:      cfg.Sync.FetchRateLimit,
		Logger:         logger,
	}
}

// newEngine wires the store, blob store and dialer into a sync engine.
func newEngine(s *store.Store) (*sync.Engine, error) {
	blobs, err := blob.New(cfg.BlobsDir())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return sync.New(newDialer(), s, blobs).WithLogger(logger), nil
}

// resolveEmails returns the accounts to operate on: the explicit argument if
// given, otherwise every account with stored credentials.
func resolveEmails(s *store.Store, args []string) ([]string, error) {
	if len(args) == 1 {
		return []string{args[0]}, nil
	}

	accounts, err := s.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var emails []string
	for _, acc := range accounts {
		if !imap.HasCredentials(cfg.CredentialsDir(), acc.Email) {
			fmt.Printf("Skipping %s (no credentials - run 'add-account' first)\n", acc.Email)
			continue
		}
		emails = append(emails, acc.Email)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("no accounts configured - run 'add-account' first")
	}
	return emails, nil
}
