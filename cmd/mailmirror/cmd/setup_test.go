package cmd

import (
	"io"
	"log/slog"
	"testing"

	"github.com/mailmirror/mailmirror/internal/config"
	"github.com/mailmirror/mailmirror/internal/imap"
)

// initTestGlobals points the package globals at a throwaway home directory.
func initTestGlobals(t *testing.T) {
	t.Helper()

	home := t.TempDir()
	c, err := config.Load("", home)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg = c
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	initTestGlobals(t)

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer s.Close()

	// Schema applied: stats query works on the fresh database.
	if _, err := s.GetStats(); err != nil {
		t.Errorf("GetStats() error = %v", err)
	}
}

func TestResolveEmailsExplicitArg(t *testing.T) {
	initTestGlobals(t)

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()

	emails, err := resolveEmails(s, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("resolveEmails() error = %v", err)
	}
	if len(emails) != 1 || emails[0] != "alice@example.com" {
		t.Errorf("emails = %v", emails)
	}
}

func TestResolveEmailsNoAccounts(t *testing.T) {
	initTestGlobals(t)

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()

	if _, err := resolveEmails(s, nil); err == nil {
		t.Error("resolveEmails() with empty store = nil, want error")
	}
}

func TestResolveEmailsSkipsMissingCredentials(t *testing.T) {
	initTestGlobals(t)

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()

	if _, err := s.GetOrCreateAccount("nocreds@example.com"); err != nil {
		t.Fatalf("GetOrCreateAccount: %v", err)
	}
	if _, err := s.GetOrCreateAccount("ok@example.com"); err != nil {
		t.Fatalf("GetOrCreateAccount: %v", err)
	}

	creds := &imap.Credentials{
		Server:   imap.ServerConfig{Host: "imap.example.com", Username: "ok@example.com"},
		Password: "hunter2",
	}
	if err := imap.SaveCredentials(cfg.CredentialsDir(), "ok@example.com", creds); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}

	emails, err := resolveEmails(s, nil)
	if err != nil {
		t.Fatalf("resolveEmails() error = %v", err)
	}
	if len(emails) != 1 || emails[0] != "ok@example.com" {
		t.Errorf("emails = %v, want [ok@example.com]", emails)
	}
}
