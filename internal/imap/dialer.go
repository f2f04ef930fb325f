package imap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/mailmirror/mailmirror/internal/mail"
)

// Dialer creates authenticated sessions from stored credentials. The sync
// engine's retry path calls Dial to replace a wedged connection, so Dial
// verifies the login eagerly instead of deferring to first use.
type Dialer struct {
	CredentialsDir string
	Folders        []string
	ChunkSize      int
	RateLimit      float64
	Logger         *slog.Logger
}

// Dial loads credentials for email, connects and authenticates.
func (d *Dialer) Dial(ctx context.Context, email string) (mail.Client, error) {
	creds, err := LoadCredentials(d.CredentialsDir, email)
	if err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := NewClient(creds, email, d.Folders, d.ChunkSize,
		WithLogger(logger.With("account", email)),
		WithRateLimit(d.RateLimit),
	)
	if err := c.withConn(ctx, func(conn *imapclient.Client) error { return nil }); err != nil {
		return nil, fmt.Errorf("dial %s: %w", email, err)
	}
	return c, nil
}
