package imap

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/jhillyerd/enmime"
	"golang.org/x/time/rate"

	"github.com/mailmirror/mailmirror/internal/mail"
	"github.com/mailmirror/mailmirror/internal/textutil"
)

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit caps fetch and search commands per second. Zero means
// unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// Client implements mail.Client over an IMAP connection.
type Client struct {
	creds   *Credentials
	email   string
	folders []string
	chunk   int
	logger  *slog.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	conn     *imapclient.Client
	selected string
}

// NewClient creates a client for one account. The connection is established
// lazily on first use.
func NewClient(creds *Credentials, email string, folders []string, chunkSize int, opts ...Option) *Client {
	c := &Client{
		creds:   creds,
		email:   email,
		folders: folders,
		chunk:   chunkSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	cfg := &c.creds.Server
	addr := cfg.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", cfg.TLS, "starttls", cfg.STARTTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	if cfg.TLS {
		conn, err = imapclient.DialTLS(addr, imapOpts)
	} else if cfg.STARTTLS {
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	} else {
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if c.creds.AccessToken != "" {
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: cfg.Username,
			Token:    c.creds.AccessToken,
		})
		if err := conn.Authenticate(saslClient); err != nil {
			_ = conn.Close()
			return fmt.Errorf("IMAP OAUTHBEARER auth: %w", err)
		}
	} else {
		if err := conn.Login(cfg.Username, c.creds.Password).Wait(); err != nil {
			_ = conn.Close()
			return fmt.Errorf("IMAP login: %w", err)
		}
	}

	c.conn = conn
	c.selected = ""
	c.logger.Debug("connected and authenticated", "user", cfg.Username)
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
// It holds the mutex for the duration of fn.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.connect(ctx); err != nil {
		return err
	}
	return fn(c.conn)
}

// wait blocks on the rate limiter, if one is configured.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// SelectFolder selects a folder with CONDSTORE enabled and returns its
// markers.
func (c *Client) SelectFolder(ctx context.Context, folder string) (*mail.Selection, error) {
	var sel mail.Selection
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		data, err := conn.Select(folder, &imap.SelectOptions{CondStore: true}).Wait()
		if err != nil {
			return fmt.Errorf("SELECT %q: %w", folder, err)
		}
		c.selected = folder
		sel = mail.Selection{
			Folder:        folder,
			UIDValidity:   data.UIDValidity,
			HighestModSeq: data.HighestModSeq,
			NumMessages:   data.NumMessages,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sel, nil
}

// FolderStatus fetches the folder's change markers via STATUS, without
// changing the selected folder.
func (c *Client) FolderStatus(ctx context.Context, folder string) (*mail.FolderStatus, error) {
	var status mail.FolderStatus
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		data, err := conn.Status(folder, &imap.StatusOptions{
			UIDValidity:   true,
			HighestModSeq: true,
		}).Wait()
		if err != nil {
			return fmt.Errorf("STATUS %q: %w", folder, err)
		}
		status = mail.FolderStatus{
			UIDValidity:   data.UIDValidity,
			HighestModSeq: data.HighestModSeq,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// AllUIDs returns every UID in the selected folder, ascending.
func (c *Client) AllUIDs(ctx context.Context) ([]uint32, error) {
	var uids []uint32
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		searchData, err := conn.UIDSearch(&imap.SearchCriteria{}, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH: %w", err)
		}
		uids = collectUIDs(searchData)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// SearchChangedSince returns UIDs in the selected folder that are not
// \Deleted and changed strictly after modseq. The MODSEQ search key is
// inclusive, hence the +1.
func (c *Client) SearchChangedSince(ctx context.Context, modseq uint64) ([]uint32, error) {
	var uids []uint32
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		criteria := &imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagDeleted},
			ModSeq:  &imap.SearchCriteriaModSeq{ModSeq: modseq + 1},
		}
		searchData, err := conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH MODSEQ: %w", err)
		}
		uids = collectUIDs(searchData)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// FetchGMsgIDs maps each requested UID to its global message id, derived
// from the envelope. UIDs the server no longer knows are absent.
func (c *Client) FetchGMsgIDs(ctx context.Context, uids []uint32) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		msgs, err := conn.Fetch(uidSetOf(uids), &imap.FetchOptions{
			UID:      true,
			Envelope: true,
		}).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH envelope: %w", err)
		}
		for _, msg := range msgs {
			if msg.Envelope == nil {
				continue
			}
			out[uint32(msg.UID)] = gmsgID(msg.Envelope)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchBodies downloads full messages for the requested UIDs and explodes
// them into MIME parts. A MIME decode failure surfaces as *mail.EncodingError.
func (c *Client) FetchBodies(ctx context.Context, uids []uint32) ([]mail.FetchedMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
	}

	var fetched []mail.FetchedMessage
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		msgs, err := conn.Fetch(uidSetOf(uids), fetchOpts).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH bodies: %w", err)
		}
		for _, msg := range msgs {
			if msg.Envelope == nil {
				continue
			}
			var raw []byte
			if len(msg.BodySection) > 0 {
				raw = msg.BodySection[0].Bytes
			}
			if len(raw) == 0 {
				continue
			}
			parts, err := explodeParts(raw)
			if err != nil {
				return &mail.EncodingError{UID: uint32(msg.UID), Cause: err}
			}
			fetched = append(fetched, mail.FetchedMessage{
				UID:    uint32(msg.UID),
				GMsgID: gmsgID(msg.Envelope),
				Flags:  flagStrings(msg.Flags),
				Meta:   envelopeMeta(msg.Envelope, msg.InternalDate, msg.RFC822Size),
				Parts:  parts,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fetched, nil
}

// FetchFlags returns current flags for the requested UIDs.
func (c *Client) FetchFlags(ctx context.Context, uids []uint32) (map[uint32][]string, error) {
	out := make(map[uint32][]string, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		msgs, err := conn.Fetch(uidSetOf(uids), &imap.FetchOptions{
			UID:   true,
			Flags: true,
		}).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH flags: %w", err)
		}
		for _, msg := range msgs {
			out[uint32(msg.UID)] = flagStrings(msg.Flags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SyncFolders is the configured folder priority order.
func (c *Client) SyncFolders() []string {
	return append([]string(nil), c.folders...)
}

// ChunkSize is the body fetch batch size.
func (c *Client) ChunkSize() int {
	return c.chunk
}

// EmailAddress identifies the account.
func (c *Client) EmailAddress() string {
	return c.email
}

// Close logs out and disconnects from the IMAP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selected = ""
	return conn.Logout().Wait()
}

// uidSetOf builds a UIDSet from plain uint32 UIDs.
func uidSetOf(uids []uint32) imap.UIDSet {
	var set imap.UIDSet
	for _, uid := range uids {
		set.AddNum(imap.UID(uid))
	}
	return set
}

// collectUIDs extracts plain uint32 UIDs from search results.
func collectUIDs(data *imap.SearchData) []uint32 {
	uidSet, ok := data.All.(imap.UIDSet)
	if !ok {
		return nil
	}
	nums, _ := uidSet.Nums()
	uids := make([]uint32, 0, len(nums))
	for _, uid := range nums {
		uids = append(uids, uint32(uid))
	}
	return uids
}

// flagStrings converts IMAP flags to plain strings.
func flagStrings(flags []imap.Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}

// gmsgID derives the stable per-account message id from the Message-ID
// header. Messages without one fall back to a digest of envelope fields, so
// the id stays stable across folders and re-fetches either way.
func gmsgID(env *imap.Envelope) uint64 {
	h := fnv.New64a()
	if id := strings.TrimSpace(env.MessageID); id != "" {
		io.WriteString(h, id)
	} else {
		io.WriteString(h, env.Subject)
		io.WriteString(h, env.Date.UTC().Format(time.RFC3339))
		for _, a := range env.From {
			io.WriteString(h, a.Addr())
		}
	}
	return h.Sum64()
}

// envelopeMeta converts an IMAP envelope into stored message metadata.
func envelopeMeta(env *imap.Envelope, internalDate time.Time, size int64) mail.MessageMeta {
	return mail.MessageMeta{
		GMsgID:       gmsgID(env),
		MessageID:    strings.TrimSpace(env.MessageID),
		Subject:      textutil.EnsureUTF8(env.Subject),
		From:         formatAddresses(env.From),
		To:           formatAddresses(env.To),
		Cc:           formatAddresses(env.Cc),
		Date:         env.Date,
		InternalDate: internalDate,
		Size:         size,
	}
}

// formatAddresses renders an address list as "Name <user@host>" entries.
func formatAddresses(addrs []imap.Address) string {
	var parts []string
	for _, a := range addrs {
		addr := a.Addr()
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", textutil.EnsureUTF8(a.Name), addr))
		} else {
			parts = append(parts, addr)
		}
	}
	return strings.Join(parts, ", ")
}

// explodeParts parses a raw RFC 5322 message and returns its MIME leaves.
func explodeParts(raw []byte) ([]mail.MessagePart, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse MIME: %w", err)
	}

	var parts []mail.MessagePart
	if env.Text != "" {
		parts = append(parts, mail.MessagePart{
			PartID:      "1",
			ContentType: "text/plain",
			Content:     []byte(textutil.EnsureUTF8(env.Text)),
		})
	}
	if env.HTML != "" {
		parts = append(parts, mail.MessagePart{
			PartID:      "2",
			ContentType: "text/html",
			Content:     []byte(textutil.EnsureUTF8(env.HTML)),
		})
	}
	for _, group := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, p := range group {
			partID := p.PartID
			if partID == "" {
				partID = fmt.Sprintf("a%d", len(parts)+1)
			}
			parts = append(parts, mail.MessagePart{
				PartID:      partID,
				ContentType: p.ContentType,
				Filename:    p.FileName,
				Content:     p.Content,
			})
		}
	}
	return parts, nil
}
