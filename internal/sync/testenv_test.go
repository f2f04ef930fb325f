package sync_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mailmirror/mailmirror/internal/blob"
	"github.com/mailmirror/mailmirror/internal/mail"
	"github.com/mailmirror/mailmirror/internal/store"
	"github.com/mailmirror/mailmirror/internal/sync"
	"github.com/mailmirror/mailmirror/internal/testutil"
)

const testEmail = "alice@example.com"

// TestEnv wires a temporary store, a blob dir and a scripted mock server
// behind a real Engine.
type TestEnv struct {
	t      *testing.T
	Store  *store.Store
	Blobs  *blob.Store
	Client *mail.MockClient
	Dialer *mail.MockDialer
	Engine *sync.Engine
}

func newTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	st := testutil.NewTestStore(t)
	blobs, err := blob.New(filepath.Join(t.TempDir(), "blobs"))
	testutil.MustNoErr(t, err, "create blob store")

	client := mail.NewMockClient(testEmail)
	dialer := &mail.MockDialer{Client: client}

	return &TestEnv{
		t:      t,
		Store:  st,
		Blobs:  blobs,
		Client: client,
		Dialer: dialer,
		Engine: sync.New(dialer, st, blobs),
	}
}

// hookedClient fires afterFetch once, right after the first FetchBodies call
// returns. Tests use it to cancel or break a run between chunks.
type hookedClient struct {
	*mail.MockClient
	afterFetch func()
}

func (c *hookedClient) FetchBodies(ctx context.Context, uids []uint32) ([]mail.FetchedMessage, error) {
	out, err := c.MockClient.FetchBodies(ctx, uids)
	if c.afterFetch != nil {
		f := c.afterFetch
		c.afterFetch = nil
		f()
	}
	return out, err
}

// clientDialer hands out a fixed client, letting tests dial a wrapped mock.
type clientDialer struct {
	client mail.Client
}

func (d *clientDialer) Dial(ctx context.Context, email string) (mail.Client, error) {
	return d.client, nil
}

// seedInbox scripts the baseline server: INBOX with three messages,
// UIDVALIDITY 1, HIGHESTMODSEQ 100.
func (e *TestEnv) seedInbox() {
	e.Client.AddFolder("INBOX", 1, 100)
	e.Client.AddMessage("INBOX", 10, &mail.MockMessage{GMsgID: 0xA, ModSeq: 90, Subject: "first", Body: []byte("body a")})
	e.Client.AddMessage("INBOX", 11, &mail.MockMessage{GMsgID: 0xB, ModSeq: 91, Subject: "second", Body: []byte("body b")})
	e.Client.AddMessage("INBOX", 12, &mail.MockMessage{GMsgID: 0xC, ModSeq: 92, Subject: "third", Body: []byte("body c")})
}

func (e *TestEnv) runInitial() {
	e.t.Helper()
	testutil.MustNoErr(e.t, e.Engine.InitialSync(context.Background(), testEmail), "InitialSync")
}

func (e *TestEnv) runIncremental() {
	e.t.Helper()
	testutil.MustNoErr(e.t, e.Engine.IncrementalSync(context.Background(), testEmail), "IncrementalSync")
}

func (e *TestEnv) account() *store.Account {
	e.t.Helper()
	acc, err := e.Store.GetAccountByEmail(testEmail)
	testutil.MustNoErr(e.t, err, "GetAccountByEmail")
	if acc == nil {
		e.t.Fatal("account was not created")
	}
	return acc
}

func (e *TestEnv) assertMetaCount(want int) {
	e.t.Helper()
	var count int
	err := e.Store.DB().QueryRow("SELECT COUNT(*) FROM message_meta").Scan(&count)
	testutil.MustNoErr(e.t, err, "count message_meta")
	if count != want {
		e.t.Errorf("message_meta count = %d, want %d", count, want)
	}
}

func (e *TestEnv) assertMembershipCount(want int) {
	e.t.Helper()
	var count int
	err := e.Store.DB().QueryRow("SELECT COUNT(*) FROM folder_messages").Scan(&count)
	testutil.MustNoErr(e.t, err, "count folder_messages")
	if count != want {
		e.t.Errorf("folder_messages count = %d, want %d", count, want)
	}
}

func (e *TestEnv) assertCursor(folder string, uidValidity, highestModSeq int64) {
	e.t.Helper()
	c, err := e.Store.GetCursor(e.account().ID, folder)
	testutil.MustNoErr(e.t, err, "GetCursor")
	if !c.Exists() {
		e.t.Fatalf("%s: cursor does not exist", folder)
	}
	if c.UIDValidity != uidValidity || c.HighestModSeq != highestModSeq {
		e.t.Errorf("%s: cursor = {%d %d}, want {%d %d}",
			folder, c.UIDValidity, c.HighestModSeq, uidValidity, highestModSeq)
	}
}

func (e *TestEnv) assertNoCursor(folder string) {
	e.t.Helper()
	c, err := e.Store.GetCursor(e.account().ID, folder)
	testutil.MustNoErr(e.t, err, "GetCursor")
	if c.Exists() {
		e.t.Errorf("%s: cursor = {%d %d}, want none", folder, c.UIDValidity, c.HighestModSeq)
	}
}

func (e *TestEnv) localUIDs(folder string) []uint32 {
	e.t.Helper()
	uids, err := e.Store.LocalUIDs(e.account().ID, folder)
	testutil.MustNoErr(e.t, err, "LocalUIDs")
	return uids
}

func (e *TestEnv) membershipFlags(folder string, uid uint32) string {
	e.t.Helper()
	flags, err := e.Store.MembershipFlags(e.account().ID, folder, []uint32{uid})
	testutil.MustNoErr(e.t, err, "MembershipFlags")
	f, ok := flags[uid]
	if !ok {
		e.t.Fatalf("%s/%d: no membership row", folder, uid)
	}
	return f
}
