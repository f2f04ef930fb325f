package sync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mailmirror/mailmirror/internal/mail"
	"github.com/mailmirror/mailmirror/internal/store"
	"github.com/mailmirror/mailmirror/internal/sync"
	"github.com/mailmirror/mailmirror/internal/testutil"
)

func TestInitialSync_ColdStart(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()

	env.runInitial()

	env.assertMetaCount(3)
	env.assertMembershipCount(3)
	env.assertCursor("INBOX", 1, 100)
	testutil.AssertEqualSlices(t, env.localUIDs("INBOX"), 10, 11, 12)

	acc := env.account()
	if !acc.InitialSyncDone {
		t.Error("initial_sync_done should be set")
	}
}

func TestInitialSync_CrossFolderLink(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()

	// All Mail reports the same three messages under different UIDs.
	env.Client.AddFolder("[Gmail]/All Mail", 3, 200)
	env.Client.AddMessage("[Gmail]/All Mail", 50, &mail.MockMessage{GMsgID: 0xA, ModSeq: 150, Subject: "first", Body: []byte("body a")})
	env.Client.AddMessage("[Gmail]/All Mail", 51, &mail.MockMessage{GMsgID: 0xB, ModSeq: 151, Subject: "second", Body: []byte("body b")})
	env.Client.AddMessage("[Gmail]/All Mail", 52, &mail.MockMessage{GMsgID: 0xC, ModSeq: 152, Subject: "third", Body: []byte("body c")})

	env.runInitial()

	env.assertMetaCount(3)
	env.assertMembershipCount(6)
	env.assertCursor("INBOX", 1, 100)
	env.assertCursor("[Gmail]/All Mail", 3, 200)

	// All Mail must not have fetched a single body: one fetch for INBOX,
	// none for the linked folder.
	if env.Client.BodyFetchCalls != 1 {
		t.Errorf("BodyFetchCalls = %d, want 1", env.Client.BodyFetchCalls)
	}
	for _, uids := range env.Client.BodyFetchUIDs {
		for _, uid := range uids {
			if uid >= 50 {
				t.Errorf("body fetch issued for All Mail uid %d", uid)
			}
		}
	}
}

func TestIncrementalSync_FlagChange(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	env.Client.SetFlags("INBOX", 11, 105, "\\Seen")

	env.runIncremental()

	env.assertMetaCount(3)
	env.assertMembershipCount(3)
	env.assertCursor("INBOX", 1, 105)
	if got := env.membershipFlags("INBOX", 11); got != "\\Seen" {
		t.Errorf("flags = %q, want %q", got, "\\Seen")
	}
	// No body was re-fetched for a flag change.
	if env.Client.BodyFetchCalls != 1 {
		t.Errorf("BodyFetchCalls = %d, want 1", env.Client.BodyFetchCalls)
	}
}

func TestIncrementalSync_RemoteDelete(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	env.Client.RemoveMessage("INBOX", 11)
	env.Client.Folders["INBOX"].HighestModSeq = 101

	env.runIncremental()

	env.assertMembershipCount(2)
	testutil.AssertEqualSlices(t, env.localUIDs("INBOX"), 10, 12)
	// The body and metadata stay; only the membership goes.
	env.assertMetaCount(3)
	env.assertCursor("INBOX", 1, 101)
}

func TestInitialSync_ReconnectRetry(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.Client.FetchBodiesErrs = []error{errors.New("connection reset by peer")}

	env.runInitial()

	if env.Dialer.DialCalls != 2 {
		t.Errorf("DialCalls = %d, want 2 (initial + one reconnect)", env.Dialer.DialCalls)
	}
	env.assertMetaCount(3)
	env.assertMembershipCount(3)
	env.assertCursor("INBOX", 1, 100)

	m := env.Engine.Metrics().Snapshot()
	if m.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", m.Reconnects)
	}
}

func TestIncrementalSync_UIDValidityRegression(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	// Server rebuilds the folder: UIDVALIDITY goes backwards, every
	// message gets a fresh UID, bodies unchanged.
	inbox := env.Client.Folders["INBOX"]
	inbox.UIDValidity = 0
	inbox.HighestModSeq = 200
	old := inbox.Messages
	inbox.Messages = map[uint32]*mail.MockMessage{
		101: old[10],
		102: old[11],
		103: old[12],
	}

	env.runIncremental()

	// Memberships follow the unchanged g_msgids to the new UIDs.
	testutil.AssertEqualSlices(t, env.localUIDs("INBOX"), 101, 102, 103)
	env.assertMembershipCount(3)
	env.assertMetaCount(3)
	env.assertCursor("INBOX", 0, 200)

	// No body was re-downloaded for the rewrite.
	if env.Client.BodyFetchCalls != 1 {
		t.Errorf("BodyFetchCalls = %d, want 1", env.Client.BodyFetchCalls)
	}
}

func TestIncrementalSync_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	env.runIncremental()
	fetchesAfterFirst := env.Client.BodyFetchCalls

	env.runIncremental()

	env.assertMetaCount(3)
	env.assertMembershipCount(3)
	env.assertCursor("INBOX", 1, 100)
	if env.Client.BodyFetchCalls != fetchesAfterFirst {
		t.Errorf("BodyFetchCalls = %d, want %d (no work on an unchanged server)",
			env.Client.BodyFetchCalls, fetchesAfterFirst)
	}
}

func TestIncrementalSync_SkipsUnchangedFolders(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	selectsAfterInitial := len(env.Client.SelectCalls)
	env.runIncremental()

	// STATUS only; no folder was selected.
	if got := len(env.Client.SelectCalls); got != selectsAfterInitial {
		t.Errorf("SelectCalls = %d, want %d", got, selectsAfterInitial)
	}
	if len(env.Client.StatusCalls) == 0 {
		t.Error("expected STATUS calls")
	}
}

func TestIncrementalSync_NewMessage(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	env.Client.AddMessage("INBOX", 13, &mail.MockMessage{GMsgID: 0xD, ModSeq: 110, Subject: "fourth", Body: []byte("body d")})
	env.Client.Folders["INBOX"].HighestModSeq = 110

	env.runIncremental()

	env.assertMetaCount(4)
	env.assertMembershipCount(4)
	testutil.AssertEqualSlices(t, env.localUIDs("INBOX"), 10, 11, 12, 13)
	env.assertCursor("INBOX", 1, 110)
}

func TestIncrementalSync_NewMessageLinksAcrossFolders(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	// A known message shows up under a brand new folder entry.
	env.Client.AddMessage("INBOX", 14, &mail.MockMessage{GMsgID: 0xA, ModSeq: 120, Subject: "first", Body: []byte("body a")})
	env.Client.Folders["INBOX"].HighestModSeq = 120

	fetchesBefore := env.Client.BodyFetchCalls
	env.runIncremental()

	env.assertMetaCount(3)
	env.assertMembershipCount(4)
	if env.Client.BodyFetchCalls != fetchesBefore {
		t.Errorf("BodyFetchCalls = %d, want %d (known g_msgid must link, not download)",
			env.Client.BodyFetchCalls, fetchesBefore)
	}
}

func TestInitialSync_EmptyFolderStillGetsCursor(t *testing.T) {
	env := newTestEnv(t)
	env.Client.AddFolder("INBOX", 7, 42)

	env.runInitial()

	env.assertMetaCount(0)
	env.assertMembershipCount(0)
	env.assertCursor("INBOX", 7, 42)
}

func TestInitialSync_EncodingErrorSkipsFolderOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.Client.AddFolder("Archive", 2, 50)
	env.Client.AddMessage("Archive", 5, &mail.MockMessage{GMsgID: 0xE, ModSeq: 40, Subject: "ok", Body: []byte("fine")})

	env.Client.FetchBodiesErrs = []error{
		&mail.EncodingError{UID: 10, Cause: errors.New("bad transfer encoding")},
	}

	testutil.MustNoErr(t, env.Engine.InitialSync(context.Background(), testEmail), "InitialSync")

	// INBOX failed before committing anything; Archive synced normally.
	env.assertNoCursor("INBOX")
	env.assertCursor("Archive", 2, 50)
	testutil.AssertEqualSlices(t, env.localUIDs("Archive"), 5)

	// Encoding failures must not trigger a reconnect.
	if env.Dialer.DialCalls != 1 {
		t.Errorf("DialCalls = %d, want 1", env.Dialer.DialCalls)
	}

	// The account is not marked done while a folder is missing.
	if env.account().InitialSyncDone {
		t.Error("initial_sync_done should not be set after a folder failure")
	}
}

func TestInitialSync_ResumeRemovesVanishedUIDs(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	// Simulate a stale membership left by an interrupted earlier run: a
	// uid the server no longer reports.
	acc := env.account()
	err := env.Store.ApplyChunk(acc.ID, []store.Membership{
		{Folder: "INBOX", UID: 99, GMsgID: 0xA},
	}, nil, nil)
	testutil.MustNoErr(t, err, "insert stale membership")

	env.runInitial()

	testutil.AssertEqualSlices(t, env.localUIDs("INBOX"), 10, 11, 12)
	env.assertMetaCount(3)
}

func TestInitialSync_DialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.Dialer.DialErr = errors.New("auth failed")

	if err := env.Engine.InitialSync(context.Background(), testEmail); err == nil {
		t.Error("expected error when dial fails")
	}
	if _, err := env.Store.GetAccountByEmail(testEmail); err != nil {
		t.Fatalf("GetAccountByEmail() error = %v", err)
	}
}

func TestInitialSync_CanceledMidFolderReturnsError(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.Client.Chunk = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &hookedClient{MockClient: env.Client, afterFetch: cancel}
	engine := sync.New(&clientDialer{client: client}, env.Store, env.Blobs)

	err := engine.InitialSync(ctx, testEmail)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("InitialSync() error = %v, want context.Canceled", err)
	}

	// The run stopped at the chunk boundary: one fetch happened, the first
	// chunk is kept, and no cursor was written.
	if env.Client.BodyFetchCalls != 1 {
		t.Errorf("BodyFetchCalls = %d, want 1", env.Client.BodyFetchCalls)
	}
	env.assertMetaCount(1)
	env.assertNoCursor("INBOX")
	if env.account().InitialSyncDone {
		t.Error("initial_sync_done should not be set after cancellation")
	}

	runs, rerr := env.Store.RecentSyncRuns(env.account().ID, 1)
	testutil.MustNoErr(t, rerr, "RecentSyncRuns")
	if len(runs) != 1 || runs[0].Status != "failed" {
		t.Fatalf("expected one failed run, got %d run(s)", len(runs))
	}
}

func TestIncrementalSync_CanceledMidFolderReturnsError(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()

	env.Client.AddMessage("INBOX", 13, &mail.MockMessage{GMsgID: 0xD, ModSeq: 110, Subject: "fourth", Body: []byte("body d")})
	env.Client.AddMessage("INBOX", 14, &mail.MockMessage{GMsgID: 0xE, ModSeq: 111, Subject: "fifth", Body: []byte("body e")})
	env.Client.Folders["INBOX"].HighestModSeq = 111
	env.Client.Chunk = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &hookedClient{MockClient: env.Client, afterFetch: cancel}
	engine := sync.New(&clientDialer{client: client}, env.Store, env.Blobs)

	err := engine.IncrementalSync(ctx, testEmail)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("IncrementalSync() error = %v, want context.Canceled", err)
	}

	// The cursor stayed put, so the next poll replays the cut-off batch.
	env.assertCursor("INBOX", 1, 100)
}

func TestInitialSync_CommitFailureDropsBatchAndContinues(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()

	// Knock out the meta table right before the persist step so the
	// chunk's transaction fails.
	client := &hookedClient{MockClient: env.Client, afterFetch: func() {
		_, err := env.Store.DB().Exec("ALTER TABLE message_meta RENAME TO message_meta_gone")
		testutil.MustNoErr(t, err, "rename message_meta")
	}}
	engine := sync.New(&clientDialer{client: client}, env.Store, env.Blobs)

	testutil.MustNoErr(t, engine.InitialSync(context.Background(), testEmail), "InitialSync")

	// The batch was dropped whole, the run finished, and the drop was
	// counted in both the live metrics and the run record.
	m := engine.Metrics().Snapshot()
	if m.CommitsDropped != 1 {
		t.Errorf("CommitsDropped = %d, want 1", m.CommitsDropped)
	}
	env.assertMembershipCount(0)
	env.assertCursor("INBOX", 1, 100)

	runs, err := env.Store.RecentSyncRuns(env.account().ID, 1)
	testutil.MustNoErr(t, err, "RecentSyncRuns")
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Status != "completed" {
		t.Errorf("run status = %q, want completed", runs[0].Status)
	}
	if runs[0].CommitsDropped != 1 {
		t.Errorf("run CommitsDropped = %d, want 1", runs[0].CommitsDropped)
	}
	if runs[0].MessagesFetched != 0 {
		t.Errorf("MessagesFetched = %d, want 0 (dropped batch must not count)", runs[0].MessagesFetched)
	}
}

func TestInitialSync_LinkOnlyFlagFetchesAreChunked(t *testing.T) {
	env := newTestEnv(t)
	env.Client.Chunk = 1

	env.Client.AddFolder("INBOX", 1, 100)
	env.Client.AddFolder("[Gmail]/All Mail", 2, 100)
	for i := uint32(1); i <= 6; i++ {
		env.Client.AddMessage("INBOX", i, &mail.MockMessage{GMsgID: uint64(i), ModSeq: 50, Subject: "m", Body: []byte("b")})
		env.Client.AddMessage("[Gmail]/All Mail", 100+i, &mail.MockMessage{GMsgID: uint64(i), ModSeq: 50, Subject: "m", Body: []byte("b")})
	}

	env.runInitial()

	env.assertMetaCount(6)
	env.assertMembershipCount(12)

	// All Mail's six link-only uids run at the flag batch size (5x the
	// body chunk of 1), so they take two FETCH FLAGS rounds, never one
	// unbounded set.
	if env.Client.FlagFetchCalls != 2 {
		t.Errorf("FlagFetchCalls = %d, want 2", env.Client.FlagFetchCalls)
	}
	if env.Client.BodyFetchCalls != 6 {
		t.Errorf("BodyFetchCalls = %d, want 6", env.Client.BodyFetchCalls)
	}
}

func TestSyncRuns_Recorded(t *testing.T) {
	env := newTestEnv(t)
	env.seedInbox()
	env.runInitial()
	env.runIncremental()

	runs, err := env.Store.RecentSyncRuns(env.account().ID, 10)
	testutil.MustNoErr(t, err, "RecentSyncRuns")
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	// Most recent first.
	if runs[0].Kind != "incremental" || runs[1].Kind != "initial" {
		t.Errorf("kinds = %q, %q", runs[0].Kind, runs[1].Kind)
	}
	if runs[1].MessagesFetched != 3 {
		t.Errorf("initial MessagesFetched = %d, want 3", runs[1].MessagesFetched)
	}
	for _, r := range runs {
		if r.Status != "completed" {
			t.Errorf("%s run status = %q, want completed", r.Kind, r.Status)
		}
	}
}
