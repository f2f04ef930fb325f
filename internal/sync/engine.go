// Package sync implements the mailbox synchronization engine: cursor-gated
// reconciliation of remote IMAP folders into the local store, with
// cross-folder body dedup and restartable chunked downloads.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailmirror/mailmirror/internal/blob"
	"github.com/mailmirror/mailmirror/internal/mail"
	"github.com/mailmirror/mailmirror/internal/store"
)

// Engine drives initial and incremental syncs for any number of accounts.
// It is safe to run one sync per account concurrently; a single account's
// sync is strictly sequential.
type Engine struct {
	dialer  mail.Dialer
	store   *store.Store
	blobs   *blob.Store
	logger  *slog.Logger
	metrics *Metrics
}

// New creates an Engine.
func New(dialer mail.Dialer, st *store.Store, blobs *blob.Store) *Engine {
	return &Engine{
		dialer:  dialer,
		store:   st,
		blobs:   blobs,
		logger:  slog.Default(),
		metrics: &Metrics{},
	}
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// run carries the per-account sync state: the live session, the account row
// and the counters accumulated for the sync_runs record.
type run struct {
	engine   *Engine
	client   mail.Client
	account  *store.Account
	logger   *slog.Logger
	counters store.SyncRunCounters
}

func (e *Engine) newRun(ctx context.Context, email string) (*run, error) {
	client, err := e.dialer.Dial(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", email, err)
	}

	account, err := e.store.GetOrCreateAccount(email)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get/create account: %w", err)
	}

	return &run{
		engine:  e,
		client:  client,
		account: account,
		logger:  e.logger.With("account", email),
	}, nil
}

// close releases the run's session. The client field is re-read because the
// fetch retry path may have swapped the connection.
func (r *run) close() {
	_ = r.client.Close()
}

// InitialSync seeds the local store from the server, folder by folder in
// priority order. Folder-level failures are logged and the remaining folders
// still sync; an error return means setup failed or the run was canceled.
func (e *Engine) InitialSync(ctx context.Context, email string) error {
	r, err := e.newRun(ctx, email)
	if err != nil {
		return err
	}
	defer r.close()

	runID, err := e.store.StartSyncRun(r.account.ID, "initial")
	if err != nil {
		return fmt.Errorf("start sync run: %w", err)
	}

	var folderErrs int
	for _, folder := range r.client.SyncFolders() {
		if err := ctx.Err(); err != nil {
			_ = e.store.FailSyncRun(runID, r.counters, err.Error())
			return err
		}
		if err := r.initialSyncFolder(ctx, folder); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				_ = e.store.FailSyncRun(runID, r.counters, cerr.Error())
				return cerr
			}
			r.logger.Error("folder sync failed", "folder", folder, "error", err)
			folderErrs++
			continue
		}
		r.counters.FoldersSynced++
	}

	if folderErrs > 0 {
		_ = e.store.FailSyncRun(runID, r.counters,
			fmt.Sprintf("%d folder(s) failed", folderErrs))
		r.logger.Warn("initial sync finished with failures", "failed_folders", folderErrs)
		return nil
	}

	if err := e.store.MarkInitialSyncDone(r.account.ID); err != nil {
		_ = e.store.FailSyncRun(runID, r.counters, err.Error())
		return fmt.Errorf("mark initial sync done: %w", err)
	}
	if err := e.store.CompleteSyncRun(runID, r.counters); err != nil {
		r.logger.Warn("failed to record sync run", "error", err)
	}

	r.logger.Info("initial sync complete",
		"folders", r.counters.FoldersSynced,
		"fetched", r.counters.MessagesFetched,
		"linked", r.counters.MessagesLinked)
	return nil
}

// IncrementalSync polls the server for changes since the last run. Folders
// whose HIGHESTMODSEQ did not move are skipped without selecting them.
func (e *Engine) IncrementalSync(ctx context.Context, email string) error {
	r, err := e.newRun(ctx, email)
	if err != nil {
		return err
	}
	defer r.close()

	runID, err := e.store.StartSyncRun(r.account.ID, "incremental")
	if err != nil {
		return fmt.Errorf("start sync run: %w", err)
	}

	folders := r.client.SyncFolders()
	cursors, err := e.store.LoadCursors(r.account.ID, folders)
	if err != nil {
		_ = e.store.FailSyncRun(runID, r.counters, err.Error())
		return fmt.Errorf("load cursors: %w", err)
	}

	var folderErrs int
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			_ = e.store.FailSyncRun(runID, r.counters, err.Error())
			return err
		}

		cursor := cursors[folder]

		status, err := r.client.FolderStatus(ctx, folder)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				_ = e.store.FailSyncRun(runID, r.counters, cerr.Error())
				return cerr
			}
			r.logger.Error("folder status failed", "folder", folder, "error", err)
			folderErrs++
			continue
		}
		if cursor.Exists() && int64(status.HighestModSeq) <= cursor.HighestModSeq &&
			int64(status.UIDValidity) >= cursor.UIDValidity {
			continue
		}

		if err := r.incrementalSyncFolder(ctx, folder, cursor); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				_ = e.store.FailSyncRun(runID, r.counters, cerr.Error())
				return cerr
			}
			r.logger.Error("folder sync failed", "folder", folder, "error", err)
			folderErrs++
			continue
		}
		r.counters.FoldersSynced++
	}

	if folderErrs > 0 {
		_ = e.store.FailSyncRun(runID, r.counters,
			fmt.Sprintf("%d folder(s) failed", folderErrs))
		return nil
	}
	if err := e.store.CompleteSyncRun(runID, r.counters); err != nil {
		r.logger.Warn("failed to record sync run", "error", err)
	}
	return nil
}

// initialSyncFolder performs the full reconciliation pass over one folder.
func (r *run) initialSyncFolder(ctx context.Context, folder string) error {
	st := r.engine.store

	sel, err := r.client.SelectFolder(ctx, folder)
	if err != nil {
		return fmt.Errorf("select %q: %w", folder, err)
	}

	cursor, err := st.GetCursor(r.account.ID, folder)
	if err != nil {
		return err
	}
	cursor, sel, err = r.validityGate(ctx, folder, cursor, sel)
	if err != nil {
		return err
	}

	serverUIDs, err := r.client.AllUIDs(ctx)
	if err != nil {
		return fmt.Errorf("list uids: %w", err)
	}
	existing, err := st.LocalUIDs(r.account.ID, folder)
	if err != nil {
		return err
	}

	// UIDs that vanished between restarts.
	if gone := diffUIDs(existing, serverUIDs); len(gone) > 0 {
		r.logger.Warn("local uids no longer on server, removing",
			"folder", folder, "count", len(gone))
		if r.safeCommit(folder, "delete vanished memberships", func() error {
			return st.DeleteMemberships(r.account.ID, folder, gone)
		}) {
			r.counters.MessagesDeleted += int64(len(gone))
		}
	}

	unknown := diffUIDs(serverUIDs, existing)
	if err := r.downloadNew(ctx, folder, unknown); err != nil {
		return err
	}

	switch {
	case cursor.Exists() && cursor.HighestModSeq < int64(sel.HighestModSeq):
		// Flag changes happened while an earlier sync was interrupted.
		if err := r.highestModSeqUpdate(ctx, folder, sel, cursor); err != nil {
			return err
		}
	case !cursor.Exists():
		r.safeCommit(folder, "insert cursor", func() error {
			return st.InsertCursor(r.account.ID, folder, sel.UIDValidity, sel.HighestModSeq)
		})
	}

	return nil
}

// incrementalSyncFolder selects the folder, runs the UIDVALIDITY gate and
// applies the CONDSTORE update. Folders never synced before fall back to the
// initial full pass.
func (r *run) incrementalSyncFolder(ctx context.Context, folder string, cursor store.Cursor) error {
	if !cursor.Exists() {
		return r.initialSyncFolder(ctx, folder)
	}

	sel, err := r.client.SelectFolder(ctx, folder)
	if err != nil {
		return fmt.Errorf("select %q: %w", folder, err)
	}
	cursor, sel, err = r.validityGate(ctx, folder, cursor, sel)
	if err != nil {
		return err
	}
	return r.highestModSeqUpdate(ctx, folder, sel, cursor)
}

// downloadNew splits uids into full downloads and link-only memberships and
// persists both. uids must be absent from the local folder already.
func (r *run) downloadNew(ctx context.Context, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	st := r.engine.store

	gmsgids, err := r.client.FetchGMsgIDs(ctx, uids)
	if err != nil {
		return fmt.Errorf("fetch g_msgids: %w", err)
	}
	known, err := st.KnownGMsgIDs(r.account.ID)
	if err != nil {
		return err
	}
	fullDownload, linkOnly := partitionByGMsgID(uids, gmsgids, known)

	// Link-only fetches carry no bodies, so they chunk at the flag-refresh
	// size rather than the body size.
	for _, chunk := range chunkUIDs(linkOnly, r.client.ChunkSize()*flagChunkFactor) {
		if err := ctx.Err(); err != nil {
			return err
		}
		flags, err := r.client.FetchFlags(ctx, chunk)
		if err != nil {
			return fmt.Errorf("fetch link flags: %w", err)
		}
		memberships := make([]store.Membership, 0, len(chunk))
		for _, uid := range chunk {
			memberships = append(memberships, store.Membership{
				Folder: folder,
				UID:    uid,
				GMsgID: gmsgids[uid],
				Flags:  mail.FlagString(flags[uid]),
			})
		}
		if r.safeCommit(folder, "link memberships", func() error {
			return st.ApplyChunk(r.account.ID, memberships, nil, nil)
		}) {
			r.counters.MessagesLinked += int64(len(memberships))
			r.logger.Debug("linked messages without download",
				"folder", folder, "count", len(memberships))
		}
	}

	for _, chunk := range chunkUIDs(fullDownload, r.client.ChunkSize()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetched, err := r.safeFetchBodies(ctx, folder, chunk)
		if err != nil {
			return err
		}
		if err := r.persistFetched(folder, fetched); err != nil {
			return err
		}
	}
	return nil
}

// persistFetched writes one fetched chunk: blobs first, then the rows in a
// single transaction.
func (r *run) persistFetched(folder string, fetched []mail.FetchedMessage) error {
	var (
		memberships []store.Membership
		metas       []store.MetaRow
		parts       []store.PartRow
	)
	for _, msg := range fetched {
		memberships = append(memberships, store.Membership{
			Folder: folder,
			UID:    msg.UID,
			GMsgID: msg.GMsgID,
			Flags:  mail.FlagString(msg.Flags),
		})
		metas = append(metas, store.MetaRow{
			GMsgID:       msg.GMsgID,
			MessageID:    msg.Meta.MessageID,
			Subject:      msg.Meta.Subject,
			From:         msg.Meta.From,
			To:           msg.Meta.To,
			Cc:           msg.Meta.Cc,
			SentAt:       msg.Meta.Date,
			InternalDate: msg.Meta.InternalDate,
			Size:         msg.Meta.Size,
		})
		for _, part := range msg.Parts {
			ref, err := r.engine.blobs.Put(part.Content)
			if err != nil {
				return fmt.Errorf("store part %d/%s: %w", msg.GMsgID, part.PartID, err)
			}
			parts = append(parts, store.PartRow{
				GMsgID:      msg.GMsgID,
				PartID:      part.PartID,
				BlobRef:     string(ref),
				ContentType: part.ContentType,
				Filename:    part.Filename,
				Size:        int64(len(part.Content)),
			})
		}
	}

	if r.safeCommit(folder, "persist chunk", func() error {
		return r.engine.store.ApplyChunk(r.account.ID, memberships, metas, parts)
	}) {
		r.counters.MessagesFetched += int64(len(fetched))
	}
	return nil
}
