package sync

import (
	"context"
	"fmt"

	"github.com/mailmirror/mailmirror/internal/mail"
	"github.com/mailmirror/mailmirror/internal/store"
)

// validityGate enforces the UIDVALIDITY rules on a freshly selected folder:
//
//  1. no cursor yet: accept whatever the server reports;
//  2. server value >= cached: proceed, the UID space is still usable;
//  3. server value < cached: the local UID space is invalid. Run the UID
//     resync, then continue with the rewritten cursor.
//
// Membership rows are never touched before the resync completes.
func (r *run) validityGate(ctx context.Context, folder string, cursor store.Cursor, sel *mail.Selection) (store.Cursor, *mail.Selection, error) {
	if !cursor.Exists() || int64(sel.UIDValidity) >= cursor.UIDValidity {
		return cursor, sel, nil
	}

	r.logger.Warn("UIDVALIDITY went backwards, resyncing uids",
		"folder", folder,
		"cached", cursor.UIDValidity,
		"server", sel.UIDValidity)

	if err := r.resyncUIDs(ctx, folder, sel); err != nil {
		return cursor, sel, fmt.Errorf("uid resync: %w", err)
	}

	fresh, err := r.engine.store.GetCursor(r.account.ID, folder)
	if err != nil {
		return cursor, sel, err
	}
	return fresh, sel, nil
}

// resyncUIDs rebuilds the folder's membership rows for a new UIDVALIDITY
// generation. Fresh (uid, g_msgid) pairs are fetched from the server and
// matched against the stored rows by g_msgid; matches get the new UID,
// rows whose g_msgid the server no longer reports are dropped. No bodies
// are re-downloaded. The cursor is replaced last.
func (r *run) resyncUIDs(ctx context.Context, folder string, sel *mail.Selection) error {
	st := r.engine.store

	serverUIDs, err := r.client.AllUIDs(ctx)
	if err != nil {
		return fmt.Errorf("list uids: %w", err)
	}
	gmsgids, err := r.client.FetchGMsgIDs(ctx, serverUIDs)
	if err != nil {
		return fmt.Errorf("fetch g_msgids: %w", err)
	}

	// Invert to g_msgid -> new uid. Gmail guarantees one uid per message
	// per folder; if a server ever reports duplicates, the lowest uid wins.
	newUIDs := make(map[uint64]uint32, len(gmsgids))
	for _, uid := range serverUIDs {
		g, ok := gmsgids[uid]
		if !ok {
			continue
		}
		if existing, ok := newUIDs[g]; !ok || uid < existing {
			newUIDs[g] = uid
		}
	}

	if err := st.RewriteMembershipUIDs(r.account.ID, folder, newUIDs); err != nil {
		return err
	}
	if err := st.ReplaceCursor(r.account.ID, folder, sel.UIDValidity, sel.HighestModSeq); err != nil {
		return err
	}

	r.logger.Info("uid resync complete",
		"folder", folder,
		"rewritten", len(newUIDs),
		"uid_validity", sel.UIDValidity)
	return nil
}
