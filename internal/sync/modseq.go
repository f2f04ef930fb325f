package sync

import (
	"context"
	"fmt"

	"github.com/mailmirror/mailmirror/internal/mail"
	"github.com/mailmirror/mailmirror/internal/store"
)

// flagChunkFactor scales the body chunk size for flag refreshes. Flag
// fetches return no bodies, so much larger batches are safe.
const flagChunkFactor = 5

// highestModSeqUpdate applies every change past the cursor to one selected
// folder: new messages, flag updates, deletions, then the cursor itself.
// The cursor moves last so a crash anywhere in between replays cleanly.
func (r *run) highestModSeqUpdate(ctx context.Context, folder string, sel *mail.Selection, cursor store.Cursor) error {
	st := r.engine.store

	changed, err := r.client.SearchChangedSince(ctx, uint64(cursor.HighestModSeq))
	if err != nil {
		return fmt.Errorf("search changed: %w", err)
	}

	local, err := st.LocalUIDs(r.account.ID, folder)
	if err != nil {
		return err
	}

	newUIDs := diffUIDs(changed, local)
	updated := intersectUIDs(changed, local)

	if err := r.downloadNew(ctx, folder, newUIDs); err != nil {
		return err
	}
	if err := r.refreshFlags(ctx, folder, updated); err != nil {
		return err
	}

	// Deletion pass: anything we hold that the server no longer lists.
	serverUIDs, err := r.client.AllUIDs(ctx)
	if err != nil {
		return fmt.Errorf("list uids: %w", err)
	}
	localNow, err := st.LocalUIDs(r.account.ID, folder)
	if err != nil {
		return err
	}
	if gone := diffUIDs(localNow, serverUIDs); len(gone) > 0 {
		if r.safeCommit(folder, "delete memberships", func() error {
			return st.DeleteMemberships(r.account.ID, folder, gone)
		}) {
			r.counters.MessagesDeleted += int64(len(gone))
			r.logger.Debug("removed deleted messages", "folder", folder, "count", len(gone))
		}
	}

	r.safeCommit(folder, "advance cursor", func() error {
		return st.AdvanceCursor(r.account.ID, folder, sel.UIDValidity, sel.HighestModSeq)
	})
	return nil
}

// refreshFlags re-fetches flags for updated uids and rewrites the local
// value where it differs. One commit per chunk.
func (r *run) refreshFlags(ctx context.Context, folder string, uids []uint32) error {
	st := r.engine.store

	for _, chunk := range chunkUIDs(uids, r.client.ChunkSize()*flagChunkFactor) {
		if err := ctx.Err(); err != nil {
			return err
		}

		remote, err := r.client.FetchFlags(ctx, chunk)
		if err != nil {
			return fmt.Errorf("fetch flags: %w", err)
		}
		stored, err := st.MembershipFlags(r.account.ID, folder, chunk)
		if err != nil {
			return err
		}

		changes := make(map[uint32]string)
		for _, uid := range chunk {
			flags, ok := remote[uid]
			if !ok {
				continue
			}
			storedFlags, ok := stored[uid]
			if !ok {
				continue
			}
			canonical := mail.FlagString(flags)
			if canonical != storedFlags {
				changes[uid] = canonical
			}
		}
		if len(changes) == 0 {
			continue
		}
		if r.safeCommit(folder, "update flags", func() error {
			return st.UpdateMembershipFlagsBatch(r.account.ID, folder, changes)
		}) {
			r.counters.FlagsUpdated += int64(len(changes))
		}
	}
	return nil
}
