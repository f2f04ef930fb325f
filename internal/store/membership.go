package store

import (
	"database/sql"
	"fmt"
)

// LocalUIDs returns the UIDs recorded for (account, folder), ascending.
func (s *Store) LocalUIDs(accountID int64, folder string) ([]uint32, error) {
	rows, err := s.db.Query(`
		SELECT msg_uid FROM folder_messages
		WHERE account_id = ? AND folder_name = ?
		ORDER BY msg_uid
	`, accountID, folder)
	if err != nil {
		return nil, fmt.Errorf("local uids: %w", err)
	}
	defer rows.Close()

	var uids []uint32
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan uid: %w", err)
		}
		uids = append(uids, uint32(uid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uids: %w", err)
	}
	return uids, nil
}

// KnownGMsgIDs returns every distinct g_msgid with a membership row for the
// account, across all folders.
func (s *Store) KnownGMsgIDs(accountID int64) (map[uint64]bool, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT g_msgid FROM folder_messages
		WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("known g_msgids: %w", err)
	}
	defer rows.Close()

	known := make(map[uint64]bool)
	for rows.Next() {
		var g int64
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan g_msgid: %w", err)
		}
		known[uint64(g)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate g_msgids: %w", err)
	}
	return known, nil
}

// MembershipFlags returns the stored flag string per UID for the requested
// UIDs in (account, folder).
func (s *Store) MembershipFlags(accountID int64, folder string, uids []uint32) (map[uint32]string, error) {
	flags := make(map[uint32]string, len(uids))
	err := queryInChunks(s.db, uids, []interface{}{accountID, folder}, `
		SELECT msg_uid, flags FROM folder_messages
		WHERE account_id = ? AND folder_name = ? AND msg_uid IN (%s)
	`, func(rows *sql.Rows) error {
		var uid int64
		var f string
		if err := rows.Scan(&uid, &f); err != nil {
			return err
		}
		flags[uint32(uid)] = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("membership flags: %w", err)
	}
	return flags, nil
}

// UpdateMembershipFlags rewrites the flag string for one membership row.
func (s *Store) UpdateMembershipFlags(accountID int64, folder string, uid uint32, flags string) error {
	_, err := s.db.Exec(`
		UPDATE folder_messages SET flags = ?
		WHERE account_id = ? AND folder_name = ? AND msg_uid = ?
	`, flags, accountID, folder, int64(uid))
	if err != nil {
		return fmt.Errorf("update flags: %w", err)
	}
	return nil
}

// UpdateMembershipFlagsBatch rewrites the flag strings for several rows of
// (account, folder) in one transaction, so a failed batch leaves no rows
// half-updated.
func (s *Store) UpdateMembershipFlagsBatch(accountID int64, folder string, flags map[uint32]string) error {
	if len(flags) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		for uid, f := range flags {
			if _, err := tx.Exec(`
				UPDATE folder_messages SET flags = ?
				WHERE account_id = ? AND folder_name = ? AND msg_uid = ?
			`, f, accountID, folder, int64(uid)); err != nil {
				return fmt.Errorf("update flags for uid %d: %w", uid, err)
			}
		}
		return nil
	})
}

// DeleteMemberships removes membership rows whose UIDs vanished from the
// server. Message meta and parts are left alone; a GC worker reaps
// danglers.
func (s *Store) DeleteMemberships(accountID int64, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		return execInChunks(tx, uids, []interface{}{accountID, folder}, `
			DELETE FROM folder_messages
			WHERE account_id = ? AND folder_name = ? AND msg_uid IN (%s)
		`)
	})
}

// GMsgIDsForFolder returns the g_msgid and flags of every membership row in
// (account, folder), keyed by g_msgid. Used by the UID resync.
func (s *Store) GMsgIDsForFolder(accountID int64, folder string) (map[uint64]string, error) {
	rows, err := s.db.Query(`
		SELECT g_msgid, flags FROM folder_messages
		WHERE account_id = ? AND folder_name = ?
	`, accountID, folder)
	if err != nil {
		return nil, fmt.Errorf("folder g_msgids: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]string)
	for rows.Next() {
		var g int64
		var f string
		if err := rows.Scan(&g, &f); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out[uint64(g)] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}

// RewriteMembershipUIDs replaces every membership row in (account, folder)
// according to newUIDs, a g_msgid → fresh server UID mapping. Rows whose
// g_msgid is not in the mapping are dropped (the message left the folder);
// flags carry over unchanged. No bodies are touched.
func (s *Store) RewriteMembershipUIDs(accountID int64, folder string, newUIDs map[uint64]uint32) error {
	existing, err := s.GMsgIDsForFolder(accountID, folder)
	if err != nil {
		return err
	}

	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM folder_messages
			WHERE account_id = ? AND folder_name = ?
		`, accountID, folder); err != nil {
			return fmt.Errorf("clear folder memberships: %w", err)
		}
		for g, flags := range existing {
			uid, ok := newUIDs[g]
			if !ok {
				continue
			}
			if _, err := tx.Exec(`
				INSERT INTO folder_messages (account_id, folder_name, msg_uid, g_msgid, flags)
				VALUES (?, ?, ?, ?, ?)
			`, accountID, folder, int64(uid), int64(g), flags); err != nil {
				return fmt.Errorf("rewrite membership: %w", err)
			}
		}
		return nil
	})
}
