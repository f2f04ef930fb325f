package store

import (
	"fmt"
	"math"
)

// NoMarker is the sentinel for "never synced". Any real UIDVALIDITY or
// HIGHESTMODSEQ the server reports compares strictly greater, so the first
// sync of a folder is always treated as requiring a full pass.
const NoMarker int64 = math.MinInt64

// Cursor is the per-folder sync checkpoint.
type Cursor struct {
	UIDValidity   int64
	HighestModSeq int64
}

// Exists reports whether the folder has ever completed a sync.
func (c Cursor) Exists() bool {
	return c.UIDValidity != NoMarker
}

// LoadCursors returns a cursor for each requested folder. Folders with no
// persisted row get {NoMarker, NoMarker}.
func (s *Store) LoadCursors(accountID int64, folders []string) (map[string]Cursor, error) {
	cursors := make(map[string]Cursor, len(folders))
	for _, f := range folders {
		cursors[f] = Cursor{UIDValidity: NoMarker, HighestModSeq: NoMarker}
	}

	rows, err := s.db.Query(`
		SELECT folder_name, uid_validity, highestmodseq
		FROM folder_cursors
		WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var folder string
		var c Cursor
		if err := rows.Scan(&folder, &c.UIDValidity, &c.HighestModSeq); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		if _, wanted := cursors[folder]; wanted {
			cursors[folder] = c
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}

// GetCursor returns the cursor for one folder, or the sentinel pair if the
// folder has never been synced.
func (s *Store) GetCursor(accountID int64, folder string) (Cursor, error) {
	cursors, err := s.LoadCursors(accountID, []string{folder})
	if err != nil {
		return Cursor{}, err
	}
	return cursors[folder], nil
}

// InsertCursor creates the cursor row after a folder's first completed sync.
func (s *Store) InsertCursor(accountID int64, folder string, uidValidity uint32, highestModSeq uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO folder_cursors (account_id, folder_name, uid_validity, highestmodseq, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
	`, accountID, folder, int64(uidValidity), int64(highestModSeq))
	if err != nil {
		return fmt.Errorf("insert cursor: %w", err)
	}
	return nil
}

// AdvanceCursor moves a folder's HIGHESTMODSEQ forward. A regression is a
// no-op: the cursor only ever moves forward outside of a UIDVALIDITY reset.
func (s *Store) AdvanceCursor(accountID int64, folder string, uidValidity uint32, highestModSeq uint64) error {
	_, err := s.db.Exec(`
		UPDATE folder_cursors
		SET uid_validity = ?, highestmodseq = ?, updated_at = datetime('now')
		WHERE account_id = ? AND folder_name = ? AND highestmodseq <= ?
	`, int64(uidValidity), int64(highestModSeq), accountID, folder, int64(highestModSeq))
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// ReplaceCursor rewrites the cursor unconditionally. Only the UIDVALIDITY
// reset path uses this, after the UID resync has rewritten the folder's
// membership rows.
func (s *Store) ReplaceCursor(accountID int64, folder string, uidValidity uint32, highestModSeq uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO folder_cursors (account_id, folder_name, uid_validity, highestmodseq, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(account_id, folder_name) DO UPDATE SET
			uid_validity = excluded.uid_validity,
			highestmodseq = excluded.highestmodseq,
			updated_at = excluded.updated_at
	`, accountID, folder, int64(uidValidity), int64(highestModSeq))
	if err != nil {
		return fmt.Errorf("replace cursor: %w", err)
	}
	return nil
}
