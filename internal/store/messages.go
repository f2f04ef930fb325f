package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Membership is one (folder, uid) → g_msgid row to persist.
type Membership struct {
	Folder string
	UID    uint32
	GMsgID uint64
	Flags  string
}

// MetaRow is the once-per-(account, g_msgid) message metadata.
type MetaRow struct {
	GMsgID       uint64
	MessageID    string
	Subject      string
	From         string
	To           string
	Cc           string
	SentAt       time.Time
	InternalDate time.Time
	Size         int64
}

// PartRow records one MIME part's blob reference.
type PartRow struct {
	GMsgID      uint64
	PartID      string
	BlobRef     string
	ContentType string
	Filename    string
	Size        int64
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(sqliteTimeLayout), Valid: true}
}

// ApplyChunk commits one fetch chunk's rows in a single transaction.
// Meta and part rows use INSERT OR IGNORE: for a given (account, g_msgid)
// they are written exactly once, so replaying a chunk after a crash is
// idempotent. Membership rows upsert, which also makes flag values from a
// replay win.
func (s *Store) ApplyChunk(accountID int64, memberships []Membership, metas []MetaRow, parts []PartRow) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, m := range metas {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO message_meta
					(account_id, g_msgid, message_id, subject, from_header, to_header, cc_header,
					 sent_at, internal_date, size_estimate)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, accountID, int64(m.GMsgID), m.MessageID, m.Subject, m.From, m.To, m.Cc,
				nullTime(m.SentAt), nullTime(m.InternalDate), m.Size); err != nil {
				return fmt.Errorf("insert meta %d: %w", m.GMsgID, err)
			}
		}
		for _, p := range parts {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO message_parts
					(account_id, g_msgid, part_id, blob_ref, content_type, filename, size)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, accountID, int64(p.GMsgID), p.PartID, p.BlobRef, p.ContentType, p.Filename, p.Size); err != nil {
				return fmt.Errorf("insert part %d/%s: %w", p.GMsgID, p.PartID, err)
			}
		}
		for _, fm := range memberships {
			if _, err := tx.Exec(`
				INSERT INTO folder_messages (account_id, folder_name, msg_uid, g_msgid, flags)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(account_id, folder_name, msg_uid) DO UPDATE SET
					g_msgid = excluded.g_msgid,
					flags = excluded.flags
			`, accountID, fm.Folder, int64(fm.UID), int64(fm.GMsgID), fm.Flags); err != nil {
				return fmt.Errorf("insert membership %s/%d: %w", fm.Folder, fm.UID, err)
			}
		}
		return nil
	})
}

// HasMeta reports whether meta exists for (account, g_msgid).
func (s *Store) HasMeta(accountID int64, gMsgID uint64) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM message_meta WHERE account_id = ? AND g_msgid = ?
	`, accountID, int64(gMsgID)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has meta: %w", err)
	}
	return n > 0, nil
}
