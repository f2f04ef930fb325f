// Package mail defines the client contract the sync engine drives and the
// wire-level types exchanged with it. Implementations live elsewhere
// (internal/imap for real servers, MockClient here for tests).
package mail

import (
	"context"
	"time"
)

// FolderStatus holds the change markers reported by STATUS, without
// selecting the folder.
type FolderStatus struct {
	UIDValidity   uint32
	HighestModSeq uint64
}

// Selection describes the folder currently selected on the session.
type Selection struct {
	Folder        string
	UIDValidity   uint32
	HighestModSeq uint64
	NumMessages   uint32
}

// MessageMeta is the per-message metadata stored once per (account, g_msgid).
type MessageMeta struct {
	GMsgID       uint64
	MessageID    string // RFC 5322 Message-ID header
	Subject      string
	From         string
	To           string
	Cc           string
	Date         time.Time
	InternalDate time.Time
	Size         int64
}

// MessagePart is one MIME leaf of a fetched message, payload included.
type MessagePart struct {
	PartID      string // dotted MIME part index ("1", "1.2", ...)
	ContentType string
	Filename    string
	Content     []byte
}

// FetchedMessage bundles everything a body fetch yields for one UID.
// Keeping membership, metadata and parts in a single value is what
// guarantees the three stay cardinality- and order-consistent per chunk.
type FetchedMessage struct {
	UID    uint32
	GMsgID uint64
	Flags  []string
	Meta   MessageMeta
	Parts  []MessagePart
}

// Client is a single authenticated IMAP session for one account. It is not
// safe for concurrent use; the engine drives one folder at a time.
type Client interface {
	// SelectFolder selects a folder and returns its markers.
	SelectFolder(ctx context.Context, folder string) (*Selection, error)

	// FolderStatus returns UIDVALIDITY and HIGHESTMODSEQ via STATUS,
	// without changing the selected folder.
	FolderStatus(ctx context.Context, folder string) (*FolderStatus, error)

	// AllUIDs returns every UID in the selected folder.
	AllUIDs(ctx context.Context) ([]uint32, error)

	// SearchChangedSince returns UIDs in the selected folder that are not
	// \Deleted and have MODSEQ greater than modseq.
	SearchChangedSince(ctx context.Context, modseq uint64) ([]uint32, error)

	// FetchGMsgIDs maps each requested UID to its per-account global
	// message id. UIDs the server no longer knows are absent from the map.
	FetchGMsgIDs(ctx context.Context, uids []uint32) (map[uint32]uint64, error)

	// FetchBodies downloads full messages for the requested UIDs,
	// in ascending UID order. A MIME decode failure surfaces as an
	// *EncodingError.
	FetchBodies(ctx context.Context, uids []uint32) ([]FetchedMessage, error)

	// FetchFlags returns current flags for the requested UIDs.
	FetchFlags(ctx context.Context, uids []uint32) (map[uint32][]string, error)

	// SyncFolders is the ordered folder priority list for this account.
	SyncFolders() []string

	// ChunkSize is the tuning parameter for body fetch batching.
	ChunkSize() int

	// EmailAddress identifies the account this session belongs to.
	EmailAddress() string

	// Close logs out and releases the connection.
	Close() error
}

// Dialer hands out fresh authenticated sessions. The fetch retry path uses
// it to replace a wedged connection mid-sync.
type Dialer interface {
	Dial(ctx context.Context, email string) (Client, error)
}
