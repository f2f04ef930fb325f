package mail

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockMessage is one message living in a MockClient folder.
type MockMessage struct {
	GMsgID  uint64
	Flags   []string
	ModSeq  uint64
	Subject string
	From    string
	Body    []byte
}

// MockFolder holds the scripted server-side state of one folder.
type MockFolder struct {
	UIDValidity   uint32
	HighestModSeq uint64
	Messages      map[uint32]*MockMessage
}

// MockClient is a scriptable Client for tests, with per-call error
// injection and call tracking in the style of a hand-written fake.
type MockClient struct {
	mu sync.Mutex

	Email   string
	Folders map[string]*MockFolder
	// FolderOrder is the sync priority order returned by SyncFolders.
	FolderOrder []string
	Chunk       int

	selected string

	// Error injection. FetchBodiesErrs is a queue: each FetchBodies call
	// pops one entry (nil means succeed), letting tests script
	// fail-once-then-recover sequences.
	SelectErr       map[string]error
	StatusErr       map[string]error
	AllUIDsErr      error
	SearchErr       error
	FetchGMsgIDsErr error
	FetchBodiesErrs []error
	FetchFlagsErr   error

	// Call tracking for assertions.
	SelectCalls      []string
	StatusCalls      []string
	AllUIDsCalls     int
	SearchCalls      []uint64
	FetchGMsgIDCalls int
	BodyFetchCalls   int
	BodyFetchUIDs    [][]uint32
	FlagFetchCalls   int
	Closed           bool
}

// NewMockClient creates an empty mock for the given account.
func NewMockClient(email string) *MockClient {
	return &MockClient{
		Email:     email,
		Folders:   make(map[string]*MockFolder),
		Chunk:     100,
		SelectErr: make(map[string]error),
		StatusErr: make(map[string]error),
	}
}

// AddFolder creates a folder with the given markers and registers it in the
// sync order.
func (m *MockClient) AddFolder(name string, uidValidity uint32, highestModSeq uint64) *MockFolder {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &MockFolder{
		UIDValidity:   uidValidity,
		HighestModSeq: highestModSeq,
		Messages:      make(map[uint32]*MockMessage),
	}
	m.Folders[name] = f
	m.FolderOrder = append(m.FolderOrder, name)
	return f
}

// AddMessage places a message in a folder. The folder must exist.
func (m *MockClient) AddMessage(folder string, uid uint32, msg *MockMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Flags == nil {
		msg.Flags = []string{}
	}
	m.Folders[folder].Messages[uid] = msg
}

// RemoveMessage deletes a message server-side.
func (m *MockClient) RemoveMessage(folder string, uid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Folders[folder].Messages, uid)
}

// SetFlags rewrites a message's flags and bumps its modseq plus the folder's
// HIGHESTMODSEQ, mirroring what a CONDSTORE server does.
func (m *MockClient) SetFlags(folder string, uid uint32, modseq uint64, flags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.Folders[folder]
	msg := f.Messages[uid]
	msg.Flags = flags
	msg.ModSeq = modseq
	if modseq > f.HighestModSeq {
		f.HighestModSeq = modseq
	}
}

func (m *MockClient) selectedFolder() (*MockFolder, error) {
	if m.selected == "" {
		return nil, fmt.Errorf("mock: no folder selected")
	}
	f, ok := m.Folders[m.selected]
	if !ok {
		return nil, fmt.Errorf("mock: unknown folder %q", m.selected)
	}
	return f, nil
}

func (m *MockClient) SelectFolder(ctx context.Context, folder string) (*Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SelectCalls = append(m.SelectCalls, folder)
	if err := m.SelectErr[folder]; err != nil {
		return nil, err
	}
	f, ok := m.Folders[folder]
	if !ok {
		return nil, fmt.Errorf("mock: SELECT unknown folder %q", folder)
	}
	m.selected = folder
	return &Selection{
		Folder:        folder,
		UIDValidity:   f.UIDValidity,
		HighestModSeq: f.HighestModSeq,
		NumMessages:   uint32(len(f.Messages)),
	}, nil
}

func (m *MockClient) FolderStatus(ctx context.Context, folder string) (*FolderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls = append(m.StatusCalls, folder)
	if err := m.StatusErr[folder]; err != nil {
		return nil, err
	}
	f, ok := m.Folders[folder]
	if !ok {
		return nil, fmt.Errorf("mock: STATUS unknown folder %q", folder)
	}
	return &FolderStatus{UIDValidity: f.UIDValidity, HighestModSeq: f.HighestModSeq}, nil
}

func (m *MockClient) AllUIDs(ctx context.Context) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AllUIDsCalls++
	if m.AllUIDsErr != nil {
		return nil, m.AllUIDsErr
	}
	f, err := m.selectedFolder()
	if err != nil {
		return nil, err
	}
	uids := make([]uint32, 0, len(f.Messages))
	for uid := range f.Messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *MockClient) SearchChangedSince(ctx context.Context, modseq uint64) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = append(m.SearchCalls, modseq)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	f, err := m.selectedFolder()
	if err != nil {
		return nil, err
	}
	var uids []uint32
	for uid, msg := range f.Messages {
		if msg.ModSeq > modseq {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *MockClient) FetchGMsgIDs(ctx context.Context, uids []uint32) (map[uint32]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchGMsgIDCalls++
	if m.FetchGMsgIDsErr != nil {
		return nil, m.FetchGMsgIDsErr
	}
	f, err := m.selectedFolder()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]uint64, len(uids))
	for _, uid := range uids {
		if msg, ok := f.Messages[uid]; ok {
			out[uid] = msg.GMsgID
		}
	}
	return out, nil
}

func (m *MockClient) FetchBodies(ctx context.Context, uids []uint32) ([]FetchedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BodyFetchCalls++
	m.BodyFetchUIDs = append(m.BodyFetchUIDs, append([]uint32(nil), uids...))
	if len(m.FetchBodiesErrs) > 0 {
		err := m.FetchBodiesErrs[0]
		m.FetchBodiesErrs = m.FetchBodiesErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f, err := m.selectedFolder()
	if err != nil {
		return nil, err
	}
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []FetchedMessage
	for _, uid := range sorted {
		msg, ok := f.Messages[uid]
		if !ok {
			continue
		}
		out = append(out, FetchedMessage{
			UID:    uid,
			GMsgID: msg.GMsgID,
			Flags:  append([]string(nil), msg.Flags...),
			Meta: MessageMeta{
				GMsgID:    msg.GMsgID,
				MessageID: fmt.Sprintf("<%d@mock>", msg.GMsgID),
				Subject:   msg.Subject,
				From:      msg.From,
				Date:      time.Unix(0, 0).UTC(),
				Size:      int64(len(msg.Body)),
			},
			Parts: []MessagePart{{
				PartID:      "1",
				ContentType: "text/plain",
				Content:     append([]byte(nil), msg.Body...),
			}},
		})
	}
	return out, nil
}

func (m *MockClient) FetchFlags(ctx context.Context, uids []uint32) (map[uint32][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlagFetchCalls++
	if m.FetchFlagsErr != nil {
		return nil, m.FetchFlagsErr
	}
	f, err := m.selectedFolder()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32][]string, len(uids))
	for _, uid := range uids {
		if msg, ok := f.Messages[uid]; ok {
			out[uid] = append([]string(nil), msg.Flags...)
		}
	}
	return out, nil
}

func (m *MockClient) SyncFolders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.FolderOrder...)
}

func (m *MockClient) ChunkSize() int { return m.Chunk }

func (m *MockClient) EmailAddress() string { return m.Email }

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockDialer hands out the same MockClient on every Dial, counting calls so
// tests can assert reconnect behavior.
type MockDialer struct {
	mu        sync.Mutex
	Client    *MockClient
	DialErr   error
	DialCalls int
}

func (d *MockDialer) Dial(ctx context.Context, email string) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Client == nil || d.Client.Email != email {
		return nil, fmt.Errorf("mock dialer: unknown account %q", email)
	}
	return d.Client, nil
}
