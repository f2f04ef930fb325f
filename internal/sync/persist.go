package sync

import (
	"sync/atomic"

	"github.com/mailmirror/mailmirror/internal/store"
)

// Metrics counts engine-level events across all accounts. Dropped commits
// are the interesting one: each represents a batch that was discarded and
// will be replayed on the next poll.
type Metrics struct {
	commitsDropped  atomic.Int64
	reconnects      atomic.Int64
	chunksPersisted atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	CommitsDropped  int64 `json:"commits_dropped"`
	Reconnects      int64 `json:"reconnects"`
	ChunksPersisted int64 `json:"chunks_persisted"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CommitsDropped:  m.commitsDropped.Load(),
		Reconnects:      m.reconnects.Load(),
		ChunksPersisted: m.chunksPersisted.Load(),
	}
}

// safeCommit runs one store write. Failures are absorbed: the batch is
// dropped, the cursor stays put and the next poll replays the same work.
// Returns whether the write committed.
func (r *run) safeCommit(folder, op string, fn func() error) bool {
	err := fn()
	if err == nil {
		r.engine.metrics.chunksPersisted.Add(1)
		return true
	}

	r.counters.CommitsDropped++
	r.engine.metrics.commitsDropped.Add(1)
	if store.IsTransactionError(err) {
		r.logger.Error("commit failed, dropping batch",
			"folder", folder, "op", op, "error", err)
	} else {
		r.logger.Error("unexpected error during commit, dropping batch",
			"folder", folder, "op", op, "error", err)
	}
	return false
}
