package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncRun records one sync pass over an account.
type SyncRun struct {
	ID              int64
	AccountID       int64
	Kind            string
	StartedAt       time.Time
	CompletedAt     time.Time
	Status          string
	FoldersSynced   int64
	MessagesFetched int64
	MessagesLinked  int64
	MessagesDeleted int64
	FlagsUpdated    int64
	CommitsDropped  int64
	ErrorMessage    string
}

// SyncRunCounters accumulates per-run progress counters.
type SyncRunCounters struct {
	FoldersSynced   int64
	MessagesFetched int64
	MessagesLinked  int64
	MessagesDeleted int64
	FlagsUpdated    int64
	CommitsDropped  int64
}

// StartSyncRun inserts a running sync_runs row and returns its id. kind is
// "initial" or "incremental".
func (s *Store) StartSyncRun(accountID int64, kind string) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO sync_runs (account_id, kind, started_at, status)
		VALUES (?, ?, datetime('now'), 'running')
	`, accountID, kind)
	if err != nil {
		return 0, fmt.Errorf("start sync run: %w", err)
	}
	return result.LastInsertId()
}

// CompleteSyncRun marks a run finished and stores its final counters.
func (s *Store) CompleteSyncRun(runID int64, c SyncRunCounters) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET completed_at = datetime('now'), status = 'completed',
			folders_synced = ?, messages_fetched = ?, messages_linked = ?,
			messages_deleted = ?, flags_updated = ?, commits_dropped = ?
		WHERE id = ?
	`, c.FoldersSynced, c.MessagesFetched, c.MessagesLinked,
		c.MessagesDeleted, c.FlagsUpdated, c.CommitsDropped, runID)
	if err != nil {
		return fmt.Errorf("complete sync run: %w", err)
	}
	return nil
}

// FailSyncRun marks a run failed, keeping whatever counters accumulated.
func (s *Store) FailSyncRun(runID int64, c SyncRunCounters, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET completed_at = datetime('now'), status = 'failed', error_message = ?,
			folders_synced = ?, messages_fetched = ?, messages_linked = ?,
			messages_deleted = ?, flags_updated = ?, commits_dropped = ?
		WHERE id = ?
	`, errMsg, c.FoldersSynced, c.MessagesFetched, c.MessagesLinked,
		c.MessagesDeleted, c.FlagsUpdated, c.CommitsDropped, runID)
	if err != nil {
		return fmt.Errorf("fail sync run: %w", err)
	}
	return nil
}

// RecentSyncRuns returns the newest runs for an account, most recent first.
func (s *Store) RecentSyncRuns(accountID int64, limit int) ([]*SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, kind, started_at, completed_at, status,
			folders_synced, messages_fetched, messages_linked,
			messages_deleted, flags_updated, commits_dropped, error_message
		FROM sync_runs
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		var startedAt, completedAt, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Kind, &startedAt, &completedAt,
			&r.Status, &r.FoldersSynced, &r.MessagesFetched, &r.MessagesLinked,
			&r.MessagesDeleted, &r.FlagsUpdated, &r.CommitsDropped, &errMsg); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		if startedAt.Valid {
			r.StartedAt, _ = time.Parse(sqliteTimeLayout, startedAt.String)
		}
		if completedAt.Valid {
			r.CompletedAt, _ = time.Parse(sqliteTimeLayout, completedAt.String)
		}
		r.ErrorMessage = errMsg.String
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

// TotalDroppedCommits sums commits_dropped across all runs for all accounts.
func (s *Store) TotalDroppedCommits() (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(commits_dropped) FROM sync_runs`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum dropped commits: %w", err)
	}
	return n.Int64, nil
}
