package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailmirror/mailmirror/internal/scheduler"
)

const timeLayout = "2006-01-02T15:04:05Z"

// StatsResponse reports mirror-wide counts.
type StatsResponse struct {
	TotalAccounts    int64 `json:"total_accounts"`
	TotalMessages    int64 `json:"total_messages"`
	TotalMemberships int64 `json:"total_memberships"`
	TotalParts       int64 `json:"total_parts"`
	TotalCursors     int64 `json:"total_cursors"`
	DatabaseSize     int64 `json:"database_size_bytes"`
}

// MetricsResponse combines the live engine counters with the durable
// dropped-commit total from sync_runs.
type MetricsResponse struct {
	CommitsDropped      int64 `json:"commits_dropped"`
	Reconnects          int64 `json:"reconnects"`
	ChunksPersisted     int64 `json:"chunks_persisted"`
	TotalDroppedAllRuns int64 `json:"total_dropped_all_runs"`
}

// AccountInfo is one account in a list response.
type AccountInfo struct {
	Email           string `json:"email"`
	InitialSyncDone bool   `json:"initial_sync_done"`
	Schedule        string `json:"schedule,omitempty"`
	Enabled         bool   `json:"enabled"`
	LastPollAt      string `json:"last_poll_at,omitempty"`
	NextPollAt      string `json:"next_poll_at,omitempty"`
}

// SyncRunInfo is one sync_runs row in an API response.
type SyncRunInfo struct {
	ID              int64  `json:"id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	FoldersSynced   int64  `json:"folders_synced"`
	MessagesFetched int64  `json:"messages_fetched"`
	MessagesLinked  int64  `json:"messages_linked"`
	MessagesDeleted int64  `json:"messages_deleted"`
	FlagsUpdated    int64  `json:"flags_updated"`
	CommitsDropped  int64  `json:"commits_dropped"`
	Error           string `json:"error,omitempty"`
}

// SchedulerStatusResponse reports the scheduler and every scheduled account.
type SchedulerStatusResponse struct {
	Running  bool                      `json:"running"`
	Accounts []scheduler.AccountStatus `json:"accounts"`
}

// ErrorResponse is the error envelope for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		TotalAccounts:    stats.AccountCount,
		TotalMessages:    stats.MessageCount,
		TotalMemberships: stats.MembershipCount,
		TotalParts:       stats.PartCount,
		TotalCursors:     stats.CursorCount,
		DatabaseSize:     stats.DatabaseSize,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	totalDropped, err := s.store.TotalDroppedCommits()
	if err != nil {
		s.logger.Error("failed to sum dropped commits", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve metrics")
		return
	}

	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, MetricsResponse{
		CommitsDropped:      snap.CommitsDropped,
		Reconnects:          snap.Reconnects,
		ChunksPersisted:     snap.ChunksPersisted,
		TotalDroppedAllRuns: totalDropped,
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	dbAccounts, err := s.store.ListAccounts()
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve accounts")
		return
	}

	statuses := s.scheduler.Status()
	accounts := make([]AccountInfo, 0, len(dbAccounts))
	for _, acc := range dbAccounts {
		info := AccountInfo{
			Email:           acc.Email,
			InitialSyncDone: acc.InitialSyncDone,
		}
		if sched := s.cfg.GetAccountSchedule(acc.Email); sched != nil {
			info.Schedule = sched.Schedule
			info.Enabled = sched.Enabled
		}
		for _, st := range statuses {
			if st.Email != acc.Email {
				continue
			}
			info.LastPollAt = formatTime(st.LastRun)
			info.NextPollAt = formatTime(st.NextRun)
			break
		}
		accounts = append(accounts, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
	})
}

func (s *Server) handleAccountRuns(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	acc, err := s.store.GetAccountByEmail(email)
	if err != nil {
		s.logger.Error("failed to look up account", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to look up account")
		return
	}
	if acc == nil {
		writeError(w, http.StatusNotFound, "not_found", "Account not found")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	runs, err := s.store.RecentSyncRuns(acc.ID, limit)
	if err != nil {
		s.logger.Error("failed to list sync runs", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve sync runs")
		return
	}

	infos := make([]SyncRunInfo, len(runs))
	for i, run := range runs {
		infos[i] = SyncRunInfo{
			ID:              run.ID,
			Kind:            run.Kind,
			Status:          run.Status,
			StartedAt:       formatTime(run.StartedAt),
			CompletedAt:     formatTime(run.CompletedAt),
			FoldersSynced:   run.FoldersSynced,
			MessagesFetched: run.MessagesFetched,
			MessagesLinked:  run.MessagesLinked,
			MessagesDeleted: run.MessagesDeleted,
			FlagsUpdated:    run.FlagsUpdated,
			CommitsDropped:  run.CommitsDropped,
			Error:           run.ErrorMessage,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email": email,
		"runs":  infos,
	})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "Account email is required")
		return
	}

	if err := s.scheduler.TriggerPoll(account); err != nil {
		s.logger.Error("failed to trigger poll", "account", account, "error", err)
		writeError(w, http.StatusConflict, "sync_error", err.Error())
		return
	}

	s.logger.Info("poll triggered via API", "account", account)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sync started for " + account,
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running:  s.scheduler.IsRunning(),
		Accounts: s.scheduler.Status(),
	})
}
