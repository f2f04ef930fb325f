package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleStats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TotalMessages != 10 {
		t.Errorf("total_messages = %d, want 10", resp.TotalMessages)
	}
	if resp.TotalAccounts != 1 {
		t.Errorf("total_accounts = %d, want 1", resp.TotalAccounts)
	}
	if resp.TotalMemberships != 12 {
		t.Errorf("total_memberships = %d, want 12", resp.TotalMemberships)
	}
}

func TestHandleStatsError(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.err = errors.New("db locked")

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp MetricsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Reconnects != 2 {
		t.Errorf("reconnects = %d, want 2", resp.Reconnects)
	}
	if resp.ChunksPersisted != 9 {
		t.Errorf("chunks_persisted = %d, want 9", resp.ChunksPersisted)
	}
	if resp.TotalDroppedAllRuns != 3 {
		t.Errorf("total_dropped_all_runs = %d, want 3", resp.TotalDroppedAllRuns)
	}
}

func TestHandleListAccounts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/accounts", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Accounts []AccountInfo `json:"accounts"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Accounts) != 1 {
		t.Fatalf("len(accounts) = %d, want 1", len(resp.Accounts))
	}

	acc := resp.Accounts[0]
	if acc.Email != "alice@example.com" {
		t.Errorf("email = %q", acc.Email)
	}
	if !acc.InitialSyncDone {
		t.Error("initial_sync_done = false, want true")
	}
	if acc.Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", acc.Schedule)
	}
	if acc.NextPollAt == "" {
		t.Error("next_poll_at is empty")
	}
}

func TestHandleAccountRuns(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/accounts/alice@example.com/runs", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Email string        `json:"email"`
		Runs  []SyncRunInfo `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(resp.Runs))
	}
	if resp.Runs[0].Kind != "incremental" {
		t.Errorf("kind = %q, want incremental", resp.Runs[0].Kind)
	}
	if resp.Runs[0].MessagesFetched != 4 {
		t.Errorf("messages_fetched = %d, want 4", resp.Runs[0].MessagesFetched)
	}
	if resp.Runs[0].StartedAt != "2025-06-01T12:00:00Z" {
		t.Errorf("started_at = %q", resp.Runs[0].StartedAt)
	}
}

func TestHandleAccountRunsUnknownAccount(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/accounts/nobody@example.com/runs", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleTriggerSync(t *testing.T) {
	srv, _, sched := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/sync/alice@example.com", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(sched.triggered) != 1 || sched.triggered[0] != "alice@example.com" {
		t.Errorf("triggered = %v", sched.triggered)
	}
}

func TestHandleTriggerSyncUnknownAccount(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/sync/nobody@example.com", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandleSchedulerStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/scheduler/status", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp SchedulerStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Running {
		t.Error("running = false, want true")
	}
	if len(resp.Accounts) != 1 {
		t.Errorf("len(accounts) = %d, want 1", len(resp.Accounts))
	}
}
