// Package scheduler runs cron-driven incremental polls per account.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailmirror/mailmirror/internal/config"
)

// PollFunc is invoked when an account's schedule fires. It should run one
// incremental sync for the account.
type PollFunc func(ctx context.Context, email string) error

// AccountStatus reports the scheduling state of one account.
type AccountStatus struct {
	Email     string    `json:"email"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// job is the per-account scheduling record.
type job struct {
	entryID  cron.EntryID
	schedule string
	running  bool
	lastRun  time.Time
	lastErr  error
}

// Scheduler owns the cron runner and the per-account poll state. One poll per
// account runs at a time; overlapping fires are skipped.
type Scheduler struct {
	cron   *cron.Cron
	poll   PollFunc
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*job

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a Scheduler around the given poll callback.
func New(poll PollFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		poll:   poll,
		logger: slog.Default(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddAccount schedules polling for an account. An existing schedule for the
// same email is replaced.
func (s *Scheduler) AddAccount(email, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[email]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, email)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		j := s.jobs[email]
		if s.stopped || j == nil || j.running {
			s.mu.Unlock()
			return
		}
		j.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runPoll(email)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[email] = &job{entryID: entryID, schedule: cronExpr}
	s.logger.Info("scheduled account",
		"email", email,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// AddAccountsFromConfig schedules every enabled account from the config.
// Returns the number scheduled plus any per-account errors.
func (s *Scheduler) AddAccountsFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0
	for _, acc := range cfg.ScheduledAccounts() {
		if err := s.AddAccount(acc.Email, acc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", acc.Email, err))
			continue
		}
		scheduled++
	}
	return scheduled, errs
}

// RemoveAccount drops the schedule for an account.
func (s *Scheduler) RemoveAccount(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[email]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, email)
		s.logger.Info("removed schedule", "email", email)
	}
}

// Start begins firing scheduled polls.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts the cron runner, cancels in-flight polls and returns a context
// that is done once everything has drained.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// runPoll executes one poll. The caller holds wg.Add(1) and has marked the
// job running.
func (s *Scheduler) runPoll(email string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if j := s.jobs[email]; j != nil {
			j.running = false
		}
		s.mu.Unlock()
	}()

	s.logger.Info("poll starting", "email", email)
	start := time.Now()

	err := s.poll(s.ctx, email)

	s.mu.Lock()
	j := s.jobs[email]
	if j != nil {
		j.lastErr = err
		if err == nil {
			j.lastRun = time.Now()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("poll failed",
			"email", email,
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.logger.Info("poll completed", "email", email, "duration", time.Since(start))
}

// IsScheduled reports whether the account has a schedule.
func (s *Scheduler) IsScheduled(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[email]
	return ok
}

// TriggerPoll runs a poll for an account outside its schedule. Fails if the
// account is not scheduled, a poll is already running, or the scheduler has
// been stopped.
func (s *Scheduler) TriggerPoll(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	j, ok := s.jobs[email]
	if !ok {
		return fmt.Errorf("account %s is not scheduled", email)
	}
	if j.running {
		return fmt.Errorf("poll already running for %s", email)
	}

	j.running = true
	s.wg.Add(1)
	go s.runPoll(email)
	return nil
}

// Status returns the state of every scheduled account.
func (s *Scheduler) Status() []AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]AccountStatus, 0, len(s.jobs))
	for email, j := range s.jobs {
		st := AccountStatus{
			Email:    email,
			Running:  j.running,
			LastRun:  j.lastRun,
			NextRun:  s.cron.Entry(j.entryID).Next,
			Schedule: j.schedule,
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// ValidateCronExpr checks a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
