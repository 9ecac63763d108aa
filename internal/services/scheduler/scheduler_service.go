package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/services/workflow"
)

// Runner is anything that performs one supervised run
type Runner interface {
	Run(ctx context.Context) error
}

// Status describes the schedule and its most recent execution
type Status struct {
	Schedule  string     `json:"schedule"`
	Enabled   bool       `json:"enabled"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Service triggers supervised runs on a cron schedule or on demand.
// At most one run executes at a time; overlapping triggers are skipped.
type Service struct {
	runner Runner
	cron   *cron.Cron
	logger arbor.ILogger

	mu        sync.Mutex
	ctx       context.Context
	schedule  string
	entryID   cron.EntryID
	started   bool
	running   bool
	lastRun   *time.Time
	lastError string
	wg        sync.WaitGroup
}

// NewService creates a scheduler for runner
func NewService(runner Runner, logger arbor.ILogger) *Service {
	return &Service{
		runner: runner,
		cron:   cron.New(),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start registers cronExpr and begins scheduling. Runs inherit ctx, so
// cancelling it aborts an in-flight run.
func (s *Service) Start(ctx context.Context, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(cronExpr, s.executeRun)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx = ctx
	s.schedule = cronExpr
	s.entryID = id
	s.started = true
	s.cron.Start()

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Msg("Scheduler started")
	return nil
}

// Attach sets the context inherited by on-demand runs when no schedule
// is started
func (s *Service) Attach(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

// Stop halts scheduling and waits for an in-flight run to return
func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("Scheduler stopped")
	}
	s.wg.Wait()
}

// TriggerNow starts a run in the background. It returns
// workflow.ErrAlreadyRunning when a run is in progress.
func (s *Service) TriggerNow() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return workflow.ErrAlreadyRunning
	}
	s.running = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.execute(ctx)
	}()
	return nil
}

// IsRunning reports whether a run started by this scheduler is in progress
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the current schedule state
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Schedule:  s.schedule,
		Enabled:   s.started,
		Running:   s.running,
		LastRun:   s.lastRun,
		LastError: s.lastError,
	}
	if s.started {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// executeRun is the cron entry point. A trigger that fires while a run is
// in progress is skipped.
func (s *Service) executeRun() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info().Msg("Run still in progress, skipping this trigger")
		return
	}
	s.running = true
	ctx := s.ctx
	s.mu.Unlock()

	s.execute(ctx)
}

// execute performs a run already claimed by setting running, recovering
// panics and recording the result
func (s *Service) execute(ctx context.Context) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled run")
		}

		finished := time.Now()
		s.mu.Lock()
		s.running = false
		s.lastRun = &finished
		s.lastError = ""
		if err != nil {
			s.lastError = err.Error()
		}
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("Scheduled run started")

	err = s.runner.Run(ctx)
	switch {
	case errors.Is(err, workflow.ErrAlreadyRunning):
		s.logger.Info().Msg("A run started elsewhere is in progress, skipping")
		err = nil
	case err != nil:
		s.logger.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Scheduled run failed")
	default:
		s.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Scheduled run completed")
	}
}
