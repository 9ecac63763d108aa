package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

// ErrAlreadyRunning is returned when Run is called while a run is active
var ErrAlreadyRunning = errors.New("a supervised run is already in progress")

// RestartPolicy decides how failed attempts are retried
type RestartPolicy struct {
	Backoff     time.Duration
	MaxRestarts int // 0 = unbounded
}

// exhausted reports whether another restart is allowed after restarts
func (p RestartPolicy) exhausted(restarts int) bool {
	return p.MaxRestarts > 0 && restarts >= p.MaxRestarts
}

// SupervisorState is a point-in-time view of the supervisor
type SupervisorState struct {
	Running      bool      `json:"running"`
	RunID        string    `json:"run_id,omitempty"`
	ResultFolder string    `json:"result_folder,omitempty"`
	Attempt      int       `json:"attempt"`
	Restarts     int       `json:"restarts"`
	LastError    string    `json:"last_error,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Completed    bool      `json:"completed"`
	LastSummary  Summary   `json:"last_summary"`
}

// OutputConfig locates the Result Folder
type OutputConfig struct {
	BaseDir     string
	Prefix      string
	DownloadDir string
}

// Supervisor restarts the whole workflow from a fresh login after any
// failure. Resumption relies on the dataset status alone.
type Supervisor struct {
	factory      interfaces.SessionFactory
	orchestrator *Orchestrator
	creds        common.Credentials
	output       OutputConfig
	policy       RestartPolicy
	journal      interfaces.JournalStorage
	events       interfaces.EventService
	metrics      *Metrics
	logger       arbor.ILogger

	mu    sync.Mutex
	state SupervisorState
}

// SupervisorConfig groups the Supervisor's collaborators
type SupervisorConfig struct {
	Factory      interfaces.SessionFactory
	Orchestrator *Orchestrator
	Credentials  common.Credentials
	Output       OutputConfig
	Policy       RestartPolicy
	Journal      interfaces.JournalStorage
	Events       interfaces.EventService
	Metrics      *Metrics
}

// NewSupervisor creates a supervisor
func NewSupervisor(config SupervisorConfig, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		factory:      config.Factory,
		orchestrator: config.Orchestrator,
		creds:        config.Credentials,
		output:       config.Output,
		policy:       config.Policy,
		journal:      config.Journal,
		events:       config.Events,
		metrics:      config.Metrics,
		logger:       logger,
	}
}

// State returns a copy of the current state
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) update(fn func(*SupervisorState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Run executes supervised attempts until one completes. It returns nil on
// completion, the last attempt error once the restart budget is spent, or
// ctx.Err() when cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = SupervisorState{Running: true, RunID: common.NewRunID(), StartedAt: time.Now()}
	runID := s.state.RunID
	s.mu.Unlock()

	defer s.update(func(st *SupervisorState) {
		st.Running = false
		st.FinishedAt = time.Now()
	})

	rc, err := NewRunContext(s.output.BaseDir, s.output.Prefix, s.output.DownloadDir, time.Now())
	if err != nil {
		s.update(func(st *SupervisorState) { st.LastError = err.Error() })
		return err
	}
	rc.ID = runID
	s.update(func(st *SupervisorState) { st.ResultFolder = rc.Folder })

	s.logger.Info().
		Str("run_id", runID).
		Str("result_folder", rc.Folder).
		Msg("Supervised run started")

	for {
		s.update(func(st *SupervisorState) { st.Attempt++ })
		state := s.State()

		ref := AttemptRef{RunID: runID, AttemptID: common.NewAttemptID()}
		record := &models.RunRecord{ID: ref.AttemptID, RunID: runID, Attempt: state.Attempt, StartedAt: time.Now()}
		summary, err := s.attempt(ctx, rc, ref)
		record.FinishedAt = time.Now()

		if err == nil {
			record.Completed = true
			s.saveRun(ctx, record)
			s.update(func(st *SupervisorState) {
				st.Completed = true
				st.LastError = ""
				st.LastSummary = summary
			})
			s.publish(ctx, interfaces.EventRunCompleted, interfaces.RunEvent{RunID: runID, AttemptID: ref.AttemptID, Attempt: state.Attempt, Restarts: state.Restarts})
			s.logger.Info().
				Int("attempt", state.Attempt).
				Int("restarts", state.Restarts).
				Str("summary", summary.String()).
				Msg("Run completed")
			return nil
		}

		record.Err = err.Error()
		s.saveRun(ctx, record)
		s.update(func(st *SupervisorState) {
			st.LastError = err.Error()
			st.LastSummary = summary
		})

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Info().Msg("Run cancelled")
			return ctxErr
		}

		kind, _ := models.KindOf(err)
		s.logger.Error().
			Err(err).
			Str("kind", string(kind)).
			Int("attempt", state.Attempt).
			Int("restarts", state.Restarts).
			Msg("Run attempt failed")
		s.publish(ctx, interfaces.EventRunFailed, interfaces.RunEvent{RunID: runID, AttemptID: ref.AttemptID, Attempt: state.Attempt, Restarts: state.Restarts, Error: err.Error()})

		if s.policy.exhausted(state.Restarts) {
			return fmt.Errorf("giving up after %d restarts: %w", state.Restarts, err)
		}

		s.logger.Info().Dur("backoff", s.policy.Backoff).Msg("Restarting workflow after backoff")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.policy.Backoff):
		}

		s.update(func(st *SupervisorState) { st.Restarts++ })
		s.metrics.recordRestart()
	}
}

// attempt runs the orchestrator once on a fresh session. The session is
// always closed, which also kills a hung browser.
func (s *Supervisor) attempt(ctx context.Context, rc *RunContext, ref AttemptRef) (summary Summary, err error) {
	defer common.RecoverToError(s.logger, "workflow attempt", &err)

	session, err := s.factory.NewSession(ctx, rc.DownloadDir)
	if err != nil {
		return summary, fmt.Errorf("failed to start portal session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			s.logger.Warn().Err(closeErr).Msg("Failed to close portal session")
		}
	}()

	return s.orchestrator.Run(ctx, session, s.creds, rc, ref)
}

func (s *Supervisor) saveRun(ctx context.Context, record *models.RunRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveRun(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to journal run")
	}
}

func (s *Supervisor) publish(ctx context.Context, eventType interfaces.EventType, payload interfaces.RunEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish run event")
	}
}
