package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
	"github.com/ternarybob/certflow/internal/storage/dataset"
)

// Summary counts what one pass over the dataset did
type Summary struct {
	Rows     int `json:"rows"`
	Skipped  int `json:"skipped"`
	Found    int `json:"found"`
	NotFound int `json:"not_found"`
}

// Dependencies are the collaborators of an Orchestrator. Journal, Events,
// Inspector and Metrics are optional.
type Dependencies struct {
	Store     interfaces.RecordStore
	Watcher   interfaces.DownloadWatcher
	Inspector interfaces.ArtifactInspector
	Journal   interfaces.JournalStorage
	Events    interfaces.EventService
	Metrics   *Metrics

	// MinQueryInterval spaces consecutive portal queries; zero disables pacing
	MinQueryInterval time.Duration
}

// Orchestrator walks the dataset in row order and drives one session
// through every pending record.
type Orchestrator struct {
	deps    Dependencies
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Dependencies, logger arbor.ILogger) *Orchestrator {
	limit := rate.Inf
	if deps.MinQueryInterval > 0 {
		limit = rate.Every(deps.MinQueryInterval)
	}

	return &Orchestrator{
		deps:    deps,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// AttemptRef identifies the supervised run and the attempt within it that a
// pass belongs to
type AttemptRef struct {
	RunID     string
	AttemptID string
}

// Run makes one pass over the dataset with session. Login happens only when
// at least one record is pending. Any error aborts the pass and is returned
// for the supervisor; rows already persisted stay persisted.
func (o *Orchestrator) Run(ctx context.Context, session interfaces.PortalSession, creds common.Credentials, rc *RunContext, ref AttemptRef) (Summary, error) {
	var summary Summary

	records, err := o.deps.Store.Records(ctx)
	if err != nil {
		return summary, err
	}
	summary.Rows = len(records)

	pending := 0
	for _, rec := range records {
		if !rec.Status.IsResolved() {
			pending++
		}
	}

	o.logger.Info().
		Int("rows", len(records)).
		Int("pending", pending).
		Str("dataset", o.deps.Store.Path()).
		Msg("Dataset loaded")

	if pending == 0 {
		summary.Skipped = len(records)
		o.logger.Info().Msg("Nothing pending")
		return summary, session.Close()
	}

	if err := session.Login(ctx, creds); err != nil {
		return summary, err
	}
	if err := session.OpenQueryForm(ctx); err != nil {
		return summary, err
	}

	last := dataset.FirstDataRow + len(records) - 1
	for row := dataset.FirstDataRow; row <= last; row++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		// Status is re-read from disk for every row
		rec, err := o.deps.Store.ReadRecord(ctx, row)
		if err != nil {
			return summary, err
		}

		if rec.Status.IsResolved() {
			summary.Skipped++
			o.deps.Metrics.recordOutcome("skipped")
			o.logger.Debug().
				Int("row", row).
				Str("status", rec.Status.String()).
				Msg("Record already resolved")
			continue
		}

		status, err := o.processRecord(ctx, session, rec, rc, ref)
		if err != nil {
			return summary, err
		}
		if status == models.StatusFound {
			summary.Found++
		} else {
			summary.NotFound++
		}
	}

	o.logger.Info().
		Int("found", summary.Found).
		Int("not_found", summary.NotFound).
		Int("skipped", summary.Skipped).
		Msg("All records processed")

	return summary, session.Close()
}

// processRecord takes one pending record from Querying to Persisted
func (o *Orchestrator) processRecord(ctx context.Context, session interfaces.PortalSession, rec models.Record, rc *RunContext, ref AttemptRef) (status models.RecordStatus, err error) {
	attempt := &models.AttemptRecord{
		RunID:          ref.RunID,
		AttemptID:      ref.AttemptID,
		Row:            rec.Row,
		Identifier:     rec.Identifier,
		DocumentNumber: rec.DocumentNumber,
		StartedAt:      time.Now(),
	}
	defer func() {
		attempt.FinishedAt = time.Now()
		if err != nil {
			attempt.Err = err.Error()
		}
		o.saveAttempt(ctx, attempt)
	}()

	o.logger.Info().
		Int("row", rec.Row).
		Str("identifier", rec.Identifier).
		Str("office", rec.RegistryOffice).
		Str("document", rec.DocumentNumber).
		Msg("Querying record")
	o.publish(ctx, interfaces.EventRecordStarted, recordEvent(ref, rec))

	if err := o.limiter.Wait(ctx); err != nil {
		return models.StatusPending, err
	}

	outcome, err := session.SubmitQuery(ctx, rec)
	if err != nil {
		return models.StatusPending, err
	}
	attempt.Outcome = outcome.String()

	if outcome == models.OutcomeNotFound {
		if err := o.persist(ctx, rec, models.StatusNotFound, rc); err != nil {
			return models.StatusPending, err
		}
		o.deps.Metrics.recordOutcome(outcome.String())
		o.publishPersisted(ctx, ref, rec, models.StatusNotFound, outcome, "")
		return models.StatusNotFound, nil
	}

	if outcome == models.OutcomeAmbiguousAccepted {
		o.logger.Warn().
			Int("row", rec.Row).
			Msg("Neither signal confirmed; continuing as a download")
	}

	// Retrieving
	if err := session.CompleteRetrieval(ctx, outcome); err != nil {
		return models.StatusPending, err
	}

	waitStart := time.Now()
	artifact, err := o.deps.Watcher.Await(ctx, models.NewDownloadTask(rc.DownloadDir, rc.Folder, rec))
	if err != nil {
		return models.StatusPending, err
	}
	o.deps.Metrics.observeDownloadWait(time.Since(waitStart).Seconds())
	attempt.Artifact = artifact
	attempt.Pages = o.inspect(artifact)

	if err := o.persist(ctx, rec, models.StatusFound, rc); err != nil {
		return models.StatusPending, err
	}
	o.deps.Metrics.recordOutcome(outcome.String())
	o.publishPersisted(ctx, ref, rec, models.StatusFound, outcome, artifact)

	if err := session.ReturnToQuery(ctx); err != nil {
		return models.StatusFound, err
	}
	return models.StatusFound, nil
}

// persist writes the status and refreshes the Result Folder snapshot
func (o *Orchestrator) persist(ctx context.Context, rec models.Record, status models.RecordStatus, rc *RunContext) error {
	if err := o.deps.Store.WriteStatus(ctx, rec.Row, status); err != nil {
		return err
	}
	if err := o.deps.Store.Snapshot(ctx, rc.SnapshotPath()); err != nil {
		return err
	}

	o.logger.Info().
		Int("row", rec.Row).
		Str("document", rec.DocumentNumber).
		Str("status", status.String()).
		Msg("Record persisted")
	return nil
}

// inspect reports the artifact's page count; failures are not fatal
func (o *Orchestrator) inspect(artifact string) int {
	if o.deps.Inspector == nil {
		return 0
	}
	pages, err := o.deps.Inspector.PageCount(artifact)
	if err != nil {
		o.logger.Warn().Err(err).Str("artifact", artifact).Msg("Downloaded file is not a readable PDF")
		return 0
	}
	return pages
}

func (o *Orchestrator) saveAttempt(ctx context.Context, attempt *models.AttemptRecord) {
	if o.deps.Journal == nil {
		return
	}
	// The attempt is journaled even when ctx was cancelled mid-record
	if err := o.deps.Journal.SaveAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		o.logger.Warn().Err(err).Int("row", attempt.Row).Msg("Failed to journal attempt")
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if o.deps.Events == nil {
		return
	}
	if err := o.deps.Events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

func (o *Orchestrator) publishPersisted(ctx context.Context, ref AttemptRef, rec models.Record, status models.RecordStatus, outcome models.QueryOutcome, artifact string) {
	e := recordEvent(ref, rec)
	e.Status = status.String()
	e.Outcome = outcome.String()
	e.Artifact = artifact
	o.publish(ctx, interfaces.EventRecordPersisted, e)
}

func recordEvent(ref AttemptRef, rec models.Record) interfaces.RecordEvent {
	return interfaces.RecordEvent{
		RunID:          ref.RunID,
		AttemptID:      ref.AttemptID,
		Row:            rec.Row,
		Identifier:     rec.Identifier,
		DocumentNumber: rec.DocumentNumber,
	}
}

// String renders the summary for log lines and the CLI
func (s Summary) String() string {
	return fmt.Sprintf("%d rows: %d found, %d not found, %d skipped", s.Rows, s.Found, s.NotFound, s.Skipped)
}
