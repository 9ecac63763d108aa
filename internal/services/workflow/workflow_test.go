package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
	"github.com/ternarybob/certflow/internal/services/download"
	"github.com/ternarybob/certflow/internal/storage/dataset"
)

// fakeSession plays back scripted outcomes keyed by document number. On the
// download path it drops a PDF into the download directory like a browser.
type fakeSession struct {
	mu          sync.Mutex
	downloadDir string
	outcomes    map[string]models.QueryOutcome
	failRow     map[int]error
	panicRow    int
	dieRow      int
	noDownload  bool

	logins     int
	queried    []int
	retrievals []models.QueryOutcome
	returns    int
	closed     bool
}

func (f *fakeSession) Login(ctx context.Context, creds common.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return nil
}

func (f *fakeSession) OpenQueryForm(ctx context.Context) error { return nil }

func (f *fakeSession) SubmitQuery(ctx context.Context, rec models.Record) (models.QueryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return models.OutcomeUnknown, models.ErrSessionDead
	}
	f.queried = append(f.queried, rec.Row)
	if rec.Row == f.panicRow {
		panic("renderer crashed")
	}
	if rec.Row == f.dieRow {
		f.closed = true
		return models.OutcomeUnknown, fmt.Errorf("%w: target closed", models.ErrSessionDead)
	}
	if err := f.failRow[rec.Row]; err != nil {
		return models.OutcomeUnknown, err
	}
	if outcome, ok := f.outcomes[rec.DocumentNumber]; ok {
		return outcome, nil
	}
	return models.OutcomeDownloadAccepted, nil
}

func (f *fakeSession) CompleteRetrieval(ctx context.Context, outcome models.QueryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrievals = append(f.retrievals, outcome)
	if f.noDownload {
		return nil
	}
	return os.WriteFile(filepath.Join(f.downloadDir, "Boleta.pdf"), []byte("%PDF-1.4"), 0644)
}

func (f *fakeSession) ReturnToQuery(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns++
	return nil
}

func (f *fakeSession) State() interfaces.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return interfaces.SessionDead
	}
	return interfaces.SessionAuthenticated
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeFactory hands out scripted sessions in order
type fakeFactory struct {
	mu       sync.Mutex
	script   func(n int, downloadDir string) *fakeSession
	sessions []*fakeSession
}

func (f *fakeFactory) NewSession(ctx context.Context, downloadDir string) (interfaces.PortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.script(len(f.sessions), downloadDir)
	f.sessions = append(f.sessions, s)
	return s, nil
}

// countingStore counts snapshots taken by the orchestrator
type countingStore struct {
	*dataset.Store
	mu        sync.Mutex
	snapshots int
}

func (c *countingStore) Snapshot(ctx context.Context, destPath string) error {
	c.mu.Lock()
	c.snapshots++
	c.mu.Unlock()
	return c.Store.Snapshot(ctx, destPath)
}

type fakeInspector struct{ pages int }

// recordingEvents keeps every published event in order
type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (r *recordingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *recordingEvents) Close() error { return nil }

// memoryJournal keeps journal rows in memory
type memoryJournal struct {
	mu       sync.Mutex
	runs     []models.RunRecord
	attempts []models.AttemptRecord
}

func (m *memoryJournal) SaveRun(ctx context.Context, run *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memoryJournal) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RunRecord(nil), m.runs...), nil
}

func (m *memoryJournal) SaveAttempt(ctx context.Context, attempt *models.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memoryJournal) ListAttempts(ctx context.Context, row int) ([]models.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttemptRecord
	for _, a := range m.attempts {
		if a.Row == row {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryJournal) CountAttemptsByRow(ctx context.Context) (map[int]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int]int)
	for _, a := range m.attempts {
		counts[a.Row]++
	}
	return counts, nil
}

func (m *memoryJournal) Close() error { return nil }

func (f fakeInspector) PageCount(path string) (int, error) { return f.pages, nil }

type harness struct {
	store      *countingStore
	factory    *fakeFactory
	supervisor *Supervisor
	outputDir  string
}

func newHarness(t *testing.T, statuses []string, policy RestartPolicy, script func(n int, dir string) *fakeSession) *harness {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "DATA.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"RUC", "OFICINA", "PARTIDA", "ESTADO"}))
	for i, status := range statuses {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := []interface{}{"2010004721" + string(rune('0'+row)), "LIMA", "1100234" + string(rune('0'+row)), status}
		require.NoError(t, f.SetSheetRow(sheet, cell, &values))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	logger := arbor.NewLogger()
	store := &countingStore{Store: dataset.NewStore(path, "", logger)}
	watcher := download.NewWatcher(download.Config{PollInterval: 5 * time.Millisecond, Timeout: 100 * time.Millisecond}, logger)

	orchestrator := NewOrchestrator(Dependencies{
		Store:     store,
		Watcher:   watcher,
		Inspector: fakeInspector{pages: 3},
		Metrics:   NewMetrics(nil),
	}, logger)

	factory := &fakeFactory{script: script}
	outputDir := filepath.Join(dir, "out")
	supervisor := NewSupervisor(SupervisorConfig{
		Factory:      factory,
		Orchestrator: orchestrator,
		Credentials:  common.Credentials{Username: "USER", Password: "secret"},
		Output:       OutputConfig{BaseDir: outputDir, Prefix: "RESULT"},
		Policy:       policy,
		Metrics:      NewMetrics(nil),
	}, logger)

	return &harness{store: store, factory: factory, supervisor: supervisor, outputDir: outputDir}
}

func (h *harness) statuses(t *testing.T) []models.RecordStatus {
	t.Helper()
	records, err := h.store.Records(context.Background())
	require.NoError(t, err)
	out := make([]models.RecordStatus, len(records))
	for i, r := range records {
		out[i] = r.Status
	}
	return out
}

func simpleScript(outcomes map[string]models.QueryOutcome) func(int, string) *fakeSession {
	return func(n int, dir string) *fakeSession {
		return &fakeSession{downloadDir: dir, outcomes: outcomes}
	}
}

func TestSupervisor_AllPendingProcessedInOrder(t *testing.T) {
	h := newHarness(t, []string{"", "", ""}, RestartPolicy{Backoff: time.Millisecond},
		simpleScript(map[string]models.QueryOutcome{"11002343": models.OutcomeNotFound}))

	require.NoError(t, h.supervisor.Run(context.Background()))

	require.Len(t, h.factory.sessions, 1)
	session := h.factory.sessions[0]
	assert.Equal(t, []int{2, 3, 4}, session.queried)
	assert.Equal(t, 1, session.logins)
	assert.Equal(t, 2, session.returns)
	assert.True(t, session.closed)

	assert.Equal(t, []models.RecordStatus{models.StatusFound, models.StatusNotFound, models.StatusFound}, h.statuses(t))
	assert.Equal(t, 3, h.store.snapshots, "one snapshot per persisted record")

	state := h.supervisor.State()
	assert.True(t, state.Completed)
	assert.False(t, state.Running)
	assert.Equal(t, 0, state.Restarts)
	assert.Equal(t, Summary{Rows: 3, Found: 2, NotFound: 1}, state.LastSummary)

	// Artifacts and the snapshot live in the Result Folder
	folder := state.ResultFolder
	assert.FileExists(t, filepath.Join(folder, "1_20100047212_11002342", "11002342.pdf"))
	assert.FileExists(t, filepath.Join(folder, "3_20100047214_11002344", "11002344.pdf"))
	assert.FileExists(t, filepath.Join(folder, filepath.Base(folder)+".xlsx"))
}

func TestSupervisor_ResolvedRowsNeverQueried(t *testing.T) {
	h := newHarness(t, []string{"ENCONTRADO", "", "No Encontrado", ""}, RestartPolicy{Backoff: time.Millisecond},
		simpleScript(nil))

	require.NoError(t, h.supervisor.Run(context.Background()))

	assert.Equal(t, []int{3, 5}, h.factory.sessions[0].queried)
	assert.Equal(t, Summary{Rows: 4, Found: 2, Skipped: 2}, h.supervisor.State().LastSummary)
}

func TestSupervisor_NothingPendingSkipsLogin(t *testing.T) {
	h := newHarness(t, []string{"encontrado", "no encontrado"}, RestartPolicy{Backoff: time.Millisecond},
		simpleScript(nil))

	require.NoError(t, h.supervisor.Run(context.Background()))

	session := h.factory.sessions[0]
	assert.Equal(t, 0, session.logins)
	assert.Empty(t, session.queried)
	assert.True(t, session.closed)
}

func TestSupervisor_RestartResumesFromPersistedStatus(t *testing.T) {
	h := newHarness(t, []string{"", "", ""}, RestartPolicy{Backoff: 5 * time.Millisecond},
		func(n int, dir string) *fakeSession {
			s := &fakeSession{downloadDir: dir}
			if n == 0 {
				s.failRow = map[int]error{3: models.NewWorkflowError(models.KindUIState, "query form: service", errors.New("not visible"))}
			}
			return s
		})

	require.NoError(t, h.supervisor.Run(context.Background()))

	require.Len(t, h.factory.sessions, 2)
	assert.Equal(t, []int{2, 3}, h.factory.sessions[0].queried)
	assert.Equal(t, []int{3, 4}, h.factory.sessions[1].queried, "row 2 is skipped, row 3 restarts from Querying")
	assert.True(t, h.factory.sessions[0].closed, "failed session is torn down")

	state := h.supervisor.State()
	assert.Equal(t, 1, state.Restarts)
	assert.Equal(t, 2, state.Attempt)
	assert.Equal(t, []models.RecordStatus{models.StatusFound, models.StatusFound, models.StatusFound}, h.statuses(t))
}

func TestSupervisor_SessionDeathMidRowResumes(t *testing.T) {
	h := newHarness(t, []string{"", "", ""}, RestartPolicy{Backoff: 5 * time.Millisecond},
		func(n int, dir string) *fakeSession {
			s := &fakeSession{downloadDir: dir}
			if n == 0 {
				s.dieRow = 3
			}
			return s
		})

	require.NoError(t, h.supervisor.Run(context.Background()))

	require.Len(t, h.factory.sessions, 2)
	first, second := h.factory.sessions[0], h.factory.sessions[1]
	assert.Equal(t, []int{2, 3}, first.queried)
	assert.Equal(t, interfaces.SessionDead, first.State())
	assert.Equal(t, []int{3, 4}, second.queried, "row 2 stays resolved, row 3 is queried again")
	assert.Equal(t, 1, second.logins)

	state := h.supervisor.State()
	assert.Equal(t, 1, state.Restarts)
	assert.Empty(t, state.LastError)
	assert.Equal(t, []models.RecordStatus{models.StatusFound, models.StatusFound, models.StatusFound}, h.statuses(t))
}

func TestSupervisor_SessionDeathIsReported(t *testing.T) {
	h := newHarness(t, []string{""}, RestartPolicy{Backoff: time.Millisecond, MaxRestarts: 1},
		func(n int, dir string) *fakeSession {
			return &fakeSession{downloadDir: dir, dieRow: 2}
		})

	err := h.supervisor.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSessionDead)
	assert.Contains(t, h.supervisor.State().LastError, "portal session is dead")
	assert.Equal(t, []models.RecordStatus{models.StatusPending}, h.statuses(t))
}

func TestSupervisor_SeparateDownloadDirKeepsArtifactsInResultFolder(t *testing.T) {
	h := newHarness(t, []string{"", ""}, RestartPolicy{Backoff: time.Millisecond}, simpleScript(nil))
	downloads := filepath.Join(t.TempDir(), "downloads")
	h.supervisor.output.DownloadDir = downloads

	require.NoError(t, h.supervisor.Run(context.Background()))

	assert.Equal(t, downloads, h.factory.sessions[0].downloadDir, "the browser downloads into the configured directory")

	folder := h.supervisor.State().ResultFolder
	assert.FileExists(t, filepath.Join(folder, "1_20100047212_11002342", "11002342.pdf"))
	assert.FileExists(t, filepath.Join(folder, "2_20100047213_11002343", "11002343.pdf"))

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is left or created in the download directory")
}

func TestSupervisor_EventsAndJournalShareRunID(t *testing.T) {
	h := newHarness(t, []string{"", ""}, RestartPolicy{Backoff: time.Millisecond},
		func(n int, dir string) *fakeSession {
			s := &fakeSession{downloadDir: dir}
			if n == 0 {
				s.failRow = map[int]error{3: models.NewWorkflowError(models.KindUIState, "query form: service", errors.New("not visible"))}
			}
			return s
		})
	events := &recordingEvents{}
	journal := &memoryJournal{}
	h.supervisor.events = events
	h.supervisor.journal = journal
	h.supervisor.orchestrator.deps.Events = events
	h.supervisor.orchestrator.deps.Journal = journal

	require.NoError(t, h.supervisor.Run(context.Background()))
	runID := h.supervisor.State().RunID
	require.NotEmpty(t, runID)

	var recordEvents, runEvents int
	attemptIDs := map[string]bool{}
	for _, e := range events.events {
		switch payload := e.Payload.(type) {
		case interfaces.RecordEvent:
			recordEvents++
			assert.Equal(t, runID, payload.RunID)
			assert.NotEmpty(t, payload.AttemptID)
		case interfaces.RunEvent:
			runEvents++
			assert.Equal(t, runID, payload.RunID)
			attemptIDs[payload.AttemptID] = true
		}
	}
	assert.Positive(t, recordEvents)
	assert.Equal(t, 2, runEvents, "one failed attempt and one completed attempt")
	assert.Len(t, attemptIDs, 2)

	require.Len(t, journal.runs, 2)
	for _, run := range journal.runs {
		assert.Equal(t, runID, run.RunID)
		assert.True(t, attemptIDs[run.ID])
	}
	for _, a := range journal.attempts {
		assert.Equal(t, runID, a.RunID)
		assert.True(t, attemptIDs[a.AttemptID], "attempt %s belongs to a journaled run", a.AttemptID)
	}
}

func TestSupervisor_DownloadTimeoutLeavesRowPending(t *testing.T) {
	h := newHarness(t, []string{""}, RestartPolicy{Backoff: time.Millisecond, MaxRestarts: 1},
		func(n int, dir string) *fakeSession {
			return &fakeSession{downloadDir: dir, noDownload: true}
		})

	err := h.supervisor.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDownloadTimeout)

	assert.Len(t, h.factory.sessions, 2, "one attempt plus one restart")
	assert.Equal(t, []models.RecordStatus{models.StatusPending}, h.statuses(t))
	assert.Equal(t, 0, h.store.snapshots)
	assert.False(t, h.supervisor.State().Completed)
}

func TestSupervisor_AmbiguousOutcomeSkipsBalanceStep(t *testing.T) {
	h := newHarness(t, []string{""}, RestartPolicy{Backoff: time.Millisecond},
		simpleScript(map[string]models.QueryOutcome{"11002342": models.OutcomeAmbiguousAccepted}))

	require.NoError(t, h.supervisor.Run(context.Background()))

	assert.Equal(t, []models.QueryOutcome{models.OutcomeAmbiguousAccepted}, h.factory.sessions[0].retrievals)
	assert.Equal(t, []models.RecordStatus{models.StatusFound}, h.statuses(t))
}

func TestSupervisor_PanicIsAnAttemptFailure(t *testing.T) {
	h := newHarness(t, []string{"", ""}, RestartPolicy{Backoff: time.Millisecond},
		func(n int, dir string) *fakeSession {
			s := &fakeSession{downloadDir: dir}
			if n == 0 {
				s.panicRow = 3
			}
			return s
		})

	require.NoError(t, h.supervisor.Run(context.Background()))
	assert.Len(t, h.factory.sessions, 2)
	assert.True(t, h.factory.sessions[0].closed)
	assert.Equal(t, 1, h.supervisor.State().Restarts)
}

func TestSupervisor_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(t, []string{""}, RestartPolicy{Backoff: time.Minute},
		func(n int, dir string) *fakeSession {
			return &fakeSession{downloadDir: dir, failRow: map[int]error{2: models.NewWorkflowError(models.KindQueryRace, "resolve race", errors.New("target closed"))}}
		})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := h.supervisor.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.factory.sessions, 1)
}

func TestSupervisor_RejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, []string{""}, RestartPolicy{Backoff: time.Millisecond}, simpleScript(nil))
	h.factory.script = func(n int, dir string) *fakeSession {
		close(started)
		<-release
		return &fakeSession{downloadDir: dir}
	}

	done := make(chan error, 1)
	go func() { done <- h.supervisor.Run(context.Background()) }()

	<-started
	assert.ErrorIs(t, h.supervisor.Run(context.Background()), ErrAlreadyRunning)
	close(release)
	assert.NoError(t, <-done)
}

func TestRestartPolicy_Exhausted(t *testing.T) {
	assert.False(t, RestartPolicy{}.exhausted(1000), "zero means unbounded")
	assert.False(t, RestartPolicy{MaxRestarts: 2}.exhausted(1))
	assert.True(t, RestartPolicy{MaxRestarts: 2}.exhausted(2))
}
