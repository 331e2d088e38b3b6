package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mfenderov/dossier/internal/events"
	"github.com/mfenderov/dossier/pkg/models"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrNotReady     = errors.New("report not ready")
	ErrJobFailed    = errors.New("job failed")
	ErrFinished     = errors.New("job already finished")
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// Runner executes one research job. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, jobID string, q models.ResearchQuery, emit events.Emitter) (*models.Report, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, jobID string, q models.ResearchQuery, emit events.Emitter) (*models.Report, error)

func (f RunnerFunc) Run(ctx context.Context, jobID string, q models.ResearchQuery, emit events.Emitter) (*models.Report, error) {
	return f(ctx, jobID, q, emit)
}

// Archive serves reports of jobs no longer held in memory.
type Archive interface {
	GetReport(ctx context.Context, jobID string) (*models.Report, error)
}

// Config holds job manager configuration.
type Config struct {
	MaxJobs int // finished jobs kept in memory
}

// Manager runs research jobs asynchronously and tracks their state.
type Manager struct {
	runner  Runner
	bus     *events.Bus
	archive Archive // nil if archiving disabled
	config  Config
	log     *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.RWMutex
	jobs     map[string]*job
	finished []string // oldest first
	closed   bool
}

type job struct {
	state  models.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a job manager. archive may be nil.
func NewManager(runner Runner, bus *events.Bus, archive Archive, config Config) *Manager {
	if config.MaxJobs <= 0 {
		config.MaxJobs = 100
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		runner:  runner,
		bus:     bus,
		archive: archive,
		config:  config,
		log:     slog.With("component", "jobs"),
		base:    base,
		stop:    stop,
		jobs:    make(map[string]*job),
	}
}

// Submit validates q, registers a queued job and starts it in the background.
func (m *Manager) Submit(q models.ResearchQuery) (string, error) {
	if err := q.Validate(); err != nil {
		return "", fmt.Errorf("invalid research query: %w", err)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(m.base)
	now := time.Now().UTC()
	j := &job{
		state: models.Job{
			ID:        id,
			Query:     q,
			State:     models.JobQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.bus.Open(id)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		m.bus.CloseJob(id)
		return "", ErrShuttingDown
	}
	m.jobs[id] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.bus.Publisher(id).Emit(models.StageJob, models.StatusQueued, fmt.Sprintf("researching %s", q.Company), map[string]any{
		"company": q.Company,
	})
	m.log.Info("job submitted", "job_id", id, "company", q.Company)

	go m.run(ctx, j)
	return id, nil
}

func (m *Manager) run(ctx context.Context, j *job) {
	defer m.wg.Done()
	defer j.cancel()

	id := j.state.ID
	m.update(j, func(s *models.Job) { s.State = models.JobRunning })

	pub := m.bus.Publisher(id)
	gate := &terminalGate{next: pub}
	report, err := m.runner.Run(ctx, id, j.state.Query, gate)

	switch {
	case err == nil:
		m.update(j, func(s *models.Job) {
			s.State = models.JobCompleted
			s.Report = report
		})
		gate.release()
		m.log.Info("job completed", "job_id", id)
	case errors.Is(err, models.ErrJobCancelled) || ctx.Err() != nil:
		m.update(j, func(s *models.Job) {
			s.State = models.JobCancelled
			s.Error = models.ErrJobCancelled.Error()
		})
		pub.Emit(models.StageJob, models.StatusError, "job cancelled", map[string]any{
			"state": string(models.JobCancelled),
			"error": models.ErrJobCancelled.Error(),
		})
		m.log.Info("job cancelled", "job_id", id)
	default:
		m.update(j, func(s *models.Job) {
			s.State = models.JobFailed
			s.Error = err.Error()
		})
		pub.Emit(models.StageJob, models.StatusError, "job failed", map[string]any{
			"state": string(models.JobFailed),
			"error": err.Error(),
		})
		m.log.Error("job failed", "job_id", id, "error", err)
	}

	m.bus.CloseJob(id)
	close(j.done)
	m.retire(id)
}

func (m *Manager) update(j *job, fn func(*models.Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&j.state)
	j.state.UpdatedAt = time.Now().UTC()
}

// retire records a finished job and evicts the oldest finished jobs beyond
// the configured limit.
func (m *Manager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, id)
	for len(m.finished) > m.config.MaxJobs {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}

// Get returns a snapshot of the job.
func (m *Manager) Get(jobID string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return j.state, nil
}

// Report returns the finished report of a job. Jobs that are no longer held
// in memory are looked up in the archive.
func (m *Manager) Report(ctx context.Context, jobID string) (*models.Report, error) {
	j, err := m.Get(jobID)
	if errors.Is(err, ErrNotFound) {
		if m.archive == nil {
			return nil, ErrNotFound
		}
		report, aerr := m.archive.GetReport(ctx, jobID)
		if aerr != nil {
			m.log.Debug("archived report lookup failed", "job_id", jobID, "error", aerr)
			return nil, ErrNotFound
		}
		return report, nil
	}

	switch j.State {
	case models.JobCompleted:
		return j.Report, nil
	case models.JobCancelled:
		return nil, models.ErrJobCancelled
	case models.JobFailed:
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, j.Error)
	default:
		return nil, ErrNotReady
	}
}

// Cancel withdraws a queued or running job. Its partial results are
// discarded and subscribers receive a terminal error event.
func (m *Manager) Cancel(jobID string) error {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	var state models.JobState
	if ok {
		state = j.state.State
	}
	m.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if state.Finished() {
		return ErrFinished
	}
	j.cancel()
	return nil
}

// Subscribe attaches to the job's event stream. The subscription replays the
// retained backlog first. Finished jobs have no stream: ErrFinished is
// returned and the caller should read the job state instead.
func (m *Manager) Subscribe(jobID string) (*events.Subscription, error) {
	if _, err := m.Get(jobID); err != nil {
		return nil, err
	}
	sub, err := m.bus.Subscribe(jobID)
	if errors.Is(err, events.ErrUnknownJob) {
		return nil, ErrFinished
	}
	return sub, err
}

// Watchers returns how many event stream subscribers are attached to the job.
func (m *Manager) Watchers(jobID string) int {
	return m.bus.Subscribers(jobID)
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID string) (models.Job, error) {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return models.Job{}, ErrNotFound
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return models.Job{}, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return j.state, nil
}

// Shutdown stops accepting jobs, cancels the running ones and waits for them
// to wind down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop jobs: %w", ctx.Err())
	}
}

// terminalGate forwards events to next but holds the runner's terminal event
// until release, so that subscribers only see report_complete once the job
// state says completed. A held event is dropped if release is never called.
type terminalGate struct {
	next events.Emitter

	mu   sync.Mutex
	held *models.ProgressEvent
}

func (g *terminalGate) Emit(stage models.Stage, status models.Status, message string, payload map[string]any) {
	if status.Terminal() {
		g.mu.Lock()
		g.held = &models.ProgressEvent{Stage: stage, Status: status, Message: message, Payload: payload}
		g.mu.Unlock()
		return
	}
	g.next.Emit(stage, status, message, payload)
}

func (g *terminalGate) release() {
	g.mu.Lock()
	held := g.held
	g.held = nil
	g.mu.Unlock()
	if held != nil {
		g.next.Emit(held.Stage, held.Status, held.Message, held.Payload)
	}
}

// FinalEvent describes a finished job as the terminal event of its stream,
// for subscribers that arrive after the stream was closed.
func FinalEvent(j models.Job) models.ProgressEvent {
	ev := models.ProgressEvent{
		JobID:     j.ID,
		Stage:     models.StageJob,
		Timestamp: j.UpdatedAt,
		Payload:   map[string]any{"state": string(j.State)},
	}
	if j.State == models.JobCompleted {
		ev.Status = models.StatusReportComplete
		ev.Message = "report complete"
		if j.Report != nil {
			ev.Payload["report"] = j.Report.Content
		}
		return ev
	}
	ev.Status = models.StatusError
	ev.Message = "job " + string(j.State)
	ev.Payload["error"] = j.Error
	return ev
}
