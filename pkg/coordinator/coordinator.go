package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilnproject/kiln/pkg/events"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/metrics"
	"github.com/kilnproject/kiln/pkg/storage"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/rs/zerolog"
)

// ErrRetryConflict rejects a retry on a job that is neither errored
// nor cancelled.
var ErrRetryConflict = errors.New("can only retry errored or cancelled jobs")

// MaxRetriesError rejects a retry once the retry budget is spent. The
// job has already been written as failed when this is returned.
type MaxRetriesError struct {
	RetryCount int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("max retries exceeded (retry %d)", e.RetryCount)
}

// Coordinator owns the assignment policy, the job state machine and
// the worker liveness registry. All state lives in the store; the only
// in-memory state is the round-robin cursor and the per-uid locks.
type Coordinator struct {
	store         storage.Store
	broker        *events.Broker
	workerTimeout time.Duration
	logger        zerolog.Logger

	mu           sync.Mutex
	lastAssigned string

	uidLocksMu sync.Mutex
	uidLocks   map[string]*sync.Mutex
}

// New creates a coordinator on top of a store
func New(store storage.Store, broker *events.Broker, workerTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		broker:        broker,
		workerTimeout: workerTimeout,
		logger:        log.WithComponent("coordinator"),
		uidLocks:      make(map[string]*sync.Mutex),
	}
}

// lockUID serialises read-modify-write mutations per job uid. Returns
// the unlock function.
func (c *Coordinator) lockUID(uid string) func() {
	c.uidLocksMu.Lock()
	l, ok := c.uidLocks[uid]
	if !ok {
		l = &sync.Mutex{}
		c.uidLocks[uid] = l
	}
	c.uidLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (c *Coordinator) publish(event *events.Event) {
	if c.broker != nil {
		c.broker.Publish(event)
	}
}

// CreateJob persists a job built from a partial submission and feeds
// it through the assignment policy.
func (c *Coordinator) CreateJob(partial types.Job) (*types.Job, error) {
	job := types.NewJob(partial)
	if err := c.store.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	c.publish(&events.Event{Type: events.EventJobCreated, JobUID: job.UID, Message: job.Name})
	c.TriggerAssignment(job)
	return job, nil
}

// GetJob reads a job by uid
func (c *Coordinator) GetJob(uid string) (*types.Job, error) {
	return c.store.GetJob(uid)
}

// ListJobs reads every job
func (c *Coordinator) ListJobs() ([]*types.Job, error) {
	return c.store.ListJobs()
}

// JobsForWorker reads the jobs assigned to one worker
func (c *Coordinator) JobsForWorker(worker string) ([]*types.Job, error) {
	return c.store.ListJobsByWorker(worker)
}

// DeleteJob removes a job unconditionally
func (c *Coordinator) DeleteJob(uid string) error {
	return c.store.DeleteJob(uid)
}

// DeleteAllJobs truncates the jobs table and returns the count removed
func (c *Coordinator) DeleteAllJobs() (int, error) {
	return c.store.DeleteAllJobs()
}

// UpdateJob applies a partial update to a job. A status change is
// checked against the state machine first; on rejection the stored job
// is untouched and a *TransitionError is returned.
func (c *Coordinator) UpdateJob(uid string, update types.JobUpdate) (*types.Job, error) {
	unlock := c.lockUID(uid)
	defer unlock()

	job, err := c.store.GetJob(uid)
	if err != nil {
		return nil, err
	}

	if update.Status != nil && *update.Status != job.Status {
		if !IsValidTransition(job.Status, *update.Status) {
			c.logger.Warn().
				Str("job_uid", uid).
				Str("current", string(job.Status)).
				Str("requested", string(*update.Status)).
				Msg("Invalid state transition")
			return nil, &TransitionError{Current: job.Status, Requested: *update.Status}
		}
	}

	update.Apply(job)
	if err := c.store.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if update.Status != nil {
		switch *update.Status {
		case types.StatusFinished:
			c.publish(&events.Event{Type: events.EventJobFinished, JobUID: uid, Worker: job.Worker})
		case types.StatusErrored:
			c.publish(&events.Event{Type: events.EventJobErrored, JobUID: uid, Worker: job.Worker, Message: job.ErrorMessage})
		}
	}
	return job, nil
}

// CancelJob forces a job to cancelled. Cancellation is eventual: the
// worker notices on its next poll and terminates the renderer.
func (c *Coordinator) CancelJob(uid string) (*types.Job, error) {
	unlock := c.lockUID(uid)
	defer unlock()

	job, err := c.store.GetJob(uid)
	if err != nil {
		return nil, err
	}

	job.Status = types.StatusCancelled
	if err := c.store.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	c.logger.Info().Str("job_uid", uid).Msg("Cancelled job")
	c.publish(&events.Event{Type: events.EventJobCancelled, JobUID: uid})
	return job, nil
}

// RetryJob restarts an errored or cancelled job, bounded by the retry
// budget. Exceeding the budget writes the job as failed and returns a
// *MaxRetriesError.
func (c *Coordinator) RetryJob(uid string) (*types.Job, error) {
	unlock := c.lockUID(uid)
	defer unlock()

	job, err := c.store.GetJob(uid)
	if err != nil {
		return nil, err
	}

	if job.Status != types.StatusErrored && job.Status != types.StatusCancelled {
		return nil, ErrRetryConflict
	}

	newRetryCount := job.RetryCount + 1
	if newRetryCount > types.MaxRetries {
		job.Status = types.StatusFailed
		if err := c.store.UpsertJob(job); err != nil {
			return nil, fmt.Errorf("failed to persist job: %w", err)
		}
		c.publish(&events.Event{Type: events.EventJobFailed, JobUID: uid})
		return job, &MaxRetriesError{RetryCount: newRetryCount}
	}

	job.RetryCount = newRetryCount
	job.ErrorMessage = ""
	job.Progress = 0
	job.Status = types.StatusReadyToStart
	if err := c.store.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	c.logger.Info().Str("job_uid", uid).Int("attempt", newRetryCount).Msg("Retrying job")
	c.publish(&events.Event{Type: events.EventJobRetried, JobUID: uid})
	return job, nil
}

// Heartbeat upserts a worker record with a server-side last_seen
func (c *Coordinator) Heartbeat(hb types.Heartbeat) error {
	status := hb.Status
	if status == "" {
		status = types.WorkerIdle
	}
	worker := &types.Worker{
		Name:          hb.WorkerName,
		Status:        status,
		CurrentJob:    hb.CurrentJob,
		CPUPercent:    hb.CPUPercent,
		MemoryPercent: hb.MemoryPercent,
		UnrealPID:     hb.UnrealPID,
		RenderStarted: hb.RenderStarted,
		LastSeen:      time.Now().Format(time.RFC3339),
	}
	if err := c.store.UpsertWorker(worker); err != nil {
		return fmt.Errorf("failed to persist worker: %w", err)
	}

	c.logger.Debug().Str("worker", hb.WorkerName).Msg("Heartbeat")
	c.publish(&events.Event{Type: events.EventWorkerSeen, Worker: hb.WorkerName})
	return nil
}

// WorkersStatus snapshots the registry with the derived online flag
func (c *Coordinator) WorkersStatus() ([]types.WorkerView, error) {
	workers, err := c.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	now := time.Now()
	views := make([]types.WorkerView, 0, len(workers))
	online := 0
	for _, w := range workers {
		view := types.WorkerView{
			Name:          w.Name,
			Status:        w.Status,
			CurrentJob:    w.CurrentJob,
			CPUPercent:    w.CPUPercent,
			MemoryPercent: w.MemoryPercent,
			LastSeen:      w.LastSeen,
		}
		if w.LastSeen != "" {
			if lastSeen, err := time.Parse(time.RFC3339, w.LastSeen); err == nil {
				view.Online = now.Sub(lastSeen) < c.workerTimeout
			}
		}
		if view.Online {
			online++
		}
		views = append(views, view)
	}

	metrics.WorkersTotal.Set(float64(len(views)))
	metrics.WorkersOnline.Set(float64(online))
	return views, nil
}

// availableWorker picks the next online idle worker by round-robin
// over stable lexical order. Returns "" when no candidate exists.
func (c *Coordinator) availableWorker() string {
	workers, err := c.WorkersStatus()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to snapshot workers")
		return ""
	}

	var available []string
	for _, w := range workers {
		if w.Online && w.Status == types.WorkerIdle {
			available = append(available, w.Name)
		}
	}
	if len(available) == 0 {
		return ""
	}
	sort.Strings(available)

	c.mu.Lock()
	defer c.mu.Unlock()

	next := 0
	for i, name := range available {
		if name == c.lastAssigned {
			next = (i + 1) % len(available)
			break
		}
	}
	c.lastAssigned = available[next]
	return c.lastAssigned
}

// TriggerAssignment attempts to hand an unassigned job to a worker.
// Jobs that already carry a worker are left alone; without a candidate
// the job keeps its status with no worker, and no later submission or
// watchdog pass retries its assignment.
func (c *Coordinator) TriggerAssignment(job *types.Job) {
	if job.Worker != "" {
		return
	}

	timer := metrics.NewTimer()
	worker := c.availableWorker()
	if worker == "" {
		metrics.JobsUnassignedTotal.Inc()
		c.logger.Warn().Str("job_uid", job.UID).Msg("No workers available for job")
		return
	}

	job.Worker = worker
	job.Status = types.StatusReadyToStart
	if err := c.store.UpsertJob(job); err != nil {
		c.logger.Error().Err(err).Str("job_uid", job.UID).Msg("Failed to persist assignment")
		return
	}

	timer.ObserveDuration(metrics.AssignmentLatency)
	metrics.JobsAssignedTotal.Inc()
	c.logger.Info().Str("job_uid", job.UID).Str("worker", worker).Msg("Assigned job")
	c.publish(&events.Event{Type: events.EventJobAssigned, JobUID: job.UID, Worker: worker})
}

// ResetJob re-queues a stuck in-progress job: the worker binding is
// cleared, the reason is recorded, and the job goes back through the
// assignment path.
func (c *Coordinator) ResetJob(uid, reason string) (*types.Job, error) {
	unlock := c.lockUID(uid)
	defer unlock()

	job, err := c.store.GetJob(uid)
	if err != nil {
		return nil, err
	}

	job.Worker = ""
	job.Status = types.StatusReadyToStart
	job.ErrorMessage = "Reset: " + reason
	if err := c.store.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	c.publish(&events.Event{Type: events.EventJobReset, JobUID: uid, Message: reason})
	return job, nil
}

// ReportError appends a worker/watchdog error record
func (c *Coordinator) ReportError(report types.ErrorReport) error {
	record := &types.ErrorRecord{
		Timestamp: time.Now().Format(time.RFC3339),
		Worker:    report.Worker,
		JobUID:    report.JobUID,
		Message:   report.Message,
	}
	if err := c.store.AppendError(record); err != nil {
		return fmt.Errorf("failed to append error: %w", err)
	}
	c.logger.Warn().Str("worker", report.Worker).Str("job_uid", report.JobUID).Msg(report.Message)
	return nil
}

// RecentErrors returns up to limit error records, most recent first
func (c *Coordinator) RecentErrors(limit int) ([]*types.ErrorRecord, error) {
	records, err := c.store.RecentErrors(limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*types.ErrorRecord{}
	}
	return records, nil
}

// ClearErrors truncates the error log
func (c *Coordinator) ClearErrors() error {
	return c.store.ClearErrors()
}

// Dashboard computes the aggregate counts plus the last five errors
func (c *Coordinator) Dashboard() (*types.Dashboard, error) {
	workers, err := c.WorkersStatus()
	if err != nil {
		return nil, err
	}
	jobs, err := c.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	dash := &types.Dashboard{
		Jobs: types.DashboardJobs{
			Total:    len(jobs),
			ByStatus: make(map[string]int),
		},
	}

	dash.Workers.Total = len(workers)
	for _, w := range workers {
		if !w.Online {
			continue
		}
		dash.Workers.Online++
		switch w.Status {
		case types.WorkerIdle:
			dash.Workers.Idle++
		case types.WorkerRendering:
			dash.Workers.Rendering++
		}
	}

	for _, job := range jobs {
		status := string(job.Status)
		if status == "" {
			status = "unknown"
		}
		dash.Jobs.ByStatus[status]++
	}
	for _, status := range types.AllStatuses {
		metrics.JobsTotal.WithLabelValues(string(status)).Set(float64(dash.Jobs.ByStatus[string(status)]))
	}

	recent, err := c.RecentErrors(5)
	if err != nil {
		return nil, err
	}
	dash.RecentErrors = make([]types.ErrorRecord, 0, len(recent))
	for _, r := range recent {
		dash.RecentErrors = append(dash.RecentErrors, *r)
	}

	return dash, nil
}
