package watchdog

import (
	"fmt"
	"time"

	"github.com/kilnproject/kiln/pkg/coordinator"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/metrics"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the wake period of the watchdog loop
const DefaultInterval = 60 * time.Second

// Watchdog scans for stuck in-progress jobs and re-queues them
type Watchdog struct {
	coordinator *coordinator.Coordinator
	jobTimeout  time.Duration
	interval    time.Duration
	logger      zerolog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// New creates a watchdog over a coordinator
func New(coord *coordinator.Coordinator, jobTimeout time.Duration) *Watchdog {
	return &Watchdog{
		coordinator: coord,
		jobTimeout:  jobTimeout,
		interval:    DefaultInterval,
		logger:      log.WithComponent("watchdog"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the watchdog loop
func (w *Watchdog) Start() {
	w.running = true
	go w.run()
}

// Stop signals the loop to exit and waits for it
func (w *Watchdog) Stop() {
	if !w.running {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running = false
}

// Running reports whether the loop is alive
func (w *Watchdog) Running() bool {
	return w.running
}

// run is the main watchdog loop
func (w *Watchdog) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Msg("Job watchdog started")

	for {
		select {
		case <-ticker.C:
			if err := w.CheckStuckJobs(); err != nil {
				// Log error but continue
				w.logger.Error().Err(err).Msg("Watchdog pass failed")
			}
		case <-w.stopCh:
			w.logger.Info().Msg("Job watchdog stopped")
			return
		}
	}
}

// CheckStuckJobs performs one scan. A job counts as stuck when it is
// in progress with no worker, an unknown worker, an offline worker, or
// a started_at older than the job timeout.
func (w *Watchdog) CheckStuckJobs() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.WatchdogPassDuration)
		metrics.WatchdogPassesTotal.Inc()
	}()

	jobs, err := w.coordinator.ListJobs()
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	views, err := w.coordinator.WorkersStatus()
	if err != nil {
		return fmt.Errorf("failed to snapshot workers: %w", err)
	}
	workers := make(map[string]types.WorkerView, len(views))
	for _, v := range views {
		workers[v.Name] = v
	}

	now := time.Now()
	for _, job := range jobs {
		if job.Status != types.StatusInProgress {
			continue
		}

		reason, cause := w.stuckReason(job, workers, now)
		if reason == "" {
			continue
		}

		w.logger.Warn().Str("job_uid", job.UID).Str("reason", reason).Msg("Resetting stuck job")
		metrics.JobsResetTotal.WithLabelValues(cause).Inc()

		reset, err := w.coordinator.ResetJob(job.UID, reason)
		if err != nil {
			w.logger.Error().Err(err).Str("job_uid", job.UID).Msg("Failed to reset stuck job")
			continue
		}
		w.coordinator.TriggerAssignment(reset)
	}

	return nil
}

// stuckReason applies the first matching stuck rule. Returns the
// human-readable reason and a low-cardinality cause label, or "" when
// the job is healthy.
func (w *Watchdog) stuckReason(job *types.Job, workers map[string]types.WorkerView, now time.Time) (string, string) {
	if job.Worker == "" {
		return "no worker assigned", "no_worker"
	}

	worker, ok := workers[job.Worker]
	if !ok {
		return fmt.Sprintf("worker %s not registered", job.Worker), "unregistered"
	}
	if !worker.Online {
		return fmt.Sprintf("worker %s is offline", job.Worker), "offline"
	}

	if job.StartedAt != "" {
		started, err := time.Parse(time.RFC3339, job.StartedAt)
		if err == nil && now.Sub(started) > w.jobTimeout {
			return fmt.Sprintf("job exceeded %ds timeout", int(w.jobTimeout.Seconds())), "timeout"
		}
	}

	return "", ""
}
