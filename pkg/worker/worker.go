package worker

import (
	"fmt"
	"time"

	"github.com/kilnproject/kiln/pkg/client"
	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/rs/zerolog"
)

// errorBackoff is how long the loop sleeps after an iteration fails,
// longer than the normal poll so a broken environment does not spam
// the coordinator.
const errorBackoff = 30 * time.Second

// Agent is a long-running worker process on a render host. It
// heartbeats the coordinator, pulls its assigned jobs and drives the
// renderer subprocess through its lifecycle.
type Agent struct {
	cfg    config.Worker
	client *client.Client
	logger zerolog.Logger
	stopCh chan struct{}

	serverConnected bool
	everConnected   bool
}

// New creates a worker agent. Fails when the renderer executable or
// project is not configured.
func New(cfg config.Worker) (*Agent, error) {
	if cfg.UnrealExe == "" {
		return nil, fmt.Errorf("UNREAL_EXE environment variable not set")
	}
	if cfg.UnrealProject == "" {
		return nil, fmt.Errorf("UNREAL_PROJECT environment variable not set")
	}

	return &Agent{
		cfg:    cfg,
		client: client.New(cfg.ServerURL),
		logger: log.WithComponent("worker"),
		stopCh: make(chan struct{}),
	}, nil
}

// Stop signals the main loop to exit after the current iteration
func (a *Agent) Stop() {
	close(a.stopCh)
}

// Run is the main worker loop. It returns when Stop is called.
func (a *Agent) Run() {
	a.logger.Info().
		Str("worker", a.cfg.WorkerName).
		Str("unreal_exe", a.cfg.UnrealExe).
		Str("project", a.cfg.UnrealProject).
		Dur("render_timeout", a.cfg.RenderTimeout).
		Msg("Starting render worker")

	for {
		sleep := a.cfg.PollInterval
		if err := a.iterate(); err != nil {
			a.logger.Error().Err(err).Msg("Worker error")
			a.client.ReportError(a.cfg.WorkerName, fmt.Sprintf("Worker error: %v", err), "")
			sleep = errorBackoff
		}

		select {
		case <-a.stopCh:
			a.logger.Info().Msg("Worker stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// iterate performs one poll cycle: heartbeat, fetch assignments,
// process at most one ready job.
func (a *Agent) iterate() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker loop: %v", r)
		}
	}()

	cpuPercent, memPercent := a.systemMetrics()
	a.client.SendHeartbeat(types.Heartbeat{
		WorkerName:    a.cfg.WorkerName,
		Status:        types.WorkerIdle,
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
	})

	jobs, fetchErr := a.client.GetMyJobs(a.cfg.WorkerName)
	if fetchErr != nil {
		// Treat as "no jobs available"; only log the edge from
		// connected to disconnected to avoid log spam.
		if a.serverConnected {
			a.logger.Warn().Err(fetchErr).Msg("Lost connection to server, will keep retrying")
			a.serverConnected = false
		}
		jobs = nil
	} else if !a.serverConnected {
		if a.everConnected {
			a.logger.Info().Str("server", a.client.BaseURL()).Msg("Reconnected to server")
		} else {
			a.logger.Info().Str("server", a.client.BaseURL()).Msg("Connected to server")
			a.everConnected = true
		}
		a.serverConnected = true
	}

	// Sequential: one job per iteration, no intra-worker parallelism.
	for _, job := range jobs {
		if job.Status != types.StatusReadyToStart {
			continue
		}
		a.processJob(job.UID)
		break
	}

	return nil
}

// processJob drives one job from ready to a terminal outcome
func (a *Agent) processJob(uid string) {
	logger := log.WithJobUID(uid)

	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprintf("%v", r)
			logger.Error().Str("panic", message).Msg("Unexpected error processing job")
			a.client.UpdateJob(uid, types.JobUpdate{
				Status:       ptr(types.StatusErrored),
				ErrorMessage: ptr(message),
				CompletedAt:  ptr(time.Now().Format(time.RFC3339)),
			})
			a.client.ReportError(a.cfg.WorkerName, message, uid)
		}
	}()

	job, err := a.client.GetJob(uid)
	if err != nil {
		logger.Error().Err(err).Msg("Job not found")
		return
	}

	logger.Info().Str("name", job.Name).Msg("Starting job")
	a.client.UpdateJob(uid, types.JobUpdate{
		Status: ptr(types.StatusInProgress),
	})

	result := a.render(job)
	completedAt := time.Now().Format(time.RFC3339)

	if result.ok {
		logger.Info().Msg("Finished job successfully")
		a.client.UpdateJob(uid, types.JobUpdate{
			Progress:     ptr(100.0),
			Status:       ptr(types.StatusFinished),
			TimeEstimate: ptr("N/A"),
			CompletedAt:  ptr(completedAt),
		})
		return
	}

	logger.Error().Str("reason", result.reason).Msg("Job failed")
	a.client.UpdateJob(uid, types.JobUpdate{
		Status:       ptr(types.StatusErrored),
		ErrorMessage: ptr(result.reason),
		CompletedAt:  ptr(completedAt),
	})
	a.client.ReportError(a.cfg.WorkerName, result.reason, uid)
}
