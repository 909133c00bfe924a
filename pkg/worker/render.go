package worker

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/types"
)

// Child process supervision intervals
const (
	childPollInterval = 2 * time.Second
	timeoutGrace      = 10 * time.Second
	cancelGrace       = 5 * time.Second
)

// outcome is the terminal result of a render: ok on clean exit,
// otherwise a human-readable reason.
type outcome struct {
	ok     bool
	reason string
}

// renderCommand builds the renderer argv for a job. The uid is
// injected so the in-engine bridge can address its own updates.
func (a *Agent) renderCommand(job *types.Job) *exec.Cmd {
	args := []string{
		a.cfg.UnrealProject,
		job.UmapPath,
		fmt.Sprintf("-JobId=%s", job.UID),
		fmt.Sprintf("-LevelSequence=%s", job.UseqPath),
		fmt.Sprintf("-MoviePipelineConfig=%s", job.UconfigPath),
		"-game",
		"-MoviePipelineLocalExecutorClass=/Script/MovieRenderPipelineCore.MoviePipelinePythonHostExecutor",
		"-ExecutorPythonClass=/Engine/PythonTypes.MyExecutor",
		"-windowed",
		"-resX=1280",
		"-resY=720",
		"-StdOut",
		"-FullStdOutLogOutput",
	}

	cmd := exec.Command(a.cfg.UnrealExe, args...)
	cmd.Env = append(os.Environ(),
		"UE_PYTHONPATH="+strings.ReplaceAll(a.cfg.BridgePath, "\\", "/"),
	)
	return cmd
}

// render drives one renderer process through its lifecycle: start,
// output scraping, cancellation and timeout polling, crash detection.
func (a *Agent) render(job *types.Job) outcome {
	logger := log.WithJobUID(job.UID)

	cmd := a.renderCommand(job)
	logger.Info().Str("command", cmd.String()).Msg("Launching renderer")

	// Merge stdout and stderr through one pipe so the scraper sees
	// everything in arrival order.
	pr, pw, err := os.Pipe()
	if err != nil {
		return outcome{false, fmt.Sprintf("Failed to start Unreal: %v", err)}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return outcome{false, fmt.Sprintf("Failed to start Unreal: %v", err)}
	}
	// The parent's write end must close so the scraper hits EOF when
	// the child exits.
	pw.Close()

	scraperDone := make(chan struct{})
	go func() {
		defer close(scraperDone)
		defer pr.Close()
		scrapeOutput(pr, logger)
	}()

	startTime := time.Now()
	a.client.UpdateJob(job.UID, types.JobUpdate{
		StartedAt: ptr(startTime.Format(time.RFC3339)),
	})

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	ticker := time.NewTicker(childPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			<-scraperDone
			if err != nil {
				code := -1
				if exitErr, ok := err.(*exec.ExitError); ok {
					code = exitErr.ExitCode()
				}
				reason := fmt.Sprintf("Unreal exited with code %d", code)
				logger.Error().Str("reason", reason).Msg("Render failed")
				return outcome{false, reason}
			}
			return outcome{true, ""}

		case <-ticker.C:
			elapsed := time.Since(startTime)

			if elapsed > a.cfg.RenderTimeout {
				logger.Error().Dur("elapsed", elapsed).Msg("Render timed out")
				a.terminate(cmd, waitCh, timeoutGrace)
				// Descendants of the child may still hold the write end;
				// closing the read end stops the scraper now.
				pr.Close()
				<-scraperDone
				return outcome{false, fmt.Sprintf("Render timed out after %d seconds", int(a.cfg.RenderTimeout.Seconds()))}
			}

			if current, err := a.client.GetJob(job.UID); err == nil {
				if current.Status == types.StatusCancelled {
					logger.Info().Msg("Job cancelled, killing render process")
					a.terminate(cmd, waitCh, cancelGrace)
					pr.Close()
					<-scraperDone
					return outcome{false, "Cancelled by user"}
				}
			} else {
				logger.Warn().Err(err).Msg("Failed to check job status")
			}

			cpuPercent, memPercent := a.systemMetrics()
			a.client.SendHeartbeat(types.Heartbeat{
				WorkerName:    a.cfg.WorkerName,
				Status:        types.WorkerRendering,
				CurrentJob:    job.UID,
				CPUPercent:    cpuPercent,
				MemoryPercent: memPercent,
				UnrealPID:     cmd.Process.Pid,
				RenderStarted: startTime.Format(time.RFC3339),
			})
		}
	}
}

// terminate asks the child to exit and hard-kills it once the grace
// window expires
func (a *Agent) terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to signal renderer")
	}

	select {
	case <-waitCh:
	case <-time.After(grace):
		a.logger.Warn().Dur("grace", grace).Msg("Renderer ignored SIGTERM, killing")
		if err := cmd.Process.Kill(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to kill renderer")
		}
		<-waitCh
	}
}

func ptr[T any](v T) *T {
	return &v
}
