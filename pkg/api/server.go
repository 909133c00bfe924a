package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/coordinator"
	"github.com/kilnproject/kiln/pkg/events"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/metrics"
	"github.com/kilnproject/kiln/pkg/storage"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/rs/zerolog"
)

// Rate-limit budgets per source address. PUT gets its own tighter
// budget because workers hammer it.
const (
	defaultRateLimit = 200
	putRateLimit     = 60
)

// WatchdogStatus reports whether the stuck-job loop is alive
type WatchdogStatus interface {
	Running() bool
}

// Server exposes the coordinator REST surface
type Server struct {
	coordinator *coordinator.Coordinator
	watchdog    WatchdogStatus
	broker      *events.Broker
	projectsDir string
	logger      zerolog.Logger
	engine      *gin.Engine
	http        *http.Server
}

// NewServer wires the gin engine with middleware and routes
func NewServer(coord *coordinator.Coordinator, wd WatchdogStatus, broker *events.Broker, projectsDir string, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		coordinator: coord,
		watchdog:    wd,
		broker:      broker,
		projectsDir: projectsDir,
		logger:      log.WithComponent("api"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(requestMetrics())
	engine.Use(cors.Default())
	engine.Use(newSourceLimiter(defaultRateLimit).Middleware())

	s.routes(engine)
	s.engine = engine
	return s
}

func (s *Server) routes(engine *gin.Engine) {
	api := engine.Group("/api")

	api.GET("/health", s.health)
	api.GET("/dashboard", s.dashboard)

	api.GET("/get", s.getAllJobs)
	api.GET("/get/:uid", s.getJob)
	api.GET("/jobs/mine/:worker", s.getMyJobs)
	api.POST("/post", s.createJob)
	api.PUT("/put/:uid", newSourceLimiter(putRateLimit).Middleware(), s.updateJob)
	api.POST("/cancel/:uid", s.cancelJob)
	api.POST("/retry/:uid", s.retryJob)
	api.DELETE("/delete/:uid", s.deleteJob)
	api.DELETE("/delete-all", s.deleteAllJobs)
	api.POST("/submit/:project", s.submitProject)

	api.POST("/worker/heartbeat", s.workerHeartbeat)
	api.POST("/worker/error", s.workerError)
	api.GET("/workers", s.getWorkers)

	api.GET("/errors", s.getErrors)
	api.DELETE("/errors", s.clearErrors)

	api.GET("/events", s.getEvents)

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Start begins serving on addr and blocks until shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Health and dashboard

func (s *Server) health(c *gin.Context) {
	workers, err := s.coordinator.WorkersStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	online := 0
	for _, w := range workers {
		if w.Online {
			online++
		}
	}
	running := s.watchdog != nil && s.watchdog.Running()
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"workers_online":   online,
		"watchdog_running": running,
	})
}

func (s *Server) dashboard(c *gin.Context) {
	dash, err := s.coordinator.Dashboard()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dash)
}

// Job CRUD

func (s *Server) getAllJobs(c *gin.Context) {
	jobs, err := s.coordinator.ListJobs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"results": jobs})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.coordinator.GetJob(c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) getMyJobs(c *gin.Context) {
	jobs, err := s.coordinator.JobsForWorker(c.Param("worker"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) createJob(c *gin.Context) {
	var partial types.Job
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := s.coordinator.CreateJob(partial)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) updateJob(c *gin.Context) {
	update, err := parseUpdateBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := s.coordinator.UpdateJob(c.Param("uid"), update)
	if err != nil {
		var transition *coordinator.TransitionError
		switch {
		case errors.As(err, &transition):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":               "invalid state transition",
				"current_status":      transition.Current,
				"requested_status":    transition.Requested,
				"allowed_transitions": transition.Allowed(),
			})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, job)
}

// parseUpdateBody accepts the JSON update body, or the legacy
// plaintext "progress;time_estimate;status" form emitted by older
// in-engine bridges.
func parseUpdateBody(c *gin.Context) (types.JobUpdate, error) {
	var update types.JobUpdate

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return update, err
	}

	if json.Unmarshal(body, &update) == nil {
		return update, nil
	}

	parts := strings.SplitN(strings.TrimSpace(string(body)), ";", 3)
	if len(parts) != 3 {
		return update, fmt.Errorf("unrecognised update body")
	}
	progress, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return update, fmt.Errorf("unrecognised update body")
	}
	estimate := parts[1]
	status := types.JobStatus(parts[2])
	update.Progress = &progress
	update.TimeEstimate = &estimate
	update.Status = &status
	return update, nil
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.coordinator.CancelJob(c.Param("uid"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) retryJob(c *gin.Context) {
	job, err := s.coordinator.RetryJob(c.Param("uid"))
	if err != nil {
		var maxRetries *coordinator.MaxRetriesError
		switch {
		case errors.As(err, &maxRetries):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       "max retries exceeded",
				"retry_count": maxRetries.RetryCount,
			})
		case errors.Is(err, coordinator.ErrRetryConflict):
			c.JSON(http.StatusBadRequest, gin.H{"error": "can only retry errored or cancelled jobs"})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) deleteJob(c *gin.Context) {
	if err := s.coordinator.DeleteJob(c.Param("uid")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) deleteAllJobs(c *gin.Context) {
	count, err := s.coordinator.DeleteAllJobs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Int("deleted", count).Msg("Deleted all jobs")
	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": count})
}

// submitProject reads a project config from the projects directory and
// submits one job per sequence
func (s *Server) submitProject(c *gin.Context) {
	name := filepath.Base(c.Param("project"))
	project, err := config.LoadProject(filepath.Join(s.projectsDir, name))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	submitted := make([]string, 0, len(project.Sequences))
	for _, seq := range project.Sequences {
		job, err := s.coordinator.CreateJob(types.Job{
			Name:        config.SequenceName(seq),
			UmapPath:    project.Map,
			UseqPath:    seq,
			UconfigPath: project.Config,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		submitted = append(submitted, job.UID)
	}

	s.logger.Info().Int("jobs", len(submitted)).Str("project", name).Msg("Submitted project")
	c.JSON(http.StatusOK, gin.H{"submitted": submitted})
}

// Worker API

func (s *Server) workerHeartbeat(c *gin.Context) {
	var hb types.Heartbeat
	if err := c.ShouldBindJSON(&hb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if hb.WorkerName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_name required"})
		return
	}

	if err := s.coordinator.Heartbeat(hb); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) workerError(c *gin.Context) {
	var report types.ErrorReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if report.Message == "" {
		report.Message = "Unknown error"
	}

	if err := s.coordinator.ReportError(report); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) getWorkers(c *gin.Context) {
	workers, err := s.coordinator.WorkersStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

// Error log

func (s *Server) getErrors(c *gin.Context) {
	records, err := s.coordinator.RecentErrors(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": records})
}

func (s *Server) clearErrors(c *gin.Context) {
	if err := s.coordinator.ClearErrors(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Msg("Cleared error log")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Events

func (s *Server) getEvents(c *gin.Context) {
	recent := []*events.Event{}
	if s.broker != nil {
		recent = s.broker.Recent(50)
	}
	c.JSON(http.StatusOK, gin.H{"events": recent})
}
