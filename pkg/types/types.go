package types

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// TimeCreatedLayout is the human-readable creation timestamp format
// carried on the wire.
const TimeCreatedLayout = "01/02/2006, 15:04:05"

// MaxRetries is the number of operator-initiated retries allowed
// before a job is marked failed.
const MaxRetries = 3

// JobStatus represents the render state of a job
type JobStatus string

const (
	StatusUnassigned   JobStatus = "un-assigned"
	StatusReadyToStart JobStatus = "ready to start"
	StatusInProgress   JobStatus = "in progress"
	StatusFinished     JobStatus = "finished"
	StatusErrored      JobStatus = "errored"
	StatusFailed       JobStatus = "failed"
	StatusCancelled    JobStatus = "cancelled"
	StatusPaused       JobStatus = "paused"
)

// AllStatuses lists every job status in declaration order.
var AllStatuses = []JobStatus{
	StatusUnassigned,
	StatusReadyToStart,
	StatusInProgress,
	StatusFinished,
	StatusErrored,
	StatusFailed,
	StatusCancelled,
	StatusPaused,
}

// WorkerStatus represents what a worker is currently doing
type WorkerStatus string

const (
	WorkerIdle      WorkerStatus = "idle"
	WorkerRendering WorkerStatus = "rendering"
)

// Job represents a single render task tracked end-to-end
type Job struct {
	UID           string    `json:"uid"`
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	Worker        string    `json:"worker"`
	TimeCreated   string    `json:"time_created"`
	Priority      int       `json:"priority"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	Status        JobStatus `json:"status"`
	UmapPath      string    `json:"umap_path"`
	UseqPath      string    `json:"useq_path"`
	UconfigPath   string    `json:"uconfig_path"`
	OutputPath    string    `json:"output_path"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FrameRate     int       `json:"frame_rate"`
	Format        string    `json:"format"`
	StartFrame    int       `json:"start_frame"`
	EndFrame      int       `json:"end_frame"`
	Length        int       `json:"length"`
	TimeEstimate  string    `json:"time_estimate"`
	Progress      int       `json:"progress"`
	WarmupCurrent int       `json:"warmup_current"`
	WarmupTotal   int       `json:"warmup_total"`
	ErrorMessage  string    `json:"error_message"`
	RetryCount    int       `json:"retry_count"`
	StartedAt     string    `json:"started_at"`
	CompletedAt   string    `json:"completed_at"`
}

// NewJob builds a job from a partial submission, filling defaults for
// any zero-valued field. Length is derived once here and never
// re-derived on update.
func NewJob(partial Job) *Job {
	job := partial

	if job.UID == "" {
		job.UID = uuid.New().String()[:8]
	}
	if job.Owner == "" {
		hostname, _ := os.Hostname()
		job.Owner = hostname
	}
	if job.TimeCreated == "" {
		job.TimeCreated = time.Now().Format(TimeCreatedLayout)
	}
	if job.Status == "" {
		job.Status = StatusUnassigned
	}
	if job.Tags == nil {
		job.Tags = []string{}
	}
	if job.Width == 0 {
		job.Width = 1280
	}
	if job.Height == 0 {
		job.Height = 720
	}
	if job.FrameRate == 0 {
		job.FrameRate = 30
	}
	if job.Format == "" {
		job.Format = "JPG"
	}
	job.Length = job.EndFrame - job.StartFrame

	return &job
}

// JobUpdate carries the mutable fields of a PUT body. Nil means
// "do not touch".
type JobUpdate struct {
	Progress      *float64   `json:"progress,omitempty"`
	TimeEstimate  *string    `json:"time_estimate,omitempty"`
	Status        *JobStatus `json:"status,omitempty"`
	WarmupCurrent *int       `json:"warmup_current,omitempty"`
	WarmupTotal   *int       `json:"warmup_total,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     *string    `json:"started_at,omitempty"`
	CompletedAt   *string    `json:"completed_at,omitempty"`
}

// Apply copies the provided fields onto the job.
func (u *JobUpdate) Apply(job *Job) {
	if u.Progress != nil {
		job.Progress = int(*u.Progress)
	}
	if u.TimeEstimate != nil {
		job.TimeEstimate = *u.TimeEstimate
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.WarmupCurrent != nil {
		job.WarmupCurrent = *u.WarmupCurrent
	}
	if u.WarmupTotal != nil {
		job.WarmupTotal = *u.WarmupTotal
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = *u.ErrorMessage
	}
	if u.StartedAt != nil {
		job.StartedAt = *u.StartedAt
	}
	if u.CompletedAt != nil {
		job.CompletedAt = *u.CompletedAt
	}
}

// Worker is the heartbeat record for a render host, keyed by name
type Worker struct {
	Name          string       `json:"name"`
	Status        WorkerStatus `json:"status"`
	CurrentJob    string       `json:"current_job"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryPercent float64      `json:"memory_percent"`
	UnrealPID     int          `json:"unreal_pid"`
	RenderStarted string       `json:"render_started"`
	LastSeen      string       `json:"last_seen"` // ISO-8601, set server-side
}

// WorkerView is a worker record with the derived online flag, as
// reported by the coordinator.
type WorkerView struct {
	Name          string       `json:"name"`
	Status        WorkerStatus `json:"status"`
	Online        bool         `json:"online"`
	CurrentJob    string       `json:"current_job"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryPercent float64      `json:"memory_percent"`
	LastSeen      string       `json:"last_seen"`
}

// Heartbeat is the body of POST /api/worker/heartbeat
type Heartbeat struct {
	WorkerName    string       `json:"worker_name"`
	Status        WorkerStatus `json:"status"`
	CurrentJob    string       `json:"current_job"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryPercent float64      `json:"memory_percent"`
	UnrealPID     int          `json:"unreal_pid"`
	RenderStarted string       `json:"render_started"`
}

// ErrorRecord is an append-only log entry reported by a worker or the
// watchdog
type ErrorRecord struct {
	Timestamp string `json:"timestamp"`
	Worker    string `json:"worker"`
	JobUID    string `json:"job_uid"`
	Message   string `json:"message"`
}

// ErrorReport is the body of POST /api/worker/error
type ErrorReport struct {
	Worker  string `json:"worker"`
	Message string `json:"message"`
	JobUID  string `json:"job_uid"`
}

// Project is a submission config: one map/config pair rendered across
// a set of sequences
type Project struct {
	Name      string   `json:"name" yaml:"name"`
	Map       string   `json:"map" yaml:"map"`
	Config    string   `json:"config" yaml:"config"`
	Sequences []string `json:"sequences" yaml:"sequences"`
}

// Dashboard is the aggregate returned by GET /api/dashboard
type Dashboard struct {
	Workers      DashboardWorkers `json:"workers"`
	Jobs         DashboardJobs    `json:"jobs"`
	RecentErrors []ErrorRecord    `json:"recent_errors"`
}

// DashboardWorkers counts workers by liveness and activity
type DashboardWorkers struct {
	Total     int `json:"total"`
	Online    int `json:"online"`
	Idle      int `json:"idle"`
	Rendering int `json:"rendering"`
}

// DashboardJobs counts jobs overall and per status
type DashboardJobs struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}
