package storage

import (
	"errors"

	"github.com/kilnproject/kiln/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for coordinator state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Jobs
	UpsertJob(job *types.Job) error
	GetJob(uid string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByWorker(worker string) ([]*types.Job, error)
	DeleteJob(uid string) error
	DeleteAllJobs() (int, error)

	// Workers
	UpsertWorker(worker *types.Worker) error
	GetWorker(name string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	DeleteWorker(name string) error

	// Errors
	AppendError(record *types.ErrorRecord) error
	RecentErrors(limit int) ([]*types.ErrorRecord, error)
	ClearErrors() error

	// Utility
	Close() error
}
