/*
Package types defines the core data structures used throughout Kiln.

This package contains the fundamental types of the render farm's
domain model: jobs, workers, error records, dashboards and the partial
update bodies exchanged over the REST API. All other packages depend
on it for state management and wire serialisation.

# Core Types

Jobs:
  - Job: a single render task, the unit of work
  - JobStatus: the eight-state render lifecycle
  - JobUpdate: a PUT body where nil pointer fields mean "do not touch"

Workers:
  - Worker: a heartbeat record keyed by worker name
  - WorkerView: a worker plus the derived online flag
  - Heartbeat: the body of POST /api/worker/heartbeat

Errors:
  - ErrorRecord: an append-only log entry
  - ErrorReport: the body of POST /api/worker/error

# Wire Format

JSON field names and status strings are normative and match what the
in-engine bridge and dashboard clients expect:

	un-assigned, ready to start, in progress, finished,
	errored, failed, cancelled, paused

A job serialises with snake_case keys (uid, umap_path, retry_count,
...). The length field is derived once at construction from
end_frame - start_frame and never re-derived on update.

# State Machine

Transition rules live in pkg/coordinator; the terminal states are
finished and failed. Cancelled is deliberately not terminal so an
operator can restart a cancelled job.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type JobStatus string
	  const (
	      StatusUnassigned   JobStatus = "un-assigned"
	      StatusReadyToStart JobStatus = "ready to start"
	  )

Partial Update Pattern:

	JobUpdate uses pointer fields so absent JSON keys decode to nil
	and leave the stored job untouched.

# See Also

  - pkg/coordinator for the transition table and assignment policy
  - pkg/storage for persistence
*/
package types
