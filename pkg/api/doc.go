/*
Package api exposes the coordinator REST surface over gin.

# Endpoints

	GET    /api/health                 liveness + watchdog state
	GET    /api/dashboard              aggregate counts + recent errors
	GET    /api/get                    all jobs
	GET    /api/get/{uid}              one job
	GET    /api/jobs/mine/{worker}     jobs assigned to a worker
	POST   /api/post                   create job (triggers assignment)
	PUT    /api/put/{uid}              partial update, state-machine checked
	POST   /api/cancel/{uid}           force cancel
	POST   /api/retry/{uid}            operator retry, bounded
	DELETE /api/delete/{uid}           delete one
	DELETE /api/delete-all             delete everything
	POST   /api/submit/{project}       submit every sequence of a project
	POST   /api/worker/heartbeat       worker liveness + metrics
	POST   /api/worker/error           error ingest
	GET    /api/workers                registry with derived online flag
	GET    /api/errors                 most recent 20 error records
	DELETE /api/errors                 clear the error log
	GET    /api/events                 recent farm events
	GET    /metrics                    Prometheus exposition

# Rate Limiting

200 requests/minute/source across the API; PUT /api/put/* is
additionally capped at 60/minute/source because workers hammer it.
Budgets are token buckets keyed by client IP (golang.org/x/time/rate).

# Legacy Bodies

PUT accepts the plaintext body "progress;time_estimate;status" for
backward compatibility with older in-engine bridges; anything that is
not valid JSON is parsed that way.

Client request errors (unknown uid, invalid transition, retry ceiling)
answer 4xx with a JSON error body and never mutate the job on the
reject path.
*/
package api
