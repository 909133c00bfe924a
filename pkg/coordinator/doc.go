/*
Package coordinator implements the coordination plane of the render
farm: the job state machine, the assignment policy and the worker
liveness registry.

# State Machine

Eight states with a closed transition table (ValidTransitions).
Self-loops are implicitly allowed; everything else is rejected with a
*TransitionError carrying the allowed next states. finished and failed
are terminal.

	unassigned      -> ready_to_start, cancelled
	ready_to_start  -> in_progress, cancelled, unassigned
	in_progress     -> finished, errored, cancelled, ready_to_start
	finished        -> (terminal)
	errored         -> ready_to_start, failed
	failed          -> (terminal)
	cancelled       -> ready_to_start
	paused          -> ready_to_start, cancelled

ready_to_start is re-entrant so retries, watchdog resets and operator
restarts all converge on a single assignment path.

# Assignment Policy

Candidates are workers that are online (heartbeat inside the liveness
window) AND idle. Among candidates the next one is picked by
round-robin over stable lexical order, tracked by a process-wide
cursor. Round-robin prevents a single eager node from monopolising
bursty submissions.

# Concurrency

The store serialises individual mutations; composite read-modify-write
operations (PUT, retry, reset) are additionally serialised on a
uid-keyed lock. The round-robin cursor has its own mutex. Everything
else is stateless over the store.

# Retry Accounting

Retries are operator-initiated and only legal from errored or
cancelled. Each retry bumps retry_count; exceeding types.MaxRetries
writes the job as failed and surfaces *MaxRetriesError so the API can
answer 400 while the job stays visibly failed.
*/
package coordinator
