/*
Package worker implements the render-host agent.

The agent runs one main loop: heartbeat with CPU/memory metrics, pull
the jobs assigned to this host, process at most one ready job, sleep
the poll interval. Any failure inside an iteration is reported to the
coordinator and the loop backs off before continuing.

# Render Supervision

A render owns one child process (the renderer) plus one side task that
drains the merged stdout+stderr through the output scraper until EOF.
A 2-second ticker performs the control actions:

  - past the render timeout: SIGTERM, 10 s grace, then SIGKILL
  - job cancelled on the coordinator: SIGTERM, 5 s grace, then SIGKILL
  - otherwise: heartbeat with status rendering, current job and pid

On natural exit a non-zero code is a crash. Terminal outcomes are
pushed as finished or errored; failures are additionally reported to
the error log. Cancellation is eventual by design: the API call
returns immediately and takes effect on the next child poll.

Progress during a render is pushed by the in-engine bridge directly to
the coordinator, not by the agent; the agent only writes the lifecycle
updates (in progress, terminal status, timestamps).
*/
package worker
