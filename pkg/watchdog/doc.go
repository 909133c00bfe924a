/*
Package watchdog implements the stuck-job background loop of the
coordinator.

Every minute the watchdog scans the in-progress jobs and applies the
first matching rule:

  - no worker assigned
  - worker not present in the registry
  - worker present but offline
  - started_at older than the job timeout

A stuck job has its worker cleared, its error_message set to
"Reset: <reason>", and is moved back to ready_to_start through the
normal assignment path. Jobs in any other state are never touched.
Failures inside a pass are logged and do not kill the loop.
*/
package watchdog
