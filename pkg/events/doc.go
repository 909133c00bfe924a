/*
Package events provides an in-process broker for farm lifecycle events
(job created/assigned/reset/finished, worker seen).

The coordinator and watchdog publish; subscribers receive on buffered
channels and slow subscribers are skipped rather than blocking the
farm. A bounded ring of recent events backs the polling API endpoint.
*/
package events
