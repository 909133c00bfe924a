/*
Package client is the thin HTTP wrapper shared by the worker agent and
the submitter.

Every request carries a 5 s connect timeout and a 30 s read timeout.
Idempotent calls (GETs, DELETE, POST /post) opt into the retry helper:
3 attempts with exponential backoff. Heartbeats and status updates are
deliberately not retried; a lost heartbeat is better than a stale
backlog, and the next tick re-pushes state anyway.
*/
package client
