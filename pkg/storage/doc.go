/*
Package storage provides BoltDB-backed state persistence for Kiln's
coordinator data.

The storage package implements the Store interface using BoltDB as the
underlying database. All records are serialised as JSON and stored in
three buckets: jobs (keyed by uid), workers (keyed by name) and errors
(keyed by an insertion sequence number).

# Architecture

	┌─────────────────── BOLTDB STORAGE ───────────────────┐
	│                                                       │
	│  BoltStore                                            │
	│  - File: <dataDir>/kiln.db                            │
	│  - Transactions: ACID with fsync                      │
	│                                                       │
	│  Buckets                                              │
	│  ┌─────────────────────────────┐                      │
	│  │ jobs     (job uid)          │                      │
	│  │ workers  (worker name)      │                      │
	│  │ errors   (sequence number)  │                      │
	│  └─────────────────────────────┘                      │
	│                                                       │
	│  Transaction Management                               │
	│  - Read:  db.View()   - concurrent reads              │
	│  - Write: db.Update() - serialized writes             │
	└───────────────────────────────────────────────────────┘

The store is the serialisation point of the whole system: every
logical mutation (upsert, remove, truncate) is one atomic transaction,
so concurrent readers see either the pre- or post-state of a mutation.

# Design Patterns

Upsert Pattern:
  - Create and update are the same operation (bucket Put)
  - Writing the same record twice never duplicates it

Idempotent Deletes:
  - Deleting a missing key is not an error

Append-Only Errors:
  - Error records get monotonically increasing keys from the bucket
    sequence, so a reverse cursor walk yields newest-first without a
    timestamp sort

Missing Records:
  - Lookups wrap ErrNotFound so callers can translate to HTTP 404
    with errors.Is

# Usage

	store, err := storage.NewBoltStore("/var/lib/kiln")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	job := types.NewJob(types.Job{Name: "shot-010"})
	if err := store.UpsertJob(job); err != nil {
		...
	}

# See Also

  - pkg/coordinator for the policy layer on top of the store
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
