// Package store provides the durable local medium for tablesync.
//
// The medium is a synchronous string key/value store with a per-key size
// ceiling, modelled on browser local storage. Two implementations exist:
//   - SQLite: durable, backed by a single kv table
//   - Memory: volatile, for tests and ephemeral runs
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: one writer per process
//
// Values larger than the configured ceiling are rejected with
// ErrValueTooLarge and the previous value is left in place.
package store
