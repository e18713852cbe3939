// Package harness runs replay scenarios described in YAML.
//
// A scenario seeds the in-memory remote store, enqueues orders and admin
// actions at fixed timestamps, injects remote failures, runs one replay
// pass and checks the outcome.
//
// # Scenario Format
//
//	name: partial_failure
//	description: "Second of three updates fails; queue is retained"
//	truncation: all-or-nothing
//	seed:
//	  categories:
//	    - { id: c1, title: Food }
//	queue:
//	  - action: updateCategory
//	    payload: { id: c1, data: { order: 1 } }
//	    at: 100
//	  - order: { items: [{ menuItemId: m1, quantity: 1, price: 450 }], total: 450 }
//	    at: 150
//	fail:
//	  - op: update
//	    id: c-missing
//	    error: "simulated outage"
//	assertions:
//	  - type: statuses
//	    expect: [success, error, success]
//	  - type: queue_len
//	    orders: 0
//	    actions: 3
//
// # Assertion Types
//
//   - statuses: record statuses of the pass, in replay order
//   - record_error: record at index has an error containing text
//   - call_order: collections written by create/update calls, in order
//   - remote_doc: a remote document exists and contains the expected fields
//   - remote_count: a remote collection holds exactly count documents
//   - queue_len: pending entries per queue after truncation
//
// # Deterministic Testing
//
// Entry ids are e-1, e-2, ... in queue order; pass ids are pass-1, ...;
// documents created remotely are doc-1, ...; record timestamps start at
// 1000000 and advance by one per record; the remote server clock is fixed.
// The local medium is a fresh in-memory SQLite database per run, so
// identical scenarios produce identical golden snapshots.
package harness
