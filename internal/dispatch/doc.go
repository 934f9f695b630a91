// Package dispatch runs admitted restore jobs through a fixed pool of
// workers.
//
// A Controller owns four pieces:
//   - Pool: round-robin credential rotation with a coalesced full refresh
//   - QuotaGuard: per-user daily counters with a privileged bypass
//   - Queue: one FIFO pending list; every move republishes positions
//   - workers: N loops that select a credential, recheck quota, execute,
//     retry once after a credential refresh, and report the outcome
//
// Collaborators (store, notifier, executor, refresher, companion action,
// membership gate, presenter) are interfaces so the engine can be driven
// by fakes in tests.
package dispatch
