// Package engine is a local, in-process task queue for running flows end to
// end without an external broker.
//
// The engine implements dispatch.TaskQueue. Dispatching a task or a
// sub-flow records a handle and queues a job; a single Run loop executes
// jobs in ready-time order:
//
//  1. Task jobs call the registered TaskFunc and write the result to the
//     task's storage backend.
//  2. Flow jobs decode the queued message, call Dispatcher.Step and either
//     re-queue the suspended state after its countdown or finish the handle
//     with the flow's snapshot.
//
// Step errors are mapped as a broker would: transient errors and migration
// skew redeliver the same message, a RETRY taint restarts the flow from an
// empty state, everything else fails the flow. Each flow instance is bounded
// by a step quota.
//
// Countdowns are waited out through a Timer, so tests and the harness run
// with virtual time and deterministic ids.
package engine
