// Package store provides SQLite-backed durable storage for the local
// runtime.
//
// Two tables are kept:
//   - results: node results keyed by (flow, node, id), serving as a
//     storage.Backend
//   - handles: one row per dispatched task or sub-flow, with its status,
//     outcome and, for flows, the last suspended dispatcher message
//
// All listings are ordered by seq ASC, id ASC COLLATE BINARY so repeated
// runs read rows back in the same order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
