// Package selective computes which part of a flow graph must run to reach
// a set of target nodes.
//
// Resolve performs a backward search from each target over the positional
// edge table, unions every derivation it finds, prunes edges that can never
// fire from a starting edge and returns a flow.Selection the dispatcher
// honors. Sub-flows can be searched as well, and the downstream dependents
// of the targets can be forced to run.
package selective
