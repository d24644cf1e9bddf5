// Package dispatch implements the per-message step function of a flow.
//
// Each message carries the whole serialized progress of one flow instance
// (flow.State). Step migrates that state to the current edge table, polls
// the nodes it is waiting for, fires edges whose sources finished, recovers
// from failures through the flow's fallback table and decides whether the
// flow is done or must be polled again after a countdown.
//
// The dispatcher never runs work itself. It hands nodes to a TaskQueue and
// polls their handles; re-delivery of the suspended message is the queue's
// job.
//
// Step lifecycle:
//
//	migrate -> startup (empty state) | poll active nodes
//	        -> fire edges for each finished node (selective reuse to a fixpoint)
//	        -> recover failures when nothing is active
//	        -> Complete, or Suspend with the strategy's countdown
package dispatch
