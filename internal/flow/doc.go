// Package flow defines the graph data model shared by the dispatcher, the
// migration engine and the selective path resolver.
//
// A flow is a named directed graph of nodes. Nodes are either leaf tasks or
// nested flows. Edges live in an ordered table per flow and are addressed by
// position: the index of an edge inside Flow.Edges is its permanent identity
// and is what serialized flow state refers to. Never re-derive an edge index
// from edge content; use the migration package when the table changes shape.
//
// The State type is the unit that travels inside every dispatcher message.
// It carries the complete progress of one flow instance, so any worker can
// pick it up, advance it by one step and re-enqueue it.
package flow
