// Package storage implements the storage pool collaborator: named result
// backends, a pool view scoped to one parent map, and an LRU result cache.
//
// Conditions never talk to a backend directly. They receive a Pool whose
// parent map pins which instance of each node they see, so a condition
// evaluated for one firing combination cannot observe results of another.
package storage
