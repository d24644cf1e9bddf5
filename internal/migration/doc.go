// Package migration keeps in-flight flow state valid across changes to a
// flow's edge table.
//
// State addresses edges by position. Diff compares two edge tables and
// produces a FlowMigration that maps old positions to new ones and records
// which changes invalidate running instances. Artifacts are stored as
// numbered JSON files in a Dir; a Migrator walks a message's state from its
// recorded version to the latest one before the dispatcher runs.
package migration
