// Package storage persists the send history: one row per resolved send
// attempt, queryable so a telegram is never delivered twice to the same
// nation. Jobs themselves are deliberately not persisted; a restart starts
// with an empty job table and a full audit trail.
package storage
