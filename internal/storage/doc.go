// Package storage defines the local session-history persistence contract.
//
// Completed sessions are archived locally so the history view works offline.
// The SQLite implementation lives in the sqlite subpackage.
package storage
