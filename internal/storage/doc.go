// Package storage is the notification log store: one row per delivery
// attempt, appended pending and finished exactly once.
//
// Drivers: memory, file (JSON Lines journal), sqlite (modernc.org/sqlite)
// and postgres (pgx).
package storage
