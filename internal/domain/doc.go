// Package domain holds the types shared by the notification pipeline:
// change events and their typed snapshots, delivery decisions and attempts.
package domain
