package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the local notification journal.
//
// If Driver is empty or "none", storage is disabled and the engine runs
// memory-only (dedup still works within the process lifetime).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default

	HistoryMaxRows int // journal retention bound; 0 means default (500)
}

// HistoryEntry records one presentation-lifecycle step of an alert.
// Keep it compact and schema-stable.
type HistoryEntry struct {
	At       time.Time
	AlertID  string
	DeviceID string
	Kind     string
	Action   string // "shown" | "dismissed"
	Reason   string // dismissal reason: "timeout" | "user" | "activate" | "shutdown"
}
