package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, one record per run
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry records one collect+publish pass.
// Keep it compact and schema-stable.
type RunEntry struct {
	At            time.Time `json:"at"`
	Trigger       string    `json:"trigger"` // "once" | "startup" | "schedule"
	SourcesOK     int       `json:"sources_ok"`
	SourcesFailed int       `json:"sources_failed"`
	Links         int       `json:"links"`
	Batches       int       `json:"batches"`
	Sent          int       `json:"sent"`
	Failed        int       `json:"failed"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
