// Package progress implements the ProgressCoordinator (spec §4.7): a
// throttled, single-writer/multi-reader publisher of SyncState snapshots
// with last-value-retention so a late subscriber immediately sees current
// state instead of waiting for the next sample.
package progress

import (
	"time"

	"github.com/onedrivesync/core/internal/accountid"
)

// Status is a SyncState's coarse lifecycle phase (spec §4.7, §4.8).
type Status string

const (
	StatusIdle                 Status = "Idle"
	StatusInitialDeltaSync     Status = "InitialDeltaSync"
	StatusIncrementalDeltaSync Status = "IncrementalDeltaSync"
	StatusRunning              Status = "Running"
	StatusCompleted            Status = "Completed"
	StatusFailed               Status = "Failed"
	StatusPaused               Status = "Paused"
)

// SyncState is one published progress snapshot (spec §4.7).
type SyncState struct {
	HashedAccountID   accountid.HashedAccountId
	Status            Status
	TotalFiles        int
	CompletedFiles    int
	TotalBytes        int64
	CompletedBytes    int64
	FilesUploading    int
	FilesDownloading  int
	FilesDeleted      int
	ConflictsDetected int
	ThroughputMBps    float64
	// ETASeconds is nil below the 0.01 MB/s throughput floor, where an
	// estimate would be meaningless (spec §4.7).
	ETASeconds    *float64
	CurrentFolder string
	Timestamp     time.Time
	// Message is the short human-readable summary carried on terminal
	// statuses (Completed/Failed/Paused), per spec §4.8's "terminal status
	// carries a short human-readable message" requirement.
	Message string
}
