// Package store is the sole-writer, multi-reader durable state store for the
// sync engine core: per-account item records, delta tokens, conflicts, and
// session/operation/debug logs, backed by SQLite.
package store

import (
	"time"

	"github.com/onedrivesync/core/internal/accountid"
)

// SyncStatus is the reconciliation state of an ItemRecord.
type SyncStatus string

const (
	StatusSynced         SyncStatus = "Synced"
	StatusPendingUpload   SyncStatus = "PendingUpload"
	StatusPendingDownload SyncStatus = "PendingDownload"
	StatusUploading       SyncStatus = "Uploading"
	StatusDownloading     SyncStatus = "Downloading"
	StatusFailed          SyncStatus = "Failed"
	StatusSyncOnly        SyncStatus = "SyncOnly"
)

// SyncDirection is the most recent transfer direction applied to an ItemRecord.
type SyncDirection string

const (
	DirectionUpload   SyncDirection = "Upload"
	DirectionDownload SyncDirection = "Download"
	DirectionNone     SyncDirection = "None"
)

// ResolutionStrategy is how a Conflict was (or will be) resolved.
type ResolutionStrategy string

const (
	ResolutionNone       ResolutionStrategy = "None"
	ResolutionKeepLocal  ResolutionStrategy = "KeepLocal"
	ResolutionKeepRemote ResolutionStrategy = "KeepRemote"
	ResolutionKeepBoth   ResolutionStrategy = "KeepBoth"
)

// OperationKind classifies an OperationLog entry.
type OperationKind string

const (
	OpUpload       OperationKind = "Upload"
	OpDownload     OperationKind = "Download"
	OpDeleteLocal  OperationKind = "DeleteLocal"
	OpDeleteRemote OperationKind = "DeleteRemote"
	OpConflict     OperationKind = "Conflict"
)

// SessionStatus is the lifecycle state of a SessionLog.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "Running"
	SessionCompleted SessionStatus = "Completed"
	SessionFailed    SessionStatus = "Failed"
	SessionPaused    SessionStatus = "Paused"
)

// ItemRecord is the durable state of one remote drive item, joined with any
// local-side metadata known for it (spec §3). (hashedAccountId, relativePath)
// is unique among non-deleted records; driveItemId is globally unique.
type ItemRecord struct {
	DriveItemID       string
	HashedAccountID   accountid.HashedAccountId
	RelativePath      string
	Name              string
	Size              int64
	LastModifiedUTC   time.Time
	CTag              string
	ETag              string
	LocalPath         string
	LocalHash         string
	IsFolder          bool
	IsDeleted         bool
	IsSelected        bool
	SyncStatus        SyncStatus
	LastSyncDirection SyncDirection
}

// DeltaToken is the resumable cursor for one account's drive delta stream.
// At most one per (hashedAccountId, driveId).
type DeltaToken struct {
	HashedAccountID accountid.HashedAccountId
	DriveID         string
	Token           string
	CapturedAtUTC   time.Time
}

// Conflict records an unresolved (or resolved) divergence between local and
// remote state for a path. At most one unresolved conflict per
// (hashedAccountId, relativePath).
type Conflict struct {
	ID                 string
	HashedAccountID    accountid.HashedAccountId
	RelativePath       string
	LocalModifiedUTC   time.Time
	RemoteModifiedUTC  time.Time
	LocalSize          int64
	RemoteSize         int64
	DetectedUTC        time.Time
	ResolutionStrategy ResolutionStrategy
	Resolved           bool
	ResolvedUTC        time.Time
}

// SessionLog is one sync run's summary, recorded when detailed session
// logging is enabled for the account.
type SessionLog struct {
	ID                string
	HashedAccountID   accountid.HashedAccountId
	StartedUTC        time.Time
	CompletedUTC      time.Time
	Status            SessionStatus
	FilesUploaded     int
	FilesDownloaded   int
	FilesDeleted      int
	ConflictsDetected int
	TotalBytes        int64
}

// OperationLog is one append-only per-item action record within a session.
type OperationLog struct {
	ID              int64
	SessionID       string
	HashedAccountID accountid.HashedAccountId
	RelativePath    string
	Kind            OperationKind
	Size            int64
	LocalHash       string
	ETag            string
	Detail          string
	TimestampUTC    time.Time
}

// DebugLogEntry is one append-only diagnostic line, written only when the
// owning account has debug logging enabled.
type DebugLogEntry struct {
	ID              int64
	HashedAccountID accountid.HashedAccountId
	TsUTC           time.Time
	Level           string
	Source          string
	Message         string
	ExceptionText   string
}
