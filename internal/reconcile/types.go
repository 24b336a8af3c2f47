// Package reconcile implements the core decision engine (spec §4.4): given a
// local scan snapshot and the StateStore's item records before and after a
// delta run, it classifies every path into exactly one action.
package reconcile

import "time"

// UploadCandidate is a local file to push to the remote.
type UploadCandidate struct {
	RelativePath    string
	LocalPath       string
	Size            int64
	LastModifiedUTC time.Time
	// DriveItemID is empty for a brand-new local file.
	DriveItemID string
}

// DownloadCandidate is a remote item to pull to the local filesystem.
type DownloadCandidate struct {
	RelativePath    string
	DriveItemID     string
	Size            int64
	CTag            string
	ETag            string
	LastModifiedUTC time.Time
}

// DeleteCandidate is a path to remove, either locally or remotely.
type DeleteCandidate struct {
	RelativePath string
	DriveItemID  string
}

// ConflictCandidate is a path where both sides changed (or a first-sync path
// whose local and remote copies disagree) and neither side may be applied
// without user input.
type ConflictCandidate struct {
	RelativePath      string
	DriveItemID       string
	LocalModifiedUTC  time.Time
	RemoteModifiedUTC time.Time
	LocalSize         int64
	RemoteSize        int64
}

// AdoptCandidate is a first-sync path whose local and remote copies already
// agree closely enough (§4.4) that no transfer is needed — the record is
// simply marked Synced with the remote's id/cTag/eTag.
type AdoptCandidate struct {
	RelativePath    string
	DriveItemID     string
	CTag            string
	ETag            string
	Size            int64
	LastModifiedUTC time.Time
}

// Summary holds the plan's aggregate counters (spec §4.4 output).
type Summary struct {
	TotalFiles    int
	TotalBytes    int64
	UploadBytes   int64
	DownloadBytes int64
}

// Plan is the Reconciler's output: one slice per action kind, plus the
// adopt-without-transfer outcome the spec's first-sync rule describes, and
// summary counters.
type Plan struct {
	Uploads      []UploadCandidate
	Downloads    []DownloadCandidate
	DeleteLocal  []DeleteCandidate
	DeleteRemote []DeleteCandidate
	Conflicts    []ConflictCandidate
	Adopts       []AdoptCandidate
	Summary      Summary
}
