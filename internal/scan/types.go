// Package scan walks a local sync root and produces FileMetadata for every
// regular file, for the Reconciler to compare against StateStore records
// (spec §4.3). It never touches the store itself.
package scan

import "time"

// FileMetadata describes one regular file found during a scan.
type FileMetadata struct {
	// RelativePath is the NFC-normalized path used for comparison against
	// the store (dbRelPath in spec §4.3's terms).
	RelativePath string
	// FSPath is the original, non-normalized filesystem path, for I/O.
	FSPath          string
	Name            string
	Size            int64
	LastModifiedUTC time.Time
	LocalPath       string
	// LocalHash is not filled in by Scan; HashFile computes a file's hash
	// on demand.
	LocalHash string
}
