// Package transfer executes uploads and downloads with bounded parallelism
// (spec §4.5): a two-phase pool that pushes every upload candidate before
// pulling any download, so a remote state consistent with the local
// filesystem is re-established before any local file is overwritten.
package transfer

import (
	"context"
	"io"
	"time"

	"github.com/onedrivesync/core/internal/graph"
)

// Client is the subset of the Graph client a transfer needs.
type Client interface {
	GetItem(ctx context.Context, driveID, itemID string) (*graph.Item, error)
	Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error)
	Upload(
		ctx context.Context, driveID, remotePath string,
		content io.ReaderAt, size int64, mtime time.Time, progress graph.ProgressFunc,
	) (*graph.Item, error)
}

// Outcome reports the result of one upload or download attempt.
type Outcome struct {
	RelativePath string
	Success      bool
	Err          error
	DriveItemID  string
	Size         int64
	CTag         string
	ETag         string
	LocalHash    string
	ModifiedUTC  time.Time
}

// Result is the aggregate outcome of one pool Run.
type Result struct {
	Uploads   []Outcome
	Downloads []Outcome
}

// Succeeded reports whether every outcome in the result succeeded.
func (r *Result) Succeeded() bool {
	for _, o := range r.Uploads {
		if !o.Success {
			return false
		}
	}

	for _, o := range r.Downloads {
		if !o.Success {
			return false
		}
	}

	return true
}
