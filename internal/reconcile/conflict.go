package reconcile

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/store"
)

// ConflictStore is the subset of the StateStore the ConflictDetector needs.
// Declared here, not in package store, so reconcile depends on store's
// exported types without store depending back on reconcile (spec §4.6).
type ConflictStore interface {
	GetConflict(ctx context.Context, hashedID accountid.HashedAccountId, relativePath string) (*store.Conflict, error)
	AddConflict(ctx context.Context, c *store.Conflict) error
	AppendOperation(ctx context.Context, op *store.OperationLog) error
	SaveItems(ctx context.Context, records []store.ItemRecord) error
}

// ConflictDetector encapsulates the §4.4 decision rule's durable recording
// (spec §4.6): it inserts an unresolved Conflict row if none exists, appends
// an operation log entry when a session is active, and leaves the
// ItemRecord in PendingDownload so resolution can be applied later.
type ConflictDetector struct {
	store ConflictStore
}

// NewConflictDetector builds a ConflictDetector backed by store.
func NewConflictDetector(s ConflictStore) *ConflictDetector {
	return &ConflictDetector{store: s}
}

// Record durably records one conflict candidate produced by Reconcile.
// sessionID is empty when no session logging is active for the account.
func (d *ConflictDetector) Record(
	ctx context.Context, hashedID accountid.HashedAccountId, sessionID string, c ConflictCandidate,
) error {
	existing, err := d.store.GetConflict(ctx, hashedID, c.RelativePath)
	if err != nil {
		return fmt.Errorf("conflict detector: checking existing conflict for %q: %w", c.RelativePath, err)
	}

	if existing == nil {
		now := time.Now().UTC()

		if err := d.store.AddConflict(ctx, &store.Conflict{
			HashedAccountID:    hashedID,
			RelativePath:       c.RelativePath,
			LocalModifiedUTC:   c.LocalModifiedUTC,
			RemoteModifiedUTC:  c.RemoteModifiedUTC,
			LocalSize:          c.LocalSize,
			RemoteSize:         c.RemoteSize,
			DetectedUTC:        now,
			ResolutionStrategy: store.ResolutionNone,
		}); err != nil {
			return fmt.Errorf("conflict detector: adding conflict for %q: %w", c.RelativePath, err)
		}
	}

	if sessionID != "" {
		if err := d.store.AppendOperation(ctx, &store.OperationLog{
			SessionID:       sessionID,
			HashedAccountID: hashedID,
			RelativePath:    c.RelativePath,
			Kind:            store.OpConflict,
			Size:            c.RemoteSize,
			TimestampUTC:    time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("conflict detector: appending operation log for %q: %w", c.RelativePath, err)
		}
	}

	if err := d.store.SaveItems(ctx, []store.ItemRecord{{
		DriveItemID:     c.DriveItemID,
		HashedAccountID: hashedID,
		RelativePath:    c.RelativePath,
		Size:            c.RemoteSize,
		LastModifiedUTC: c.RemoteModifiedUTC,
		SyncStatus:      store.StatusPendingDownload,
	}}); err != nil {
		return fmt.Errorf("conflict detector: marking %q PendingDownload: %w", c.RelativePath, err)
	}

	return nil
}

// ApplyResolution translates a user's resolution choice into the ItemRecord
// mutations the next sync session picks up (spec §4.6): KeepLocal flips the
// item to PendingUpload, KeepRemote to PendingDownload. KeepBoth keeps the
// original path on PendingDownload (so the authoritative remote version
// lands there) and returns a second record for a renamed sibling scheduled
// for upload, carrying the local version forward under
// ConflictCopyPath(item.RelativePath, now). The caller is responsible for
// renaming the file on disk to match before saving both records.
func ApplyResolution(
	strategy store.ResolutionStrategy, item store.ItemRecord, now time.Time,
) ([]store.ItemRecord, error) {
	switch strategy {
	case store.ResolutionKeepLocal:
		item.SyncStatus = store.StatusPendingUpload
		item.LastSyncDirection = store.DirectionUpload

		return []store.ItemRecord{item}, nil
	case store.ResolutionKeepRemote:
		item.SyncStatus = store.StatusPendingDownload
		item.LastSyncDirection = store.DirectionDownload

		return []store.ItemRecord{item}, nil
	case store.ResolutionKeepBoth:
		sibling := item
		sibling.DriveItemID = ""
		sibling.RelativePath = ConflictCopyPath(item.RelativePath, now)
		sibling.Name = path.Base(sibling.RelativePath)
		sibling.LocalPath = ""
		sibling.CTag = ""
		sibling.ETag = ""
		sibling.SyncStatus = store.StatusPendingUpload
		sibling.LastSyncDirection = store.DirectionUpload

		item.SyncStatus = store.StatusPendingDownload
		item.LastSyncDirection = store.DirectionDownload

		return []store.ItemRecord{item, sibling}, nil
	default:
		return nil, fmt.Errorf("reconcile: unknown resolution strategy %q", strategy)
	}
}

// ConflictCopyPath derives the renamed sibling path a KeepBoth resolution
// saves the local version under, matching the "name's conflicted copy"
// convention: "notes (conflicted copy 20260102T150405).txt".
func ConflictCopyPath(relativePath string, now time.Time) string {
	dir := path.Dir(relativePath)
	base := path.Base(relativePath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	copyName := fmt.Sprintf("%s (conflicted copy %s)%s", stem, now.UTC().Format("20060102T150405"), ext)

	if dir == "." {
		return copyName
	}

	return path.Join(dir, copyName)
}
