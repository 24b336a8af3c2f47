package reconcile

import (
	"fmt"
	"time"

	"github.com/onedrivesync/core/internal/scan"
	"github.com/onedrivesync/core/internal/store"
)

const (
	// staleRemoteThreshold bounds the mtime skew tolerated before a cTag-less
	// or size-differing remote record is considered changed (spec §4.4).
	staleRemoteThreshold = 3600 * time.Second
	// localChangeThreshold bounds the mtime skew tolerated before a local
	// file is considered changed relative to its stored record.
	localChangeThreshold = 1 * time.Second
	// firstSyncAdoptThreshold is the mtime skew under which a first-sync
	// path with matching size is adopted as Synced without a transfer.
	firstSyncAdoptThreshold = 60 * time.Second
)

// Reconcile classifies every path in local ∪ current into exactly one
// action (spec §4.4).
//
//   - local is the LocalScanner's snapshot for this account.
//   - prior is the StateStore's ItemRecords as they stood before this delta
//     run was applied — the "existing" record used to compute storedMTime,
//     stored size, and stored hash.
//   - current is the StateStore's ItemRecords after the delta run was
//     applied — the remote view `R`, read from `S` post-apply per spec §4.4.
func Reconcile(local []scan.FileMetadata, prior, current []store.ItemRecord) (*Plan, error) {
	localByPath := make(map[string]scan.FileMetadata, len(local))
	for _, f := range local {
		localByPath[f.RelativePath] = f
	}

	priorByPath := make(map[string]store.ItemRecord, len(prior))
	for _, r := range prior {
		priorByPath[r.RelativePath] = r
	}

	currentByPath := make(map[string]store.ItemRecord, len(current))
	for _, r := range current {
		currentByPath[r.RelativePath] = r
	}

	plan := &Plan{}

	uploads, err := detectUploads(localByPath, priorByPath)
	if err != nil {
		return nil, fmt.Errorf("reconcile: detecting uploads: %w", err)
	}

	downloads, conflicts, adopts := detectDownloadsAndConflicts(localByPath, priorByPath, currentByPath)
	deleteLocal, deleteRemote := detectDeletions(localByPath, priorByPath, currentByPath)

	conflictPaths := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		conflictPaths[c.RelativePath] = true
	}

	deletePaths := make(map[string]bool, len(deleteRemote)+len(deleteLocal))
	for _, d := range deleteRemote {
		deletePaths[d.RelativePath] = true
	}

	for _, d := range deleteLocal {
		deletePaths[d.RelativePath] = true
	}

	adoptPaths := make(map[string]bool, len(adopts))
	for _, a := range adopts {
		adoptPaths[a.RelativePath] = true
	}

	// Tie-break: a candidate whose path is also a pending delete or a
	// conflict is dropped — a conflict blocks both directions until resolved,
	// and a path already scheduled for deletion on one side must not also be
	// transferred (spec §4.4). An adopted first-sync match needs no transfer.
	for _, u := range uploads {
		if conflictPaths[u.RelativePath] || deletePaths[u.RelativePath] || adoptPaths[u.RelativePath] {
			continue
		}

		plan.Uploads = append(plan.Uploads, u)
	}

	var filteredDownloads []DownloadCandidate

	for _, d := range downloads {
		if deletePaths[d.RelativePath] {
			continue
		}

		filteredDownloads = append(filteredDownloads, d)
	}

	plan.Downloads = dedupDownloads(filteredDownloads)
	plan.Conflicts = conflicts
	plan.Adopts = adopts
	plan.DeleteLocal = deleteLocal
	plan.DeleteRemote = deleteRemote
	plan.Summary = summarize(localByPath, currentByPath, plan)

	return plan, nil
}

// detectUploads implements the "path exists in L" branch of spec §4.4.
func detectUploads(
	localByPath map[string]scan.FileMetadata, priorByPath map[string]store.ItemRecord,
) ([]UploadCandidate, error) {
	var uploads []UploadCandidate

	for path, loc := range localByPath {
		pri, known := priorByPath[path]

		switch {
		case known && (pri.SyncStatus == store.StatusPendingUpload || pri.SyncStatus == store.StatusFailed):
			uploads = append(uploads, uploadFrom(path, loc, pri))
		case known:
			changed, err := localFileChanged(loc, pri)
			if err != nil {
				return nil, err
			}

			if changed {
				uploads = append(uploads, uploadFrom(path, loc, pri))
			}
		default:
			uploads = append(uploads, uploadFrom(path, loc, store.ItemRecord{}))
		}
	}

	return uploads, nil
}

func uploadFrom(path string, loc scan.FileMetadata, pri store.ItemRecord) UploadCandidate {
	return UploadCandidate{
		RelativePath:    path,
		LocalPath:       loc.LocalPath,
		Size:            loc.Size,
		LastModifiedUTC: loc.LastModifiedUTC,
		DriveItemID:     pri.DriveItemID,
	}
}

// localFileChanged compares a scanned file against its stored record. When
// the stored record has a hash, a mismatch is decided by content hash;
// otherwise by size (spec §4.4).
func localFileChanged(loc scan.FileMetadata, pri store.ItemRecord) (bool, error) {
	if pri.LocalHash == "" {
		return loc.Size != pri.Size, nil
	}

	hash, err := scan.HashFile(loc.LocalPath)
	if err != nil {
		return false, fmt.Errorf("hashing %q: %w", loc.LocalPath, err)
	}

	return hash != pri.LocalHash, nil
}

// detectDownloadsAndConflicts implements the "path exists in remote view S"
// branch of spec §4.4, split into known and first-sync paths.
func detectDownloadsAndConflicts(
	localByPath map[string]scan.FileMetadata, priorByPath, currentByPath map[string]store.ItemRecord,
) ([]DownloadCandidate, []ConflictCandidate, []AdoptCandidate) {
	var (
		downloads []DownloadCandidate
		conflicts []ConflictCandidate
		adopts    []AdoptCandidate
	)

	for path, cur := range currentByPath {
		if cur.IsDeleted {
			continue
		}

		loc, hasLocal := localByPath[path]
		pri, known := priorByPath[path]

		if known {
			if !remoteChanged(pri, cur) {
				continue
			}

			if !hasLocal {
				downloads = append(downloads, downloadFrom(path, cur))
				continue
			}

			if localChangedSinceStored(loc, pri) {
				conflicts = append(conflicts, conflictFrom(path, loc, cur, hasLocal))
			} else {
				downloads = append(downloads, downloadFrom(path, cur))
			}

			continue
		}

		// First-sync path: never previously recorded.
		if !hasLocal {
			downloads = append(downloads, downloadFrom(path, cur))
			continue
		}

		timeDiff := absDuration(loc.LastModifiedUTC.Sub(cur.LastModifiedUTC))
		if loc.Size == cur.Size && timeDiff <= firstSyncAdoptThreshold {
			adopts = append(adopts, AdoptCandidate{
				RelativePath:    path,
				DriveItemID:     cur.DriveItemID,
				CTag:            cur.CTag,
				ETag:            cur.ETag,
				Size:            cur.Size,
				LastModifiedUTC: cur.LastModifiedUTC,
			})

			continue
		}

		conflicts = append(conflicts, conflictFrom(path, loc, cur, hasLocal))
	}

	return downloads, conflicts, adopts
}

// remoteChanged decides whether the remote side changed relative to the
// stored (pre-delta) record (spec §4.4).
func remoteChanged(pri, cur store.ItemRecord) bool {
	if pri.SyncStatus == store.StatusSyncOnly {
		return true
	}

	if pri.CTag == cur.CTag {
		return false
	}

	if pri.CTag != "" {
		return true
	}

	timeDiff := absDuration(pri.LastModifiedUTC.Sub(cur.LastModifiedUTC))

	return timeDiff > staleRemoteThreshold || pri.Size != cur.Size
}

// localChangedSinceStored decides whether the local copy changed relative to
// the stored (pre-delta) record, for the purpose of conflict detection.
func localChangedSinceStored(loc scan.FileMetadata, pri store.ItemRecord) bool {
	timeDiff := absDuration(loc.LastModifiedUTC.Sub(pri.LastModifiedUTC))
	return timeDiff > localChangeThreshold || loc.Size != pri.Size
}

func downloadFrom(path string, cur store.ItemRecord) DownloadCandidate {
	return DownloadCandidate{
		RelativePath:    path,
		DriveItemID:     cur.DriveItemID,
		Size:            cur.Size,
		CTag:            cur.CTag,
		ETag:            cur.ETag,
		LastModifiedUTC: cur.LastModifiedUTC,
	}
}

func conflictFrom(path string, loc scan.FileMetadata, cur store.ItemRecord, hasLocal bool) ConflictCandidate {
	c := ConflictCandidate{
		RelativePath:      path,
		DriveItemID:       cur.DriveItemID,
		RemoteModifiedUTC: cur.LastModifiedUTC,
		RemoteSize:        cur.Size,
	}

	if hasLocal {
		c.LocalModifiedUTC = loc.LastModifiedUTC
		c.LocalSize = loc.Size
	}

	return c
}

// detectDeletions implements the deletion-detection rules of spec §4.4.
func detectDeletions(
	localByPath map[string]scan.FileMetadata, priorByPath, currentByPath map[string]store.ItemRecord,
) ([]DeleteCandidate, []DeleteCandidate) {
	var deleteLocal, deleteRemote []DeleteCandidate

	for path, cur := range currentByPath {
		_, hasLocal := localByPath[path]

		if cur.IsDeleted {
			pri, known := priorByPath[path]
			if known && pri.SyncStatus == store.StatusSynced && hasLocal {
				deleteLocal = append(deleteLocal, DeleteCandidate{RelativePath: path, DriveItemID: cur.DriveItemID})
			}

			continue
		}

		if hasLocal {
			continue
		}

		// A path with no record before this delta is a first-sync download,
		// not a local deletion.
		if _, known := priorByPath[path]; !known {
			continue
		}

		if cur.SyncStatus == store.StatusSynced || cur.DriveItemID != "" {
			deleteRemote = append(deleteRemote, DeleteCandidate{RelativePath: path, DriveItemID: cur.DriveItemID})
		}
	}

	return deleteLocal, deleteRemote
}

// dedupDownloads removes duplicate relativePaths, keeping the first
// occurrence (spec §4.4). Map-keyed construction never actually produces
// duplicates, but the dedup pass is kept to honor the spec's output
// contract literally and to guard against future multi-source callers.
func dedupDownloads(downloads []DownloadCandidate) []DownloadCandidate {
	seen := make(map[string]bool, len(downloads))

	out := make([]DownloadCandidate, 0, len(downloads))

	for _, d := range downloads {
		if seen[d.RelativePath] {
			continue
		}

		seen[d.RelativePath] = true

		out = append(out, d)
	}

	return out
}

func summarize(localByPath map[string]scan.FileMetadata, currentByPath map[string]store.ItemRecord, plan *Plan) Summary {
	s := Summary{}

	paths := make(map[string]bool, len(localByPath)+len(currentByPath))
	for p := range localByPath {
		paths[p] = true
	}

	for p, r := range currentByPath {
		if !r.IsDeleted {
			paths[p] = true
		}
	}

	s.TotalFiles = len(paths)

	for p := range paths {
		if loc, ok := localByPath[p]; ok {
			s.TotalBytes += loc.Size
		} else if r, ok := currentByPath[p]; ok {
			s.TotalBytes += r.Size
		}
	}

	for _, u := range plan.Uploads {
		s.UploadBytes += u.Size
	}

	for _, d := range plan.Downloads {
		s.DownloadBytes += d.Size
	}

	return s
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
