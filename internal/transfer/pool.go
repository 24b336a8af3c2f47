package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/graph"
	"github.com/onedrivesync/core/internal/reconcile"
	"github.com/onedrivesync/core/internal/store"
)

// Store is the subset of the state store a Pool needs to record outcomes.
type Store interface {
	SaveItems(ctx context.Context, records []store.ItemRecord) error
	AppendOperation(ctx context.Context, op *store.OperationLog) error
}

// Pool executes a reconcile.Plan's uploads and downloads with bounded
// parallelism (spec §4.5). Uploads run to completion before any download
// starts, so the remote is brought up to date with local changes before
// local files are overwritten by remote ones.
type Pool struct {
	client      Client
	store       Store
	bandwidth   *BandwidthLimiter
	maxParallel int
	driveID     string
	syncRoot    string
	hashedID    accountid.HashedAccountId
	sessionID   string
	logger      *slog.Logger
}

// NewPool creates a transfer Pool. maxParallel bounds concurrent transfers
// within each phase (upload phase, then download phase); bandwidth may be
// nil for unlimited throughput.
func NewPool(
	client Client, st Store, bandwidth *BandwidthLimiter,
	maxParallel int, driveID, syncRoot string,
	hashedID accountid.HashedAccountId, sessionID string, logger *slog.Logger,
) *Pool {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		client:      client,
		store:       st,
		bandwidth:   bandwidth,
		maxParallel: maxParallel,
		driveID:     driveID,
		syncRoot:    syncRoot,
		hashedID:    hashedID,
		sessionID:   sessionID,
		logger:      logger,
	}
}

// Run executes every upload, then every download, each through a bounded
// errgroup (spec §4.5). A single transfer's permanent failure does not abort
// its siblings; it is recorded as a failed Outcome and the corresponding
// ItemRecord is marked Failed. Only ctx cancellation aborts the whole pool.
func (p *Pool) Run(
	ctx context.Context, uploads []reconcile.UploadCandidate, downloads []reconcile.DownloadCandidate,
) (*Result, error) {
	result := &Result{
		Uploads:   make([]Outcome, len(uploads)),
		Downloads: make([]Outcome, len(downloads)),
	}

	if err := p.runPhase(ctx, len(uploads), func(ctx context.Context, i int) error {
		result.Uploads[i] = p.runUpload(ctx, uploads[i])
		return nil
	}); err != nil {
		return result, err
	}

	if err := p.runPhase(ctx, len(downloads), func(ctx context.Context, i int) error {
		result.Downloads[i] = p.runDownload(ctx, downloads[i])
		return nil
	}); err != nil {
		return result, err
	}

	return result, nil
}

// runPhase dispatches n units of work through a bounded errgroup. fn is
// expected to record its own result and never return an error except on
// ctx cancellation, which aborts the whole phase.
func (p *Pool) runPhase(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)

	for i := range n {
		g.Go(func() error {
			return fn(gctx, i)
		})
	}

	return g.Wait()
}

// runUpload executes one upload candidate, retrying transient failures
// (spec §4.5), and records the outcome in the store.
func (p *Pool) runUpload(ctx context.Context, c reconcile.UploadCandidate) Outcome {
	out := Outcome{RelativePath: c.RelativePath, DriveItemID: c.DriveItemID}

	f, err := os.Open(c.LocalPath)
	if err != nil {
		return p.failUpload(ctx, c, out, fmt.Errorf("transfer: opening %s: %w", c.LocalPath, err))
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return p.failUpload(ctx, c, out, fmt.Errorf("transfer: hashing %s: %w", c.LocalPath, err))
	}

	content := p.bandwidth.WrapReaderAt(ctx, f)

	var item *graph.Item
	err = withTransferRetry(ctx, func(ctx context.Context) error {
		i, uploadErr := p.client.Upload(ctx, p.driveID, c.RelativePath, content, c.Size, c.LastModifiedUTC, nil)
		if uploadErr != nil {
			return uploadErr
		}
		item = i
		return nil
	})
	if err != nil {
		return p.failUpload(ctx, c, out, err)
	}

	out.Success = true
	out.DriveItemID = item.ID
	out.Size = item.Size
	out.CTag = item.CTag
	out.ETag = item.ETag
	out.ModifiedUTC = item.ModifiedAt
	out.LocalHash = hex.EncodeToString(hasher.Sum(nil))

	p.recordSuccess(ctx, c.RelativePath, out, store.DirectionUpload)

	return out
}

func (p *Pool) failUpload(ctx context.Context, c reconcile.UploadCandidate, out Outcome, err error) Outcome {
	out.Err = err
	p.logger.Warn("transfer: upload failed", slog.String("path", c.RelativePath), slog.String("error", err.Error()))
	p.recordFailure(ctx, c.RelativePath, c.DriveItemID, store.OpUpload, err)

	return out
}

// runDownload executes one download candidate: fetches a fresh
// pre-authenticated DownloadURL (spec: ItemRecord never persists it), writes
// to a temp file beside the destination, and atomically renames on success
// so a crash mid-transfer never leaves a partial file at the real path.
func (p *Pool) runDownload(ctx context.Context, c reconcile.DownloadCandidate) Outcome {
	out := Outcome{RelativePath: c.RelativePath, DriveItemID: c.DriveItemID}

	destPath := filepath.Join(p.syncRoot, filepath.FromSlash(c.RelativePath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return p.failDownload(ctx, c, out, fmt.Errorf("transfer: creating parent dir for %s: %w", destPath, err))
	}

	tmpPath := destPath + ".partial"

	hasher := sha256.New()
	err := withTransferRetry(ctx, func(ctx context.Context) error {
		item, getErr := p.client.GetItem(ctx, p.driveID, c.DriveItemID)
		if getErr != nil {
			return getErr
		}

		tmp, openErr := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if openErr != nil {
			return fmt.Errorf("transfer: creating %s: %w", tmpPath, openErr)
		}
		defer tmp.Close()

		hasher.Reset()
		dst := io.MultiWriter(tmp, hasher)
		w := p.bandwidth.WrapWriter(ctx, dst)

		_, dlErr := p.client.Download(ctx, item.DownloadURL, w)

		return dlErr
	})
	if err != nil {
		os.Remove(tmpPath)
		return p.failDownload(ctx, c, out, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return p.failDownload(ctx, c, out, fmt.Errorf("transfer: renaming %s to %s: %w", tmpPath, destPath, err))
	}

	out.Success = true
	out.DriveItemID = c.DriveItemID
	out.Size = c.Size
	out.CTag = c.CTag
	out.ETag = c.ETag
	out.ModifiedUTC = c.LastModifiedUTC
	out.LocalHash = hex.EncodeToString(hasher.Sum(nil))

	p.recordSuccess(ctx, c.RelativePath, out, store.DirectionDownload)

	return out
}

func (p *Pool) failDownload(ctx context.Context, c reconcile.DownloadCandidate, out Outcome, err error) Outcome {
	out.Err = err
	p.logger.Warn("transfer: download failed", slog.String("path", c.RelativePath), slog.String("error", err.Error()))
	p.recordFailure(ctx, c.RelativePath, c.DriveItemID, store.OpDownload, err)

	return out
}

// recordSuccess persists the ItemRecord update and operation log for a
// completed transfer. Store errors are logged, not propagated: a store
// write failure doesn't make the transfer itself a failure, but is visible
// in logs for diagnosis.
func (p *Pool) recordSuccess(ctx context.Context, relPath string, out Outcome, direction store.SyncDirection) {
	record := store.ItemRecord{
		DriveItemID:       out.DriveItemID,
		HashedAccountID:   p.hashedID,
		RelativePath:      relPath,
		Size:              out.Size,
		LastModifiedUTC:   out.ModifiedUTC,
		CTag:              out.CTag,
		ETag:              out.ETag,
		LocalHash:         out.LocalHash,
		SyncStatus:        store.StatusSynced,
		LastSyncDirection: direction,
	}

	if err := p.store.SaveItems(ctx, []store.ItemRecord{record}); err != nil {
		p.logger.Error("transfer: saving item record failed", slog.String("path", relPath), slog.String("error", err.Error()))
	}

	kind := store.OpUpload
	if direction == store.DirectionDownload {
		kind = store.OpDownload
	}

	op := &store.OperationLog{
		SessionID:       p.sessionID,
		HashedAccountID: p.hashedID,
		RelativePath:    relPath,
		Kind:            kind,
		Size:            out.Size,
		LocalHash:       out.LocalHash,
		ETag:            out.ETag,
	}
	if err := p.store.AppendOperation(ctx, op); err != nil {
		p.logger.Error("transfer: appending operation log failed", slog.String("path", relPath), slog.String("error", err.Error()))
	}
}

// recordFailure marks the item Failed and appends an operation log noting
// the error (spec §4.5: a permanently-failed transfer stays visible for the
// next sync cycle rather than being silently dropped). A brand-new local
// file that fails its first upload has no DriveItemID yet and therefore no
// existing record to mark Failed; driveItemID is empty in that case and the
// ItemRecord write is skipped, leaving only the operation log as a trace.
func (p *Pool) recordFailure(ctx context.Context, relPath, driveItemID string, kind store.OperationKind, transferErr error) {
	if driveItemID != "" {
		record := store.ItemRecord{
			DriveItemID:     driveItemID,
			HashedAccountID: p.hashedID,
			RelativePath:    relPath,
			SyncStatus:      store.StatusFailed,
		}

		if err := p.store.SaveItems(ctx, []store.ItemRecord{record}); err != nil {
			p.logger.Error("transfer: saving failed item record failed", slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}

	op := &store.OperationLog{
		SessionID:       p.sessionID,
		HashedAccountID: p.hashedID,
		RelativePath:    relPath,
		Kind:            kind,
		Detail:          transferErr.Error(),
	}
	if err := p.store.AppendOperation(ctx, op); err != nil {
		p.logger.Error("transfer: appending operation log failed", slog.String("path", relPath), slog.String("error", err.Error()))
	}
}
