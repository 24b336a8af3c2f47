package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/config"
	"github.com/onedrivesync/core/internal/graph"
	"github.com/onedrivesync/core/internal/progress"
	"github.com/onedrivesync/core/internal/reconcile"
	"github.com/onedrivesync/core/internal/scan"
	"github.com/onedrivesync/core/internal/store"
	"github.com/onedrivesync/core/internal/transfer"
)

// Config holds the inputs for NewEngine. One Engine serves one account's one
// drive (spec §3 Account); multi-account concurrency is the AccountRegistry's
// job (registry.go), not the Engine's.
type Config struct {
	HashedAccountID accountid.HashedAccountId
	DriveID         string
	Account         config.AccountConfig

	Store          Store
	Fetcher        DeltaFetcher
	Deleter        ItemDeleter
	TransferClient transfer.Client
	// Bandwidth is shared across every account's Engine so aggregate
	// throughput — not per-account throughput — stays within the configured
	// limit (spec §4.5 expansion). May be nil for unlimited.
	Bandwidth *transfer.BandwidthLimiter

	Logger *slog.Logger
	// NowFunc defaults to time.Now; tests override it for deterministic
	// duration assertions.
	NowFunc func() time.Time
}

// Engine runs one account's sync cycle: observe (delta + local scan) → plan
// (Reconcile) → execute (deletions, transfers) → commit (Finalize), per the
// SyncOrchestrator state machine (spec §4.8).
type Engine struct {
	hashedID accountid.HashedAccountId
	driveID  string
	syncRoot string
	account  config.AccountConfig

	store          Store
	fetcher        DeltaFetcher
	deleter        ItemDeleter
	transferClient transfer.Client
	bandwidth      *transfer.BandwidthLimiter
	maxParallel    int

	scanner          *scan.Scanner
	conflictDetector *reconcile.ConflictDetector
	progress         *progress.Coordinator

	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewEngine builds an Engine for one account. It constructs the FilterEngine
// from cfg.Account.Filter, so an invalid filter configuration (e.g. an
// unparseable max_file_size) fails fast here rather than on the first
// RunOnce.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Account.LocalSyncRoot == "" {
		return nil, fmt.Errorf("engine: account %s: local_sync_root is required", cfg.HashedAccountID)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	filter, err := scan.NewFilterEngine(cfg.Account.Filter, cfg.Account.LocalSyncRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: account %s: building filter: %w", cfg.HashedAccountID, err)
	}

	scanner := scan.NewScanner(filter, cfg.Account.Filter.SkipSymlinks, logger)

	maxParallel := cfg.Account.MaxParallelTransfers
	if maxParallel <= 0 {
		maxParallel = 1
	}

	nowFunc := cfg.NowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		hashedID:         cfg.HashedAccountID,
		driveID:          cfg.DriveID,
		syncRoot:         cfg.Account.LocalSyncRoot,
		account:          cfg.Account,
		store:            cfg.Store,
		fetcher:          cfg.Fetcher,
		deleter:          cfg.Deleter,
		transferClient:   cfg.TransferClient,
		bandwidth:        cfg.Bandwidth,
		maxParallel:      maxParallel,
		scanner:          scanner,
		conflictDetector: reconcile.NewConflictDetector(cfg.Store),
		progress:         progress.NewCoordinator(cfg.HashedAccountID, nil),
		logger:           logger,
		nowFunc:          nowFunc,
	}, nil
}

// Progress returns the Coordinator publishing this account's SyncState
// (spec §4.7). The same Coordinator instance persists across RunOnce calls
// so a subscriber stays attached across sync cycles.
func (e *Engine) Progress() *progress.Coordinator {
	return e.progress
}

// RunOnce executes one full sync cycle: ValidateAccount → DeltaPhase →
// LocalScan → Reconcile → Deletions → UploadPhase → DownloadPhase →
// Finalize (spec §4.8). There is no separate selection-loading step; the
// reconciler does not consult ItemRecord.IsSelected. Cancellation at any phase ends the
// cycle in Paused rather than Failed; any other error ends it Failed.
func (e *Engine) RunOnce(ctx context.Context) (Report, error) {
	start := e.nowFunc()

	e.logger.Info("sync cycle starting",
		slog.String("account", e.hashedID.String()), slog.String("drive_id", e.driveID))

	var sessionID string

	if e.account.DetailedSessionLoggingEnabled {
		sid, err := e.store.StartSession(ctx, e.hashedID)
		if err != nil {
			return Report{}, fmt.Errorf("engine: starting session: %w", err)
		}

		sessionID = sid
	}

	report := Report{}

	if err := e.validateAccount(); err != nil {
		return e.finish(ctx, sessionID, report, store.SessionFailed, err)
	}

	// DeltaPhase: the remote view `R` (spec §4.4) is read from the store
	// both before this run's delta is applied (the "prior" snapshot the
	// reconciler uses to detect local/remote changes) and after (the
	// "current" snapshot it treats as authoritative).
	prior, err := e.store.GetItemsByAccount(ctx, e.hashedID)
	if err != nil {
		return e.finish(ctx, sessionID, report, store.SessionFailed,
			fmt.Errorf("engine: loading prior item records: %w", err))
	}

	if err := e.runDeltaPhase(ctx); err != nil {
		if isCanceled(ctx, err) {
			return e.finish(ctx, sessionID, report, store.SessionPaused, nil)
		}

		return e.finish(ctx, sessionID, report, store.SessionFailed, fmt.Errorf("engine: delta phase: %w", err))
	}

	current, err := e.store.GetItemsByAccount(ctx, e.hashedID)
	if err != nil {
		return e.finish(ctx, sessionID, report, store.SessionFailed,
			fmt.Errorf("engine: loading current item records: %w", err))
	}

	// LocalScan.
	e.progress.SetStatus(progress.StatusRunning, "scanning local files")

	local, err := e.scanLocal(ctx)
	if err != nil {
		if isCanceled(ctx, err) {
			return e.finish(ctx, sessionID, report, store.SessionPaused, nil)
		}

		return e.finish(ctx, sessionID, report, store.SessionFailed, fmt.Errorf("engine: local scan: %w", err))
	}

	if len(local) == 0 && len(current) == 0 {
		e.logger.Info("sync cycle complete: nothing to sync")
		return e.finish(ctx, sessionID, report, store.SessionCompleted, nil)
	}

	// Reconcile.
	plan, err := reconcile.Reconcile(local, prior, current)
	if err != nil {
		return e.finish(ctx, sessionID, report, store.SessionFailed, fmt.Errorf("engine: reconcile: %w", err))
	}

	e.progress.SetTotals(plan.Summary.TotalFiles, plan.Summary.TotalBytes)

	for _, c := range plan.Conflicts {
		if recErr := e.conflictDetector.Record(ctx, e.hashedID, sessionID, c); recErr != nil {
			e.logger.Error("engine: recording conflict failed",
				slog.String("path", c.RelativePath), slog.String("error", recErr.Error()))

			continue
		}

		report.ConflictsDetected++

		e.progress.RecordConflict()
	}

	if adoptErr := e.applyAdopts(ctx, plan.Adopts); adoptErr != nil {
		e.logger.Error("engine: adopting first-sync matches failed", slog.String("error", adoptErr.Error()))
	}

	// Deletions.
	deletedLocal, deletedRemote := e.applyDeletions(ctx, sessionID, plan)
	report.FilesDeleted = deletedLocal + deletedRemote

	for range report.FilesDeleted {
		e.progress.RecordDeletion()
	}

	// UploadPhase + DownloadPhase.
	e.progress.SetActiveCounts(len(plan.Uploads), len(plan.Downloads))

	pool := transfer.NewPool(
		e.transferClient, e.store, e.bandwidth, e.maxParallel,
		e.driveID, e.syncRoot, e.hashedID, sessionID, e.logger,
	)

	result, err := pool.Run(ctx, plan.Uploads, plan.Downloads)

	e.progress.SetActiveCounts(0, 0)

	if err != nil {
		return e.finish(ctx, sessionID, report, store.SessionFailed, fmt.Errorf("engine: transfer pool: %w", err))
	}

	for _, out := range result.Uploads {
		e.recordUpload(&report, out)
	}

	for _, out := range result.Downloads {
		e.recordDownload(&report, out)
	}

	e.logger.Info("sync cycle complete",
		slog.Duration("duration", e.nowFunc().Sub(start)),
		slog.Int("uploaded", report.FilesUploaded),
		slog.Int("downloaded", report.FilesDownloaded),
		slog.Int("deleted", report.FilesDeleted),
		slog.Int("conflicts", report.ConflictsDetected),
		slog.Int("failed", report.FilesFailed),
	)

	// A canceled context that still produced a clean pool return is a
	// deliberate stop (Pause/Stop), not a failure, even if some in-flight
	// transfers were cut short and counted as failed above.
	if ctx.Err() != nil {
		return e.finish(ctx, sessionID, report, store.SessionPaused, nil)
	}

	status := store.SessionCompleted
	if report.FilesFailed > 0 {
		status = store.SessionFailed
	}

	return e.finish(ctx, sessionID, report, status, nil)
}

func (e *Engine) recordUpload(report *Report, out transfer.Outcome) {
	if !out.Success {
		report.FilesFailed++
		return
	}

	report.FilesUploaded++
	report.TotalBytes += out.Size
	e.progress.RecordTransferComplete(out.Size)
}

func (e *Engine) recordDownload(report *Report, out transfer.Outcome) {
	if !out.Success {
		report.FilesFailed++
		return
	}

	report.FilesDownloaded++
	report.TotalBytes += out.Size
	e.progress.RecordTransferComplete(out.Size)
}

// validateAccount checks the account's local sync root is usable before any
// remote call is made (spec §4.8's ValidateAccount step).
func (e *Engine) validateAccount() error {
	info, err := os.Stat(e.syncRoot)
	if err != nil {
		return fmt.Errorf("engine: sync root %s: %w", e.syncRoot, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("engine: sync root %s is not a directory", e.syncRoot)
	}

	return nil
}

// runDeltaPhase pages through the drive's delta stream, applying each page
// and advancing the resumable token atomically (spec §4.2) before the next
// page is fetched.
func (e *Engine) runDeltaPhase(ctx context.Context) error {
	token, err := e.store.GetDeltaToken(ctx, e.hashedID, e.driveID)
	if err != nil {
		return fmt.Errorf("engine: loading delta token: %w", err)
	}

	status := progress.StatusIncrementalDeltaSync
	if token == "" {
		status = progress.StatusInitialDeltaSync
	}

	e.progress.SetStatus(status, "")

	_, _, _, err = e.fetcher.FetchAll(ctx, e.driveID, token, func(ctx context.Context, page *graph.DeltaPage) error {
		return e.store.ApplyDeltaPageWithToken(ctx, e.hashedID, e.driveID, page.Items, deltaPageToken(page))
	})

	return err
}

// deltaPageToken is the resumable cursor carried by one delta page: the
// caught-up DeltaLink once the stream is current, otherwise the
// intermediate NextLink.
func deltaPageToken(page *graph.DeltaPage) string {
	if page.DeltaLink != "" {
		return page.DeltaLink
	}

	return page.NextLink
}

// scanLocal walks the sync root, reporting the folder currently being
// scanned to the progress Coordinator as it goes.
func (e *Engine) scanLocal(ctx context.Context) ([]scan.FileMetadata, error) {
	var files []scan.FileMetadata

	for f, err := range e.scanner.Scan(ctx, e.syncRoot) {
		if err != nil {
			return nil, err
		}

		e.progress.SetCurrentFolder(path.Dir(f.RelativePath))

		files = append(files, f)
	}

	return files, nil
}

// applyAdopts marks every first-sync match Synced without a transfer (spec
// §4.4's adopt rule).
func (e *Engine) applyAdopts(ctx context.Context, adopts []reconcile.AdoptCandidate) error {
	if len(adopts) == 0 {
		return nil
	}

	records := make([]store.ItemRecord, 0, len(adopts))

	for _, a := range adopts {
		records = append(records, store.ItemRecord{
			DriveItemID:       a.DriveItemID,
			HashedAccountID:   e.hashedID,
			RelativePath:      a.RelativePath,
			Name:              path.Base(a.RelativePath),
			Size:              a.Size,
			LastModifiedUTC:   a.LastModifiedUTC,
			CTag:              a.CTag,
			ETag:              a.ETag,
			IsSelected:        true,
			SyncStatus:        store.StatusSynced,
			LastSyncDirection: store.DirectionNone,
		})
	}

	return e.store.SaveItems(ctx, records)
}

// applyDeletions removes local files whose remote counterpart was deleted
// and deletes remote items whose local file disappeared (spec §4.4's
// deletion rules), returning the count applied on each side.
func (e *Engine) applyDeletions(ctx context.Context, sessionID string, plan *reconcile.Plan) (localCount, remoteCount int) {
	for _, d := range plan.DeleteLocal {
		fsPath := filepath.Join(e.syncRoot, filepath.FromSlash(d.RelativePath))

		if err := os.Remove(fsPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("engine: removing local file failed",
				slog.String("path", d.RelativePath), slog.String("error", err.Error()))

			continue
		}

		if err := e.store.DeleteItem(ctx, d.DriveItemID); err != nil {
			e.logger.Error("engine: deleting item record failed",
				slog.String("path", d.RelativePath), slog.String("error", err.Error()))
		}

		e.appendOperation(ctx, sessionID, d.RelativePath, store.OpDeleteLocal)

		localCount++
	}

	for _, d := range plan.DeleteRemote {
		if err := e.deleter.DeleteItem(ctx, e.driveID, d.DriveItemID); err != nil {
			e.logger.Warn("engine: deleting remote item failed",
				slog.String("path", d.RelativePath), slog.String("error", err.Error()))

			continue
		}

		if err := e.store.DeleteItem(ctx, d.DriveItemID); err != nil {
			e.logger.Error("engine: deleting item record failed",
				slog.String("path", d.RelativePath), slog.String("error", err.Error()))
		}

		e.appendOperation(ctx, sessionID, d.RelativePath, store.OpDeleteRemote)

		remoteCount++
	}

	return localCount, remoteCount
}

func (e *Engine) appendOperation(ctx context.Context, sessionID, relPath string, kind store.OperationKind) {
	op := &store.OperationLog{
		SessionID:       sessionID,
		HashedAccountID: e.hashedID,
		RelativePath:    relPath,
		Kind:            kind,
	}

	if err := e.store.AppendOperation(ctx, op); err != nil {
		e.logger.Error("engine: appending operation log failed",
			slog.String("path", relPath), slog.String("error", err.Error()))
	}
}

// finish sets the terminal progress status, finalizes the session log (if
// one was started), logs the outcome, and returns (report, runErr). It uses
// a cancellation-detached context for the finalize write so a Paused run
// still records its counters even though ctx is already done.
func (e *Engine) finish(
	ctx context.Context, sessionID string, report Report, status store.SessionStatus, runErr error,
) (Report, error) {
	report.Status = status

	progStatus, message := progressStatusFor(status, runErr)
	e.progress.SetStatus(progStatus, message)

	if sessionID != "" {
		finalizeCtx := context.WithoutCancel(ctx)

		counters := store.SessionLog{
			FilesUploaded:     report.FilesUploaded,
			FilesDownloaded:   report.FilesDownloaded,
			FilesDeleted:      report.FilesDeleted,
			ConflictsDetected: report.ConflictsDetected,
			TotalBytes:        report.TotalBytes,
		}

		if err := e.store.FinalizeSession(finalizeCtx, sessionID, status, counters); err != nil {
			e.logger.Error("engine: finalizing session failed", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		e.logger.Error("sync cycle failed", slog.String("error", runErr.Error()))
	}

	return report, runErr
}

func progressStatusFor(status store.SessionStatus, runErr error) (progress.Status, string) {
	switch status {
	case store.SessionFailed:
		message := "sync failed"
		if runErr != nil {
			message = runErr.Error()
		}

		return progress.StatusFailed, message
	case store.SessionPaused:
		return progress.StatusPaused, "sync canceled"
	default:
		return progress.StatusCompleted, "sync completed"
	}
}

// isCanceled reports whether err is (or wraps) ctx's own cancellation
// error, as opposed to some other failure that happens to coincide with
// cancellation.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
