// Package engine implements the SyncOrchestrator state machine (spec §4.8):
// one Engine per account runs Idle → ValidateAccount → DeltaPhase →
// LocalScan → Reconcile → Deletions → UploadPhase →
// DownloadPhase → Finalize → Completed, with Paused/Failed branches on
// cancellation or error. The AccountRegistry (registry.go, spec §4.8.1)
// lazily constructs and runs one Engine per account behind the four-method
// control surface named in spec §6.
package engine

import (
	"context"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/graph"
	"github.com/onedrivesync/core/internal/reconcile"
	"github.com/onedrivesync/core/internal/store"
	"github.com/onedrivesync/core/internal/transfer"
)

// Authenticator is the single-method token boundary named in spec §6,
// shaped like an oauth2.TokenSource so any credential provider — OS
// keyring, device-code flow, a test stub — can back it without the engine
// knowing how tokens are obtained or refreshed.
type Authenticator interface {
	GetAccessToken(ctx context.Context, hashedID accountid.HashedAccountId) (string, error)
}

// DeltaFetcher is the subset of *graph.Client the delta phase needs.
type DeltaFetcher interface {
	FetchAll(
		ctx context.Context, driveID, previousToken string, onPage graph.DeltaPageCallback,
	) (finalToken string, pagesSeen, itemsSeen int, err error)
}

// ItemDeleter is the subset of *graph.Client the deletions phase needs.
type ItemDeleter interface {
	DeleteItem(ctx context.Context, driveID, itemID string) error
}

// Store is the subset of *store.Store an Engine needs. It embeds the
// narrower interfaces transfer.Pool and reconcile.ConflictDetector already
// declare so a single *store.Store satisfies all three without the engine
// re-describing methods those packages already named.
type Store interface {
	transfer.Store
	reconcile.ConflictStore

	StartSession(ctx context.Context, hashedID accountid.HashedAccountId) (string, error)
	FinalizeSession(ctx context.Context, sessionID string, status store.SessionStatus, counters store.SessionLog) error
	AppendDebugLog(ctx context.Context, entry *store.DebugLogEntry) error

	GetDeltaToken(ctx context.Context, hashedID accountid.HashedAccountId, driveID string) (string, error)
	ApplyDeltaPageWithToken(
		ctx context.Context, hashedID accountid.HashedAccountId, driveID string, items []graph.Item, token string,
	) error

	GetItemsByAccount(ctx context.Context, hashedID accountid.HashedAccountId) ([]store.ItemRecord, error)
	DeleteItem(ctx context.Context, driveItemID string) error

	ListUnresolvedConflicts(ctx context.Context, hashedID accountid.HashedAccountId) ([]store.Conflict, error)
	ResolveConflict(ctx context.Context, id string, strategy store.ResolutionStrategy) error
}

// Report summarizes the result of one RunOnce cycle (spec §4.8's Finalize
// step / §3's SessionLog counters).
type Report struct {
	Status            store.SessionStatus
	FilesUploaded     int
	FilesDownloaded   int
	FilesDeleted      int
	ConflictsDetected int
	FilesFailed       int
	TotalBytes        int64
}
