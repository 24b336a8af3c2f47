package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onedrivesync/core/internal/reconcile"
	"github.com/onedrivesync/core/internal/store"
)

// ListConflicts returns every unresolved conflict for this Engine's account
// (spec §6's GetConflicts, per-account granularity handled by the
// AccountRegistry).
func (e *Engine) ListConflicts(ctx context.Context) ([]store.Conflict, error) {
	conflicts, err := e.store.ListUnresolvedConflicts(ctx, e.hashedID)
	if err != nil {
		return nil, fmt.Errorf("engine: listing conflicts: %w", err)
	}

	return conflicts, nil
}

// ResolveConflict applies a user's resolution choice: it marks the conflict
// row resolved and flips the affected ItemRecord's SyncStatus so the next
// RunOnce picks up the corresponding transfer (spec §4.6). conflictID is the
// store's Conflict.ID; relativePath identifies the ItemRecord to mutate.
func (e *Engine) ResolveConflict(
	ctx context.Context, conflictID, relativePath string, strategy store.ResolutionStrategy,
) error {
	items, err := e.store.GetItemsByAccount(ctx, e.hashedID)
	if err != nil {
		return fmt.Errorf("engine: resolving conflict %s: loading items: %w", conflictID, err)
	}

	var (
		item  store.ItemRecord
		found bool
	)

	for _, it := range items {
		if it.RelativePath == relativePath {
			item = it
			found = true

			break
		}
	}

	if !found {
		return fmt.Errorf("engine: resolving conflict %s: no item record for %q", conflictID, relativePath)
	}

	updated, err := reconcile.ApplyResolution(strategy, item, e.nowFunc())
	if err != nil {
		return fmt.Errorf("engine: resolving conflict %s: %w", conflictID, err)
	}

	// KeepBoth's second record is the renamed sibling; move the local file
	// to match before the store is told it lives there, so the next upload
	// phase finds it on disk.
	if strategy == store.ResolutionKeepBoth && len(updated) == 2 {
		oldPath := filepath.Join(e.syncRoot, filepath.FromSlash(relativePath))
		newPath := filepath.Join(e.syncRoot, filepath.FromSlash(updated[1].RelativePath))

		if err := os.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("engine: resolving conflict %s: renaming conflict copy: %w", conflictID, err)
		}

		updated[1].LocalPath = newPath
	}

	if err := e.store.SaveItems(ctx, updated); err != nil {
		return fmt.Errorf("engine: resolving conflict %s: saving item: %w", conflictID, err)
	}

	if err := e.store.ResolveConflict(ctx, conflictID, strategy); err != nil {
		return fmt.Errorf("engine: resolving conflict %s: %w", conflictID, err)
	}

	return nil
}
