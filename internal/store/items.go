package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/graph"
)

const (
	sqlGetItemsByAccount = `SELECT drive_item_id, hashed_account_id, relative_path, name, size,
		last_modified_utc, ctag, etag, local_path, local_hash, is_folder, is_deleted,
		is_selected, sync_status, last_sync_direction
		FROM items WHERE hashed_account_id = ?`

	sqlUpsertItem = `INSERT INTO items
		(drive_item_id, hashed_account_id, relative_path, name, size, last_modified_utc,
		 ctag, etag, local_path, local_hash, is_folder, is_deleted, is_selected,
		 sync_status, last_sync_direction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(drive_item_id) DO UPDATE SET
		 hashed_account_id   = excluded.hashed_account_id,
		 relative_path       = excluded.relative_path,
		 name                = excluded.name,
		 size                = excluded.size,
		 last_modified_utc   = excluded.last_modified_utc,
		 ctag                = excluded.ctag,
		 etag                = excluded.etag,
		 local_path          = excluded.local_path,
		 local_hash          = excluded.local_hash,
		 is_folder           = excluded.is_folder,
		 is_deleted          = excluded.is_deleted,
		 is_selected         = excluded.is_selected,
		 sync_status         = excluded.sync_status,
		 last_sync_direction = excluded.last_sync_direction`

	sqlDeleteItem = `DELETE FROM items WHERE drive_item_id = ?`
)

// GetItemsByAccount returns every ItemRecord (including tombstones) known for
// an account, in arbitrary order.
func (s *Store) GetItemsByAccount(ctx context.Context, hashedID accountid.HashedAccountId) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetItemsByAccount, hashedID.String())
	if err != nil {
		return nil, fmt.Errorf("store: querying items for account: %w", err)
	}
	defer rows.Close()

	var records []ItemRecord

	for rows.Next() {
		rec, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating item rows: %w", err)
	}

	return records, nil
}

// ApplyDeltaPage idempotently upserts the items in one delta page, keyed on
// driveItemId. An item with deleted==true marks the record IsDeleted and
// status PendingDownload->removed rather than physically deleting it, so the
// reconciler can observe the tombstone in-band (spec §4.2). The page and the
// delta token are NOT committed together here — callers that need the
// crash-recovery invariant (a partially-applied page is either fully applied
// or fully not, atomically with its token) must use ApplyDeltaPageWithToken.
func (s *Store) ApplyDeltaPage(ctx context.Context, hashedID accountid.HashedAccountId, items []graph.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning delta page transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := applyItemsInTx(ctx, tx, hashedID, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing delta page transaction: %w", err)
	}

	return nil
}

// ApplyDeltaPageWithToken applies a delta page and advances the resumable
// token in the same transaction, so a crash between the two can never leave
// the store with a page applied but the old token still in place (or vice
// versa) — the spec §4.2 recovery invariant.
func (s *Store) ApplyDeltaPageWithToken(
	ctx context.Context, hashedID accountid.HashedAccountId, driveID string, items []graph.Item, token string,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning delta page+token transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := applyItemsInTx(ctx, tx, hashedID, items); err != nil {
		return err
	}

	if token != "" {
		if err := saveDeltaTokenInTx(ctx, tx, hashedID, driveID, token, s.nowFunc()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing delta page+token transaction: %w", err)
	}

	return nil
}

func applyItemsInTx(ctx context.Context, tx *sql.Tx, hashedID accountid.HashedAccountId, items []graph.Item) error {
	for i := range items {
		rec := deltaItemToRecord(hashedID, &items[i])

		if _, err := tx.ExecContext(ctx, sqlUpsertItem,
			rec.DriveItemID, rec.HashedAccountID.String(), rec.RelativePath, rec.Name, rec.Size,
			rec.LastModifiedUTC.UnixNano(), nullString(rec.CTag), nullString(rec.ETag),
			nullString(rec.LocalPath), nullString(rec.LocalHash), boolToInt(rec.IsFolder),
			boolToInt(rec.IsDeleted), boolToInt(rec.IsSelected), string(rec.SyncStatus),
			string(rec.LastSyncDirection),
		); err != nil {
			return fmt.Errorf("store: upserting item %s: %w", rec.DriveItemID, err)
		}
	}

	return nil
}

// deltaItemToRecord converts a freshly-fetched graph.Item into the ItemRecord
// shape stored by the delta-ingest path. Deleted items are marked IsDeleted
// with status PendingDownload so the reconciler still sees them as a
// tombstone in this pass; non-deleted items default to PendingDownload until
// the reconciler compares them against local state.
func deltaItemToRecord(hashedID accountid.HashedAccountId, item *graph.Item) ItemRecord {
	return ItemRecord{
		DriveItemID:     item.ID,
		HashedAccountID: hashedID,
		RelativePath:    item.RelativePath,
		Name:            item.Name,
		Size:            item.Size,
		LastModifiedUTC: item.ModifiedAt,
		CTag:            item.CTag,
		ETag:            item.ETag,
		IsFolder:        item.IsFolder,
		IsDeleted:       item.IsDeleted,
		IsSelected:      true,
		SyncStatus:      StatusPendingDownload,
		LastSyncDirection: DirectionNone,
	}
}

// SaveItems batch-upserts records from local-scan adoption or post-transfer
// updates. Unlike ApplyDeltaPage, callers supply the full ItemRecord
// (including local-side fields).
func (s *Store) SaveItems(ctx context.Context, records []ItemRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning save items transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for i := range records {
		rec := &records[i]

		if _, err := tx.ExecContext(ctx, sqlUpsertItem,
			rec.DriveItemID, rec.HashedAccountID.String(), rec.RelativePath, rec.Name, rec.Size,
			rec.LastModifiedUTC.UnixNano(), nullString(rec.CTag), nullString(rec.ETag),
			nullString(rec.LocalPath), nullString(rec.LocalHash), boolToInt(rec.IsFolder),
			boolToInt(rec.IsDeleted), boolToInt(rec.IsSelected), string(rec.SyncStatus),
			string(rec.LastSyncDirection),
		); err != nil {
			return fmt.Errorf("store: saving item %s: %w", rec.DriveItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing save items transaction: %w", err)
	}

	return nil
}

// DeleteItem physically removes a record after both sides have agreed the
// item is gone (tombstone cleanup).
func (s *Store) DeleteItem(ctx context.Context, driveItemID string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteItem, driveItemID); err != nil {
		return fmt.Errorf("store: deleting item %s: %w", driveItemID, err)
	}

	return nil
}

func scanItemRow(rows *sql.Rows) (*ItemRecord, error) {
	var (
		rec             ItemRecord
		hashedAccountID string
		lastModified    int64
		ctag            sql.NullString
		etag            sql.NullString
		localPath       sql.NullString
		localHash       sql.NullString
		isFolder        int
		isDeleted       int
		isSelected      int
		syncStatus      string
		direction       string
	)

	err := rows.Scan(
		&rec.DriveItemID, &hashedAccountID, &rec.RelativePath, &rec.Name, &rec.Size,
		&lastModified, &ctag, &etag, &localPath, &localHash, &isFolder, &isDeleted,
		&isSelected, &syncStatus, &direction,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scanning item row: %w", err)
	}

	hashedID, err := accountid.Parse(hashedAccountID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing hashed account id %q: %w", hashedAccountID, err)
	}

	rec.HashedAccountID = hashedID
	rec.LastModifiedUTC = timeFromInt64(lastModified)
	rec.CTag = ctag.String
	rec.ETag = etag.String
	rec.LocalPath = localPath.String
	rec.LocalHash = localHash.String
	rec.IsFolder = isFolder != 0
	rec.IsDeleted = isDeleted != 0
	rec.IsSelected = isSelected != 0
	rec.SyncStatus = SyncStatus(syncStatus)
	rec.LastSyncDirection = SyncDirection(direction)

	return &rec, nil
}
