package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrivesync/core/internal/graph"
)

func TestApplyDeltaPage_UpsertsItems(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	hashedID := testHashedID()

	items := []graph.Item{
		{ID: "item1", Name: "file.txt", RelativePath: "file.txt", Size: 100, ModifiedAt: time.Now().UTC()},
	}

	require.NoError(t, s.ApplyDeltaPage(context.Background(), hashedID, items))

	records, err := s.GetItemsByAccount(context.Background(), hashedID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "item1", records[0].DriveItemID)
	assert.Equal(t, "file.txt", records[0].RelativePath)
	assert.Equal(t, StatusPendingDownload, records[0].SyncStatus)
}

func TestApplyDeltaPage_IsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	hashedID := testHashedID()

	items := []graph.Item{
		{ID: "item1", Name: "file.txt", RelativePath: "file.txt", Size: 100, ModifiedAt: time.Now().UTC()},
	}

	require.NoError(t, s.ApplyDeltaPage(context.Background(), hashedID, items))
	require.NoError(t, s.ApplyDeltaPage(context.Background(), hashedID, items))

	records, err := s.GetItemsByAccount(context.Background(), hashedID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "applying the same page twice must yield the same store contents as applying it once")
}

func TestApplyDeltaPage_DeletedMarksTombstone(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	hashedID := testHashedID()

	items := []graph.Item{
		{ID: "item1", Name: "file.txt", RelativePath: "file.txt", ModifiedAt: time.Now().UTC()},
	}
	require.NoError(t, s.ApplyDeltaPage(context.Background(), hashedID, items))

	items[0].IsDeleted = true
	require.NoError(t, s.ApplyDeltaPage(context.Background(), hashedID, items))

	records, err := s.GetItemsByAccount(context.Background(), hashedID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsDeleted)
}

func TestApplyDeltaPageWithToken_CommitsAtomically(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	hashedID := testHashedID()

	items := []graph.Item{
		{ID: "item1", Name: "file.txt", RelativePath: "file.txt", ModifiedAt: time.Now().UTC()},
	}

	require.NoError(t, s.ApplyDeltaPageWithToken(context.Background(), hashedID, "drive1", items, "token-abc"))

	token, err := s.GetDeltaToken(context.Background(), hashedID, "drive1")
	require.NoError(t, err)
	assert.Equal(t, "token-abc", token)

	records, err := s.GetItemsByAccount(context.Background(), hashedID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSaveItems_PreservesLocalFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	hashedID := testHashedID()

	records := []ItemRecord{
		{
			DriveItemID:     "item1",
			HashedAccountID: hashedID,
			RelativePath:    "docs/a.txt",
			Name:            "a.txt",
			LocalPath:       "/home/user/OneDrive/docs/a.txt",
			LocalHash:       "deadbeef",
			SyncStatus:      StatusSynced,
			IsSelected:      true,
		},
	}

	require.NoError(t, s.SaveItems(context.Background(), records))

	got, err := s.GetItemsByAccount(context.Background(), hashedID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deadbeef", got[0].LocalHash)
	assert.Equal(t, StatusSynced, got[0].SyncStatus)
}

func TestDeleteItem_RemovesRecord(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	hashedID := testHashedID()

	require.NoError(t, s.SaveItems(context.Background(), []ItemRecord{
		{DriveItemID: "item1", HashedAccountID: hashedID, RelativePath: "x.txt", Name: "x.txt"},
	}))

	require.NoError(t, s.DeleteItem(context.Background(), "item1"))

	got, err := s.GetItemsByAccount(context.Background(), hashedID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
