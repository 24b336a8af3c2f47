package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/store"
)

type fakeConflictStore struct {
	conflicts  map[string]*store.Conflict
	operations []store.OperationLog
	saved      []store.ItemRecord
}

func newFakeConflictStore() *fakeConflictStore {
	return &fakeConflictStore{conflicts: map[string]*store.Conflict{}}
}

func (f *fakeConflictStore) GetConflict(_ context.Context, _ accountid.HashedAccountId, relativePath string) (*store.Conflict, error) {
	return f.conflicts[relativePath], nil
}

func (f *fakeConflictStore) AddConflict(_ context.Context, c *store.Conflict) error {
	f.conflicts[c.RelativePath] = c
	return nil
}

func (f *fakeConflictStore) AppendOperation(_ context.Context, op *store.OperationLog) error {
	f.operations = append(f.operations, *op)
	return nil
}

func (f *fakeConflictStore) SaveItems(_ context.Context, records []store.ItemRecord) error {
	f.saved = append(f.saved, records...)
	return nil
}

func TestConflictDetector_RecordInsertsOnce(t *testing.T) {
	fs := newFakeConflictStore()
	d := NewConflictDetector(fs)
	id := accountid.New("user@example.com")

	cand := ConflictCandidate{RelativePath: "doc.txt", DriveItemID: "item-1", LocalSize: 5, RemoteSize: 9}

	require.NoError(t, d.Record(context.Background(), id, "session-1", cand))
	require.NoError(t, d.Record(context.Background(), id, "session-1", cand))

	assert.Len(t, fs.conflicts, 1)
	assert.Len(t, fs.operations, 2, "an operation log entry is appended on every recording")
	require.Len(t, fs.saved, 2)
	assert.Equal(t, store.StatusPendingDownload, fs.saved[0].SyncStatus)
}

func TestConflictDetector_SkipsOperationLogWithoutSession(t *testing.T) {
	fs := newFakeConflictStore()
	d := NewConflictDetector(fs)
	id := accountid.New("user@example.com")

	require.NoError(t, d.Record(context.Background(), id, "", ConflictCandidate{RelativePath: "doc.txt"}))
	assert.Empty(t, fs.operations)
}

func TestApplyResolution_KeepLocalSetsPendingUpload(t *testing.T) {
	records, err := ApplyResolution(store.ResolutionKeepLocal, store.ItemRecord{RelativePath: "doc.txt"}, time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusPendingUpload, records[0].SyncStatus)
	assert.Equal(t, store.DirectionUpload, records[0].LastSyncDirection)
}

func TestApplyResolution_KeepRemoteSetsPendingDownload(t *testing.T) {
	records, err := ApplyResolution(store.ResolutionKeepRemote, store.ItemRecord{RelativePath: "doc.txt"}, time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusPendingDownload, records[0].SyncStatus)
}

func TestApplyResolution_KeepBothRenamesSiblingAndKeepsOriginalDownloading(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	records, err := ApplyResolution(store.ResolutionKeepBoth, store.ItemRecord{
		DriveItemID: "item-1", RelativePath: "notes/doc.txt", CTag: "ctag1", ETag: "etag1",
	}, now)
	require.NoError(t, err)
	require.Len(t, records, 2)

	original, sibling := records[0], records[1]

	assert.Equal(t, "notes/doc.txt", original.RelativePath)
	assert.Equal(t, store.StatusPendingDownload, original.SyncStatus)
	assert.Equal(t, store.DirectionDownload, original.LastSyncDirection)

	assert.Equal(t, "notes/doc (conflicted copy 20260102T150405).txt", sibling.RelativePath)
	assert.Equal(t, store.StatusPendingUpload, sibling.SyncStatus)
	assert.Equal(t, store.DirectionUpload, sibling.LastSyncDirection)
	assert.Empty(t, sibling.DriveItemID, "sibling is a brand-new remote item")
	assert.Empty(t, sibling.CTag)
	assert.Empty(t, sibling.ETag)
}

func TestApplyResolution_UnknownStrategyErrors(t *testing.T) {
	_, err := ApplyResolution(store.ResolutionStrategy("bogus"), store.ItemRecord{}, time.Now())
	assert.Error(t, err)
}

func TestConflictCopyPath(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, "doc (conflicted copy 20260102T150405).txt", ConflictCopyPath("doc.txt", now))
	assert.Equal(t,
		"notes/doc (conflicted copy 20260102T150405).txt",
		ConflictCopyPath("notes/doc.txt", now),
	)
}
