package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/graph"
	"github.com/onedrivesync/core/internal/reconcile"
	"github.com/onedrivesync/core/internal/store"
)

type fakeClient struct {
	mu            sync.Mutex
	uploadErr     map[string]error
	uploadCalls   map[string]int
	downloadErr   map[string]error
	items         map[string]*graph.Item
	downloadBody  []byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		uploadErr:   map[string]error{},
		uploadCalls: map[string]int{},
		downloadErr: map[string]error{},
		items:       map[string]*graph.Item{},
	}
}

func (f *fakeClient) GetItem(ctx context.Context, driveID, itemID string) (*graph.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if item, ok := f.items[itemID]; ok {
		return item, nil
	}

	return &graph.Item{ID: itemID, DownloadURL: "https://example.invalid/" + itemID}, nil
}

func (f *fakeClient) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	f.mu.Lock()
	err := f.downloadErr[downloadURL]
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}

	n, err := w.Write(f.downloadBody)

	return int64(n), err
}

func (f *fakeClient) Upload(
	ctx context.Context, driveID, remotePath string,
	content io.ReaderAt, size int64, mtime time.Time, progress graph.ProgressFunc,
) (*graph.Item, error) {
	f.mu.Lock()
	f.uploadCalls[remotePath]++
	err := f.uploadErr[remotePath]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &graph.Item{ID: "new-id-" + remotePath, RelativePath: remotePath, Size: size, CTag: "ctag1", ETag: "etag1"}, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []store.ItemRecord
	ops   []store.OperationLog
}

func (f *fakeStore) SaveItems(ctx context.Context, records []store.ItemRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, records...)

	return nil
}

func (f *fakeStore) AppendOperation(ctx context.Context, op *store.OperationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, *op)

	return nil
}

func TestPool_Run_UploadSucceeds(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello world"), 0o644))

	client := newFakeClient()
	st := &fakeStore{}
	pool := NewPool(client, st, nil, 2, "drive1", dir, accountid.New("user"), "session1", testLogger())

	result, err := pool.Run(context.Background(), []reconcile.UploadCandidate{
		{RelativePath: "a.txt", LocalPath: localPath, Size: 11, LastModifiedUTC: time.Now()},
	}, nil)

	require.NoError(t, err)
	require.Len(t, result.Uploads, 1)
	assert.True(t, result.Uploads[0].Success)
	assert.Equal(t, "new-id-a.txt", result.Uploads[0].DriveItemID)
	assert.True(t, result.Succeeded())
	require.Len(t, st.saved, 1)
	assert.Equal(t, store.StatusSynced, st.saved[0].SyncStatus)
}

func TestPool_Run_UploadPermanentFailureRecordsFailedStatus(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	client := newFakeClient()
	client.uploadErr["a.txt"] = &graph.GraphError{StatusCode: 403, Err: graph.ErrForbidden}
	st := &fakeStore{}
	pool := NewPool(client, st, nil, 1, "drive1", dir, accountid.New("user"), "session1", testLogger())

	result, err := pool.Run(context.Background(), []reconcile.UploadCandidate{
		{RelativePath: "a.txt", LocalPath: localPath, Size: 5, DriveItemID: "existing-id"},
	}, nil)

	require.NoError(t, err)
	require.Len(t, result.Uploads, 1)
	assert.False(t, result.Uploads[0].Success)
	assert.Error(t, result.Uploads[0].Err)
	assert.False(t, result.Succeeded())
	require.Len(t, st.saved, 1)
	assert.Equal(t, store.StatusFailed, st.saved[0].SyncStatus)
	assert.Equal(t, 1, client.uploadCalls["a.txt"])
}

func TestPool_Run_UploadFailureWithNoDriveItemIDSkipsRecordWrite(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	client := newFakeClient()
	client.uploadErr["new.txt"] = &graph.GraphError{StatusCode: 403, Err: graph.ErrForbidden}
	st := &fakeStore{}
	pool := NewPool(client, st, nil, 1, "drive1", dir, accountid.New("user"), "", testLogger())

	_, err := pool.Run(context.Background(), []reconcile.UploadCandidate{
		{RelativePath: "new.txt", LocalPath: localPath, Size: 5},
	}, nil)

	require.NoError(t, err)
	assert.Empty(t, st.saved)
	require.Len(t, st.ops, 1)
	assert.Equal(t, store.OpUpload, st.ops[0].Kind)
}

func TestPool_Run_DownloadSucceeds(t *testing.T) {
	dir := t.TempDir()

	client := newFakeClient()
	client.downloadBody = []byte("remote contents")
	st := &fakeStore{}
	pool := NewPool(client, st, nil, 2, "drive1", dir, accountid.New("user"), "session1", testLogger())

	result, err := pool.Run(context.Background(), nil, []reconcile.DownloadCandidate{
		{RelativePath: "sub/b.txt", DriveItemID: "item1", Size: int64(len(client.downloadBody)), CTag: "c1", ETag: "e1"},
	})

	require.NoError(t, err)
	require.Len(t, result.Downloads, 1)
	assert.True(t, result.Downloads[0].Success)

	got, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, client.downloadBody, got)

	_, statErr := os.Stat(filepath.Join(dir, "sub", "b.txt.partial"))
	assert.True(t, os.IsNotExist(statErr), "partial file should be cleaned up after rename")
}

func TestPool_Run_DownloadFailureRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()

	client := newFakeClient()
	client.items["item1"] = &graph.Item{ID: "item1", DownloadURL: "https://example.invalid/item1"}
	client.downloadErr["https://example.invalid/item1"] = errors.New("connection reset")
	st := &fakeStore{}
	pool := NewPool(client, st, nil, 1, "drive1", dir, accountid.New("user"), "session1", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, _ := pool.Run(ctx, nil, []reconcile.DownloadCandidate{
		{RelativePath: "c.txt", DriveItemID: "item1"},
	})

	require.Len(t, result.Downloads, 1)
	assert.False(t, result.Downloads[0].Success)

	_, statErr := os.Stat(filepath.Join(dir, "c.txt.partial"))
	assert.True(t, os.IsNotExist(statErr))
}
