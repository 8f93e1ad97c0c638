package sync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreadableTree fails Open for selected paths.
type unreadableTree struct {
	LocalTree
	paths map[string]bool
}

func (u *unreadableTree) Open(path string) (io.ReadSeekCloser, error) {
	if u.paths[path] {
		return nil, os.ErrPermission
	}
	return u.LocalTree.Open(path)
}

func localInventory(t *testing.T, tree LocalTree) *LocalInventory {
	t.Helper()
	b := NewInventoryBuilder(tree, newMemBlob(), NewFingerprinter(0), InventoryOptions{})
	inv, err := b.BuildLocal(context.Background())
	require.NoError(t, err)
	return inv
}

func TestExecutor_Execute(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "up.md", "upload me", baseTime)
	writeLocal(t, v, "gone.md", "trash me", baseTime)
	writeLocal(t, v, "stale.md", "old", baseTime)

	remote := newMemBlob()
	remote.set("Notes/new/down.md", "download me", baseTime)
	remote.set("Notes/stale.md", "fresh", baseTime.Add(1))
	remote.set("Notes/orphan.md", "delete me", baseTime)

	local := localInventory(t, v)
	plan := &SyncPlan{
		ToUpload:   []*LocalRecord{mustLookup(t, local, "up.md")},
		ToDownload: []*RemoteRecord{{FileMeta: FileMeta{Path: "new/down.md"}, Key: "Notes/new/down.md"}, {FileMeta: FileMeta{Path: "stale.md"}, Key: "Notes/stale.md"}},
		ToDelete:   []Record{mustLookup(t, local, "gone.md"), &RemoteRecord{FileMeta: FileMeta{Path: "orphan.md"}, Key: "Notes/orphan.md"}},
	}

	result, err := NewExecutor(v, remote, "Notes/", 2).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "download me", readLocal(t, v, "new/down.md"))
	assert.Equal(t, "fresh", readLocal(t, v, "stale.md"))
	content, ok := remote.content("Notes/up.md")
	require.True(t, ok)
	assert.Equal(t, "upload me", content)
	assert.NoFileExists(t, filepath.Join(v.Root, "gone.md"))
	assert.FileExists(t, filepath.Join(v.TrashDir, "gone.md"))
	assert.Equal(t, []string{"Notes/orphan.md"}, remote.deleted)

	require.Len(t, result.Downloaded, 2)
	assert.Equal(t, "new/down.md", result.Downloaded[0].Path)
	assert.Equal(t, hashOf("download me"), result.Downloaded[0].Hash)
	require.Len(t, result.Uploaded, 1)
	assert.Equal(t, "Notes/up.md", result.Uploaded[0].Key)
	assert.Equal(t, hashOf("upload me"), result.Uploaded[0].Hash)
	assert.Len(t, result.Deleted, 2)
	assert.Empty(t, result.Skipped)
}

func TestExecutor_FirstBatchErrorStopsLaterWork(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "a", baseTime)
	writeLocal(t, v, "b.md", "b", baseTime)

	remote := newMemBlob()
	remote.set("Notes/orphan.md", "x", baseTime)
	cause := errors.New("SlowDown")
	remote.putErr["Notes/b.md"] = cause

	local := localInventory(t, v)
	plan := &SyncPlan{
		ToUpload: []*LocalRecord{mustLookup(t, local, "a.md"), mustLookup(t, local, "b.md")},
		ToDelete: []Record{&RemoteRecord{FileMeta: FileMeta{Path: "orphan.md"}, Key: "Notes/orphan.md"}},
	}

	result, err := NewExecutor(v, remote, "Notes/", 1).Execute(context.Background(), plan)
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, PhaseUpload, batchErr.Phase)
	assert.Equal(t, 1, batchErr.Batch)
	assert.Equal(t, "b.md", batchErr.Path)
	assert.ErrorIs(t, err, cause)

	// the first batch is kept, the delete phase never ran
	_, ok := remote.content("Notes/a.md")
	assert.True(t, ok)
	require.Len(t, result.Uploaded, 1)
	assert.Equal(t, "a.md", result.Uploaded[0].Path)
	assert.Empty(t, remote.deleted)
}

func TestExecutor_UnreadableUploadIsSkipped(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "locked.md", "secret", baseTime)
	writeLocal(t, v, "ok.md", "fine", baseTime)

	tree := &unreadableTree{LocalTree: v, paths: map[string]bool{"locked.md": true}}
	local := localInventory(t, v)
	plan := &SyncPlan{
		ToUpload: []*LocalRecord{mustLookup(t, local, "locked.md"), mustLookup(t, local, "ok.md")},
	}

	var warned []string
	remote := newMemBlob()
	e := NewExecutor(tree, remote, "Notes/", 10)
	e.SetWarningFunc(func(path string, reason SkipReason) {
		assert.Equal(t, SkipUnreadable, reason)
		warned = append(warned, path)
	})

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"Notes/ok.md"}, remote.keys())
	assert.Equal(t, []string{"locked.md"}, warned)
	assert.Equal(t, []SkippedFile{{Path: "locked.md", Size: 6, Reason: SkipUnreadable}}, result.Skipped)
}

func TestExecutor_DownloadDigestMismatch(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "bad.md", "good local", baseTime)
	remote := newMemBlob()
	remote.objects["Notes/bad.md"] = &memObject{data: []byte("payload"), etag: md5Hex([]byte("other")), modTime: baseTime.Add(time.Hour)}
	remote.objects["Notes/new.md"] = &memObject{data: []byte("payload"), etag: md5Hex([]byte("other")), modTime: baseTime}

	plan := &SyncPlan{ToDownload: []*RemoteRecord{
		{FileMeta: FileMeta{Path: "bad.md"}, Key: "Notes/bad.md"},
		{FileMeta: FileMeta{Path: "new.md"}, Key: "Notes/new.md"},
	}}
	result, err := NewExecutor(v, remote, "Notes/", 10).Execute(context.Background(), plan)

	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.Empty(t, result.Downloaded)
	assert.Equal(t, "good local", readLocal(t, v, "bad.md"))
	assert.NoFileExists(t, filepath.Join(v.Root, "new.md"))
}

func TestExecutor_CancelledBeforeBatch(t *testing.T) {
	v := newTestVault(t)
	remote := newMemBlob()
	remote.set("Notes/a.md", "a", baseTime)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := &SyncPlan{ToDownload: []*RemoteRecord{{FileMeta: FileMeta{Path: "a.md"}, Key: "Notes/a.md"}}}
	_, err := NewExecutor(v, remote, "Notes/", 10).Execute(ctx, plan)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(v.Root, "a.md"))
}

func TestExecutor_EmptyPlan(t *testing.T) {
	result, err := NewExecutor(nil, nil, "", 0).Execute(context.Background(), &SyncPlan{})
	require.NoError(t, err)
	assert.Empty(t, result.Downloaded)
	assert.Empty(t, result.Uploaded)
	assert.Empty(t, result.Deleted)
}

func mustLookup(t *testing.T, inv *LocalInventory, path string) *LocalRecord {
	t.Helper()
	rec, ok := inv.Lookup(path)
	require.True(t, ok, path)
	return rec
}
