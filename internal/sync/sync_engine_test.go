package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/bucketsync/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, v *workspace.Vault, remote *memBlob, policy SyncPolicy) *SyncEngine {
	t.Helper()
	e := NewSyncEngine(v, remote, EngineOptions{
		Policy:      policy,
		Inventory:   InventoryOptions{Prefix: "Notes/"},
		BatchSize:   1,
		SettleDelay: -1,
	})
	t.Cleanup(e.Close)
	return e
}

func TestSyncEngine_CheckAndSync(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "alpha", baseTime)
	writeLocal(t, v, "dir/b.md", "beta", baseTime)
	remote := newMemBlob()
	remote.set("Notes/stale.md", "stale", baseTime)

	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromLocal, LocalProtection: true})
	assert.Equal(t, StateLoading, e.Status().State())

	plan, err := e.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "↑ 2 ✕ 1", plan.Summary())
	assert.Equal(t, StateReady, e.Status().State())
	assert.Equal(t, "↑ 2 ✕ 1", e.StatusText())
	assert.False(t, e.IsInSync())

	result, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Uploaded, 2)
	assert.Len(t, result.Deleted, 1)
	assert.Equal(t, []string{"Notes/a.md", "Notes/dir/b.md"}, remote.keys())

	assert.True(t, e.IsInSync())
	assert.Equal(t, "in sync", e.StatusText())

	// a second run finds nothing to do
	result, err = e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Uploaded)
	assert.Empty(t, result.Downloaded)
	assert.Empty(t, result.Deleted)

	first, err := e.Check(context.Background())
	require.NoError(t, err)
	second, err := e.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSyncEngine_DirectionOverride(t *testing.T) {
	v := newTestVault(t)
	remote := newMemBlob()
	remote.set("Notes/inbox/c.md", "gamma", baseTime)

	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromLocal})

	result, err := e.Sync(context.Background(), SyncOptions{Direction: FromRemote})
	require.NoError(t, err)
	require.Len(t, result.Downloaded, 1)
	assert.Equal(t, "gamma", readLocal(t, v, "inbox/c.md"))
	assert.Equal(t, FromLocal, e.Policy().Direction)
	assert.True(t, e.IsInSync())
}

func TestSyncEngine_IgnoredRemoteObjectsConverge(t *testing.T) {
	v := newTestVault(t)
	remote := newMemBlob()
	remote.set("Notes/a.md", "alpha", baseTime)
	remote.set("Notes/.DS_Store", "junk", baseTime)
	remote.set("Notes/.trash/old.md", "old", baseTime)

	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromRemote})

	result, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	require.Len(t, result.Downloaded, 1)
	assert.Equal(t, "a.md", result.Downloaded[0].Path)
	assert.True(t, e.IsInSync())

	for range 2 {
		result, err = e.Sync(context.Background(), SyncOptions{})
		require.NoError(t, err)
		assert.Empty(t, result.Downloaded)
		assert.True(t, e.IsInSync())
	}

	assert.NoFileExists(t, filepath.Join(v.Root, ".DS_Store"))
	assert.NoFileExists(t, filepath.Join(v.TrashDir, "old.md"))
}

func TestSyncEngine_SyncIgnoreKeepsRemoteObjects(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Notes")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".syncignore"), []byte("drafts/\n"), 0o644))
	v, err := workspace.NewVault(root)
	require.NoError(t, err)
	require.NoError(t, v.Setup())
	t.Cleanup(func() { _ = v.Unlock() })

	writeLocal(t, v, "a.md", "alpha", baseTime)
	remote := newMemBlob()
	remote.set("Notes/drafts/wip.md", "wip", baseTime)

	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromLocal})

	_, err = e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.True(t, e.IsInSync())
	assert.Empty(t, remote.deleted)
	_, ok := remote.content("Notes/drafts/wip.md")
	assert.True(t, ok)
}

func TestSyncEngine_PartialFailureRefreshesInventories(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "a", baseTime)
	writeLocal(t, v, "b.md", "b", baseTime)
	remote := newMemBlob()
	cause := errors.New("InternalError")
	remote.putErr["Notes/b.md"] = cause

	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromLocal})

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.ErrorIs(t, err, cause)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, StateError, e.Status().State())
	assert.Contains(t, e.Status().Message(), "InternalError")
	assert.Contains(t, e.StatusText(), "error ")

	// a.md made it and the refreshed inventories show it
	plan := e.Plan()
	up, down, del := planPaths(plan)
	assert.Equal(t, []string{"b.md"}, up)
	assert.Empty(t, down)
	assert.Empty(t, del)
}

func TestSyncEngine_RemoteListErrorKeepsInventories(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "a", baseTime)
	remote := newMemBlob()

	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromLocal})
	_, err := e.Check(context.Background())
	require.NoError(t, err)
	before := e.Plan()

	writeLocal(t, v, "new.md", "n", baseTime)
	remote.listErr = errors.New("ExpiredToken")

	_, err = e.Check(context.Background())
	var listErr *RemoteListError
	require.ErrorAs(t, err, &listErr)
	assert.Equal(t, StateError, e.Status().State())
	assert.Equal(t, before, e.Plan())

	_, err = e.Sync(context.Background(), SyncOptions{})
	require.ErrorAs(t, err, &listErr)
	assert.Empty(t, remote.keys())
}

func TestSyncEngine_ReentrancyGuard(t *testing.T) {
	e := newTestEngine(t, newTestVault(t), newMemBlob(), SyncPolicy{Direction: FromLocal})

	e.muSync.Lock()
	defer e.muSync.Unlock()

	_, err := e.Sync(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
	_, err = e.Check(context.Background())
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
	assert.ErrorIs(t, e.RefreshLocal(context.Background()), ErrSyncAlreadyRunning)
}

func TestSyncEngine_Test(t *testing.T) {
	remote := newMemBlob()
	remote.set("Notes/a.md", "a", baseTime)
	e := newTestEngine(t, newTestVault(t), remote, SyncPolicy{Direction: FromRemote})

	require.NoError(t, e.Test(context.Background()))
	assert.Equal(t, StateReady, e.Status().State())
	assert.Equal(t, "↓ 1", e.StatusText())

	remote.listErr = errors.New("NoSuchBucket")
	assert.Error(t, e.Test(context.Background()))
	assert.Equal(t, StateError, e.Status().State())
}

func TestSyncEngine_Refresh(t *testing.T) {
	v := newTestVault(t)
	remote := newMemBlob()
	e := newTestEngine(t, v, remote, SyncPolicy{Direction: FromLocal})

	writeLocal(t, v, "a.md", "a", baseTime)
	require.NoError(t, e.RefreshLocal(context.Background()))
	assert.Equal(t, 1, e.Plan().Len())

	remote.set("Notes/a.md", "a", baseTime)
	require.NoError(t, e.RefreshRemote(context.Background()))
	assert.True(t, e.IsInSync())
}

func TestSyncEngine_SettleDelay(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "a", baseTime)
	e := NewSyncEngine(v, newMemBlob(), EngineOptions{
		Policy:      SyncPolicy{Direction: FromLocal},
		Inventory:   InventoryOptions{Prefix: "Notes/"},
		SettleDelay: 50 * time.Millisecond,
	})
	defer e.Close()

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateSyncing, e.Status().State())

	assert.Eventually(t, func() bool {
		return e.Status().State() == StateReady
	}, time.Second, 10*time.Millisecond)
}

func TestSyncEngine_SyncIgnoredWhileSettling(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "a", baseTime)
	remote := newMemBlob()
	e := NewSyncEngine(v, remote, EngineOptions{
		Policy:      SyncPolicy{Direction: FromLocal},
		Inventory:   InventoryOptions{Prefix: "Notes/"},
		SettleDelay: time.Hour,
	})
	defer e.Close()

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, StateSyncing, e.Status().State())

	writeLocal(t, v, "b.md", "b", baseTime)
	_, err = e.Sync(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
	assert.Equal(t, []string{"Notes/a.md"}, remote.keys())
	assert.Equal(t, StateSyncing, e.Status().State())
}

func TestSyncEngine_Events(t *testing.T) {
	v := newTestVault(t)
	writeLocal(t, v, "a.md", "a", baseTime)
	e := newTestEngine(t, v, newMemBlob(), SyncPolicy{Direction: FromLocal})

	events := e.Status().Subscribe()
	defer e.Status().Unsubscribe(events)

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	var states []SyncState
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventStateChanged {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []SyncState{StateSyncing, StateReady}, states)
}
