package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/bucketsync/internal/workspace"
)

const (
	DefaultAutoSyncDebounce = 2 * time.Second
	DefaultAutoPullInterval = 5 * time.Minute
)

type ManagerOptions struct {
	AutoSync         bool
	AutoSyncDebounce time.Duration
	AutoPull         bool
	AutoPullInterval time.Duration
}

// SyncManager runs the engine as a daemon. Local changes either re-arm the
// auto-sync debouncer or refresh the local inventory; auto-pull refreshes the
// remote inventory on an interval.
type SyncManager struct {
	vault     *workspace.Vault
	engine    *SyncEngine
	watcher   *FileWatcher
	debouncer *Debouncer
	opts      ManagerOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(vault *workspace.Vault, engine *SyncEngine, opts ManagerOptions) *SyncManager {
	if opts.AutoSyncDebounce <= 0 {
		opts.AutoSyncDebounce = DefaultAutoSyncDebounce
	}
	if opts.AutoPullInterval <= 0 {
		opts.AutoPullInterval = DefaultAutoPullInterval
	}

	watcher := NewFileWatcher(vault.Root)
	watcher.FilterPaths(vault.ShouldIgnore)

	m := &SyncManager{
		vault:   vault,
		engine:  engine,
		watcher: watcher,
		opts:    opts,
	}
	m.debouncer = NewDebouncer(opts.AutoSyncDebounce, m.runAutoSync)
	return m
}

func (m *SyncManager) Engine() *SyncEngine {
	return m.engine
}

func (m *SyncManager) Start(ctx context.Context) error {
	slog.Info("sync manager start", "vault", m.vault.Root, "autoSync", m.opts.AutoSync, "autoPull", m.opts.AutoPull)

	m.ctx, m.cancel = context.WithCancel(ctx)

	if _, err := m.engine.Check(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("initial check", "error", err)
	}

	if err := m.watcher.Start(m.ctx); err != nil {
		m.cancel()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleWatcherEvents(m.ctx)
	}()

	if m.opts.AutoPull {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runAutoPull(m.ctx)
		}()
	}

	return nil
}

func (m *SyncManager) Stop() {
	slog.Info("sync manager stop")
	m.debouncer.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	m.watcher.Stop()
	m.wg.Wait()
	m.engine.Close()
}

func (m *SyncManager) handleWatcherEvents(ctx context.Context) {
	events := m.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.onLocalChange(ctx, event.Path)
		}
	}
}

// onLocalChange is ignored while a sync writes to the vault.
func (m *SyncManager) onLocalChange(ctx context.Context, path string) {
	switch state := m.engine.Status().State(); {
	case state == StateSyncing:
		return
	case m.opts.AutoSync && state == StateReady:
		slog.Debug("auto sync armed", "path", path, "in", m.opts.AutoSyncDebounce)
		m.debouncer.Trigger()
	default:
		if err := m.engine.RefreshLocal(ctx); err != nil && !isBenign(err) {
			slog.Error("refresh local", "error", err)
		}
	}
}

func (m *SyncManager) runAutoSync() {
	if _, err := m.engine.Sync(m.ctx, SyncOptions{}); err != nil && !isBenign(err) {
		slog.Error("auto sync", "error", err)
	}
}

// runAutoPull uses a timer rather than a ticker so slow listings do not queue ticks.
func (m *SyncManager) runAutoPull(ctx context.Context) {
	timer := time.NewTimer(m.opts.AutoPullInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := m.engine.RefreshRemote(ctx); err != nil && !isBenign(err) {
				slog.Error("auto pull", "error", err)
			}
			timer.Reset(m.opts.AutoPullInterval)
		}
	}
}

func isBenign(err error) bool {
	return errors.Is(err, ErrSyncAlreadyRunning) || errors.Is(err, context.Canceled)
}
