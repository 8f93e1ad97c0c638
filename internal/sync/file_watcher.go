package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/bucketsync/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultCoalesceTimeout = 50 * time.Millisecond
)

// FilterCallback returns true for logical paths whose events should be dropped.
type FilterCallback func(path string) bool

// FileEvent is a coalesced change notification for one file.
type FileEvent struct {
	Path  string
	Event notify.Event
}

// FileWatcher reports changes under the vault root. Bursts of raw events for
// the same path are coalesced into one FileEvent.
type FileWatcher struct {
	watchDir        string
	rawEvents       chan notify.EventInfo
	events          chan FileEvent
	done            chan struct{}
	wg              sync.WaitGroup
	coalesceTimeout time.Duration

	pending  map[string]notify.EventInfo
	timers   map[string]*time.Timer
	closed   bool
	pendMu   sync.Mutex
	filter   FilterCallback
	filterMu sync.RWMutex
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		done:            make(chan struct{}),
		pending:         make(map[string]notify.EventInfo),
		timers:          make(map[string]*time.Timer),
		coalesceTimeout: defaultCoalesceTimeout,
	}
}

func (fw *FileWatcher) SetCoalesceTimeout(timeout time.Duration) {
	fw.coalesceTimeout = timeout
}

func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filterMu.Lock()
	defer fw.filterMu.Unlock()
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan FileEvent, eventBufferSize)

	if err := notify.Watch(fw.watchDir+"/...", fw.rawEvents, notify.All); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	close(fw.done)
	if fw.rawEvents != nil {
		notify.Stop(fw.rawEvents)
	}
	fw.wg.Wait()
	slog.Info("file watcher stopped")
}

func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		fw.pendMu.Lock()
		for path, timer := range fw.timers {
			timer.Stop()
			delete(fw.timers, path)
			delete(fw.pending, path)
		}
		fw.closed = true
		close(fw.events)
		fw.pendMu.Unlock()

		fw.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			fw.handle(event)
		}
	}
}

func (fw *FileWatcher) handle(event notify.EventInfo) {
	logical, err := utils.ToLogicalPath(fw.watchDir, event.Path())
	if err != nil {
		return
	}

	fw.filterMu.RLock()
	filter := fw.filter
	fw.filterMu.RUnlock()
	if filter != nil && filter(logical) {
		return
	}

	fw.pendMu.Lock()
	defer fw.pendMu.Unlock()

	if timer, ok := fw.timers[logical]; ok {
		timer.Stop()
	}
	fw.pending[logical] = event
	fw.timers[logical] = time.AfterFunc(fw.coalesceTimeout, func() {
		fw.flush(logical)
	})
}

func (fw *FileWatcher) flush(logical string) {
	fw.pendMu.Lock()
	defer fw.pendMu.Unlock()

	event, ok := fw.pending[logical]
	if !ok || fw.closed {
		return
	}
	delete(fw.pending, logical)
	delete(fw.timers, logical)

	select {
	case fw.events <- FileEvent{Path: logical, Event: event.Event()}:
		slog.Debug("file watcher", "event", event.Event(), "path", logical)
	default:
		slog.Warn("file watcher dropped", "reason", "channel full", "path", logical)
	}
}
