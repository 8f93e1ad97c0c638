package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/bucketsync/internal/blob"
	"golang.org/x/sync/errgroup"
)

// DefaultSettleDelay is how long the engine stays in its working state after
// a successful cycle, so the writes of the cycle itself are not seen as edits.
const DefaultSettleDelay = time.Second

type EngineOptions struct {
	Policy    SyncPolicy
	Inventory InventoryOptions
	BatchSize int
	// MaxFingerprintSize is the hashing ceiling. Zero means DefaultMaxFingerprintSize.
	MaxFingerprintSize int64
	// SettleDelay is applied before returning to Ready. Zero means
	// DefaultSettleDelay, a negative value returns to Ready immediately.
	SettleDelay time.Duration
}

type SyncOptions struct {
	// Direction overrides the policy direction for a single run.
	Direction Direction
}

// SyncEngine orchestrates check and sync cycles over the current inventories.
type SyncEngine struct {
	builder  *InventoryBuilder
	executor *Executor
	status   *SyncStatus
	policy   SyncPolicy
	settle   time.Duration

	muSync sync.Mutex

	muInv  sync.RWMutex
	local  *LocalInventory
	remote *RemoteInventory

	muSettle    sync.Mutex
	settleGen   uint64
	settleTimer *time.Timer
}

func NewSyncEngine(tree LocalTree, remote blob.IBlobClient, opts EngineOptions) *SyncEngine {
	settle := opts.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}

	status := NewSyncStatus()

	builder := NewInventoryBuilder(tree, remote, NewFingerprinter(opts.MaxFingerprintSize), opts.Inventory)
	builder.SetWarningFunc(status.Warn)

	executor := NewExecutor(tree, remote, opts.Inventory.Prefix, opts.BatchSize)
	executor.SetWarningFunc(status.Warn)

	if opts.Policy.Direction == "" {
		opts.Policy.Direction = FromLocal
	}

	return &SyncEngine{
		builder:  builder,
		executor: executor,
		status:   status,
		policy:   opts.Policy,
		settle:   settle,
	}
}

func (e *SyncEngine) Status() *SyncStatus {
	return e.status
}

func (e *SyncEngine) Policy() SyncPolicy {
	return e.policy
}

// Plan computes the diff over the current inventories under the configured policy.
func (e *SyncEngine) Plan() *SyncPlan {
	e.muInv.RLock()
	defer e.muInv.RUnlock()
	return ComputeDiff(e.local, e.remote, e.policy)
}

func (e *SyncEngine) IsInSync() bool {
	return e.Plan().IsInSync()
}

// StatusText renders the current state the way a status bar shows it.
func (e *SyncEngine) StatusText() string {
	switch state := e.status.State(); state {
	case StateReady:
		return e.Plan().Summary()
	case StateSyncing:
		return "running.."
	case StateError:
		return "error " + e.status.Message()
	default:
		return string(state)
	}
}

// Check rebuilds both inventories and returns the plan under the configured policy.
func (e *SyncEngine) Check(ctx context.Context) (*SyncPlan, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	e.setState(StateChecking, "")
	if err := e.rebuild(ctx); err != nil {
		e.setState(StateError, err.Error())
		return nil, err
	}

	plan := e.plan(e.policy)
	slog.Info("sync check", "status", plan.Summary(), "local", e.localLen(), "remote", e.remoteLen())
	e.settleReady()
	return plan, nil
}

// Sync runs one full cycle. When both sides already agree nothing is executed.
// Both inventories are refreshed after every execution, also a failed one.
func (e *SyncEngine) Sync(ctx context.Context, opts SyncOptions) (*ExecuteResult, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	// the previous run is still settling
	if e.status.State() == StateSyncing {
		return nil, ErrSyncAlreadyRunning
	}

	logger := slog.With("cycle", uuid.NewString())
	ctx = withLogger(ctx, logger)

	policy := e.policy
	if opts.Direction != "" {
		policy.Direction = opts.Direction
	}

	if err := e.rebuild(ctx); err != nil {
		e.setState(StateError, err.Error())
		return nil, err
	}

	plan := e.plan(policy)
	if plan.IsInSync() {
		logger.Debug("sync skipped", "status", plan.Summary())
		if e.status.State() != StateReady {
			e.setState(StateReady, "")
		}
		return &ExecuteResult{Skipped: plan.Skipped}, nil
	}

	e.setState(StateSyncing, "")
	logger.Info("sync start",
		"direction", policy.Direction,
		"protection", policy.LocalProtection,
		"upload", len(plan.ToUpload),
		"download", len(plan.ToDownload),
		"delete", len(plan.ToDelete),
	)

	result, err := e.executor.Execute(ctx, plan)
	result.Skipped = mergeSkipped(plan.Skipped, result.Skipped)

	// refresh so the status reflects what actually happened
	if rerr := e.rebuild(ctx); rerr != nil {
		logger.Warn("sync refresh", "error", rerr)
	}

	if err != nil {
		e.setState(StateError, err.Error())
		return result, fmt.Errorf("sync: %w", err)
	}

	logger.Info("sync done",
		"uploaded", len(result.Uploaded),
		"downloaded", len(result.Downloaded),
		"deleted", len(result.Deleted),
		"skipped", len(result.Skipped),
		"took", result.Duration,
	)
	e.settleReady()
	return result, nil
}

// Test lists the bucket to verify connectivity and credentials.
func (e *SyncEngine) Test(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	e.setState(StateTesting, "")
	remote, err := e.builder.BuildRemote(ctx)
	if err != nil {
		e.setState(StateError, err.Error())
		return err
	}

	e.muInv.Lock()
	e.remote = remote
	e.muInv.Unlock()

	e.settleReady()
	return nil
}

// RefreshLocal rebuilds the local inventory only.
func (e *SyncEngine) RefreshLocal(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	local, err := e.builder.BuildLocal(ctx)
	if err != nil {
		return err
	}

	e.muInv.Lock()
	e.local = local
	e.muInv.Unlock()
	return nil
}

// RefreshRemote rebuilds the remote inventory only.
func (e *SyncEngine) RefreshRemote(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	e.setState(StateChecking, "")
	remote, err := e.builder.BuildRemote(ctx)
	if err != nil {
		e.setState(StateError, err.Error())
		return err
	}

	e.muInv.Lock()
	e.remote = remote
	e.muInv.Unlock()

	e.settleReady()
	return nil
}

// Close cancels a pending return to Ready.
func (e *SyncEngine) Close() {
	e.muSettle.Lock()
	defer e.muSettle.Unlock()
	e.settleGen++
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
}

// rebuild builds both inventories concurrently and swaps them in only when
// both succeed, so a failed listing keeps the previous snapshots.
func (e *SyncEngine) rebuild(ctx context.Context) error {
	var (
		local  *LocalInventory
		remote *RemoteInventory
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = e.builder.BuildLocal(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = e.builder.BuildRemote(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		var listErr *RemoteListError
		if errors.As(err, &listErr) {
			return err
		}
		return fmt.Errorf("inventory: %w", err)
	}

	e.muInv.Lock()
	e.local = local
	e.remote = remote
	e.muInv.Unlock()
	return nil
}

func (e *SyncEngine) plan(policy SyncPolicy) *SyncPlan {
	e.muInv.RLock()
	plan := ComputeDiff(e.local, e.remote, policy)
	e.muInv.RUnlock()

	for _, s := range plan.Skipped {
		e.status.Warn(s.Path, s.Reason)
	}
	return plan
}

func (e *SyncEngine) localLen() int {
	e.muInv.RLock()
	defer e.muInv.RUnlock()
	return e.local.Len()
}

func (e *SyncEngine) remoteLen() int {
	e.muInv.RLock()
	defer e.muInv.RUnlock()
	return e.remote.Len()
}

// setState cancels any pending settle before moving to state.
func (e *SyncEngine) setState(state SyncState, msg string) {
	e.muSettle.Lock()
	e.settleGen++
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	e.muSettle.Unlock()

	e.status.SetState(state, msg)
}

// settleReady returns to Ready after the settle delay unless another
// transition happens first.
func (e *SyncEngine) settleReady() {
	if e.settle < 0 {
		e.setState(StateReady, "")
		return
	}

	e.muSettle.Lock()
	defer e.muSettle.Unlock()

	e.settleGen++
	gen := e.settleGen
	if e.settleTimer != nil {
		e.settleTimer.Stop()
	}
	e.settleTimer = time.AfterFunc(e.settle, func() {
		e.muSettle.Lock()
		defer e.muSettle.Unlock()
		if e.settleGen != gen {
			return
		}
		e.settleTimer = nil
		e.status.SetState(StateReady, "")
	})
}

func mergeSkipped(a, b []SkippedFile) []SkippedFile {
	out := make([]SkippedFile, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
