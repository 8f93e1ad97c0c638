package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openmined/bucketsync/internal/blob"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 10

// Executor applies a SyncPlan: downloads, then uploads, then deletes. Each
// phase runs in batches; all operations of a batch run in parallel and the
// batch is joined before the next one starts.
type Executor struct {
	tree      LocalTree
	remote    blob.IBlobClient
	prefix    string
	batchSize int
	warn      WarningFunc
}

func NewExecutor(tree LocalTree, remote blob.IBlobClient, prefix string, batchSize int) *Executor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Executor{
		tree:      tree,
		remote:    remote,
		prefix:    prefix,
		batchSize: batchSize,
		warn:      func(string, SkipReason) {},
	}
}

func (e *Executor) SetWarningFunc(fn WarningFunc) {
	if fn != nil {
		e.warn = fn
	}
}

// ExecuteResult lists what an execution changed, also when it stopped early.
type ExecuteResult struct {
	Downloaded []*LocalRecord
	Uploaded   []*RemoteRecord
	Deleted    []Record
	Skipped    []SkippedFile
	Duration   time.Duration

	mu sync.Mutex
}

func (r *ExecuteResult) addDownloaded(rec *LocalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Downloaded = append(r.Downloaded, rec)
}

func (r *ExecuteResult) addUploaded(rec *RemoteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Uploaded = append(r.Uploaded, rec)
}

func (r *ExecuteResult) addDeleted(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deleted = append(r.Deleted, rec)
}

func (r *ExecuteResult) addSkipped(s SkippedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped = append(r.Skipped, s)
}

func (r *ExecuteResult) sort() {
	sort.Slice(r.Downloaded, func(i, j int) bool { return r.Downloaded[i].Path < r.Downloaded[j].Path })
	sort.Slice(r.Uploaded, func(i, j int) bool { return r.Uploaded[i].Path < r.Uploaded[j].Path })
	sort.Slice(r.Deleted, func(i, j int) bool { return r.Deleted[i].Meta().Path < r.Deleted[j].Meta().Path })
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].Path < r.Skipped[j].Path })
}

// Execute runs plan. The first failing operation stops the execution and is
// returned as a *BatchError; completed operations are not rolled back.
func (e *Executor) Execute(ctx context.Context, plan *SyncPlan) (*ExecuteResult, error) {
	start := time.Now()
	result := &ExecuteResult{}
	defer func() {
		result.Duration = time.Since(start)
		result.sort()
	}()

	if plan.IsInSync() {
		return result, nil
	}

	err := runBatches(ctx, PhaseDownload, plan.ToDownload, e.batchSize,
		func(r *RemoteRecord) string { return r.Path },
		func(ctx context.Context, r *RemoteRecord) error {
			rec, err := e.download(ctx, r)
			if err != nil {
				return err
			}
			result.addDownloaded(rec)
			return nil
		})
	if err != nil {
		return result, err
	}

	err = runBatches(ctx, PhaseUpload, plan.ToUpload, e.batchSize,
		func(l *LocalRecord) string { return l.Path },
		func(ctx context.Context, l *LocalRecord) error {
			rec, err := e.upload(ctx, l)
			if err != nil {
				return err
			}
			if rec == nil {
				result.addSkipped(SkippedFile{Path: l.Path, Size: l.Size, Reason: SkipUnreadable})
				return nil
			}
			result.addUploaded(rec)
			return nil
		})
	if err != nil {
		return result, err
	}

	err = runBatches(ctx, PhaseDelete, plan.ToDelete, e.batchSize,
		func(r Record) string { return r.Meta().Path },
		func(ctx context.Context, r Record) error {
			if err := e.delete(ctx, r); err != nil {
				return err
			}
			result.addDeleted(r)
			return nil
		})
	if err != nil {
		return result, err
	}

	return result, nil
}

// runBatches splits items into batches of size and runs each batch fully in
// parallel. A batch is always joined before its error is returned.
func runBatches[T any](
	ctx context.Context,
	phase Phase,
	items []T,
	size int,
	pathOf func(T) string,
	op func(context.Context, T) error,
) error {
	for batch, start := 0, 0; start < len(items); batch, start = batch+1, start+size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}

		end := min(start+size, len(items))

		var g errgroup.Group
		for _, item := range items[start:end] {
			g.Go(func() error {
				if err := op(ctx, item); err != nil {
					return &BatchError{Phase: phase, Batch: batch, Path: pathOf(item), Err: err}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
