package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openmined/bucketsync/internal/blob"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageSize       = 1000
	DefaultMaxPages       = 10
	defaultFingerprintFan = 32
)

// Inventory is an immutable snapshot of one side, ordered and unique by logical path.
type Inventory[T Record] struct {
	records []T
	index   map[string]int
}

type (
	LocalInventory  = Inventory[*LocalRecord]
	RemoteInventory = Inventory[*RemoteRecord]
)

// NewInventory sorts records by path. When a path repeats, the first record wins.
func NewInventory[T Record](records []T) *Inventory[T] {
	sorted := make([]T, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Meta().Path < sorted[j].Meta().Path
	})

	inv := &Inventory[T]{
		records: make([]T, 0, len(sorted)),
		index:   make(map[string]int, len(sorted)),
	}
	for _, r := range sorted {
		path := r.Meta().Path
		if _, dup := inv.index[path]; dup {
			slog.Warn("inventory duplicate path", "origin", r.Origin(), "path", path)
			continue
		}
		inv.index[path] = len(inv.records)
		inv.records = append(inv.records, r)
	}
	return inv
}

func (inv *Inventory[T]) Lookup(path string) (T, bool) {
	var zero T
	if inv == nil {
		return zero, false
	}
	i, ok := inv.index[path]
	if !ok {
		return zero, false
	}
	return inv.records[i], true
}

// Records returns the records in path order. The slice is a copy.
func (inv *Inventory[T]) Records() []T {
	if inv == nil {
		return nil
	}
	out := make([]T, len(inv.records))
	copy(out, inv.records)
	return out
}

func (inv *Inventory[T]) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.records)
}

func (inv *Inventory[T]) Paths() []string {
	if inv == nil {
		return nil
	}
	paths := make([]string, len(inv.records))
	for i, r := range inv.records {
		paths[i] = r.Meta().Path
	}
	return paths
}

// ===================================================================================================

// WarningFunc receives skips that affect what a sync can guarantee.
type WarningFunc func(path string, reason SkipReason)

type InventoryOptions struct {
	Prefix   string
	PageSize int
	MaxPages int
	// FanOut bounds concurrent fingerprinting
	FanOut int
}

// InventoryBuilder snapshots the local tree and the remote bucket.
type InventoryBuilder struct {
	tree          LocalTree
	remote        blob.IBlobClient
	fingerprinter *Fingerprinter
	opts          InventoryOptions
	warn          WarningFunc
}

func NewInventoryBuilder(tree LocalTree, remote blob.IBlobClient, fingerprinter *Fingerprinter, opts InventoryOptions) *InventoryBuilder {
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.FanOut <= 0 {
		opts.FanOut = defaultFingerprintFan
	}
	return &InventoryBuilder{
		tree:          tree,
		remote:        remote,
		fingerprinter: fingerprinter,
		opts:          opts,
		warn:          func(string, SkipReason) {},
	}
}

func (b *InventoryBuilder) SetWarningFunc(fn WarningFunc) {
	if fn != nil {
		b.warn = fn
	}
}

func (b *InventoryBuilder) Prefix() string {
	return b.opts.Prefix
}

// BuildLocal lists the tree and fingerprints every file.
func (b *InventoryBuilder) BuildLocal(ctx context.Context) (*LocalInventory, error) {
	files, err := b.tree.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local: %w", err)
	}

	records := make([]*LocalRecord, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.FanOut)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = newLocalRecord(file, b.fingerprinter.FingerprintFile(b.tree, file))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewInventory(records), nil
}

// BuildRemote pages through the bucket under the prefix. Listing stops after
// MaxPages pages even if more keys remain; the truncation is reported as a warning.
func (b *InventoryBuilder) BuildRemote(ctx context.Context) (*RemoteInventory, error) {
	prefix := b.opts.Prefix
	var (
		records   []*RemoteRecord
		token     string
		exhausted bool
	)

	for page := 0; page < b.opts.MaxPages; page++ {
		resp, err := b.remote.ListObjects(ctx, &blob.ListObjectsParams{
			Prefix:            prefix,
			MaxKeys:           int32(b.opts.PageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &RemoteListError{Prefix: prefix, Page: page, Err: err}
		}

		for _, obj := range resp.Objects {
			if rec := b.remoteRecord(obj); rec != nil {
				records = append(records, rec)
			}
		}

		if !resp.IsTruncated || resp.NextContinuationToken == "" {
			exhausted = true
			break
		}
		token = resp.NextContinuationToken
	}

	if !exhausted {
		slog.Warn("remote listing truncated", "bucket", b.remote.Bucket(), "prefix", prefix, "pages", b.opts.MaxPages, "objects", len(records))
		b.warn(prefix, SkipListingTruncated)
	}

	return NewInventory(records), nil
}

func (b *InventoryBuilder) remoteRecord(obj *blob.BlobInfo) *RemoteRecord {
	prefix := b.opts.Prefix
	if !strings.HasPrefix(obj.Key, prefix) {
		return nil
	}

	logical := strings.TrimPrefix(obj.Key, prefix)
	if logical == "" || strings.HasSuffix(logical, "/") {
		slog.Debug("remote skip folder placeholder", "key", obj.Key)
		return nil
	}
	if b.tree != nil && b.tree.ShouldIgnore(logical) {
		slog.Debug("remote skip ignored", "key", obj.Key)
		return nil
	}

	return &RemoteRecord{
		FileMeta: FileMeta{
			Path:         logical,
			Hash:         ParseETag(obj.ETag),
			LastModified: obj.LastModified,
			Size:         obj.Size,
		},
		Key: obj.Key,
	}
}
