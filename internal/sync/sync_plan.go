package sync

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultMaxUploadSize is the single-part transfer ceiling.
	DefaultMaxUploadSize = 1 << 30

	UploadSymbol   = "↑"
	DownloadSymbol = "↓"
	DeleteSymbol   = "✕"
)

// Direction names the side that is the source of truth.
type Direction string

const (
	FromLocal  Direction = "local"
	FromRemote Direction = "remote"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case FromLocal, FromRemote:
		return d, nil
	default:
		return "", fmt.Errorf("unknown sync direction %q", s)
	}
}

type SyncPolicy struct {
	Direction Direction
	// LocalProtection suppresses local deletions even when Direction implies them.
	LocalProtection bool
	// MaxUploadSize excludes larger local-only files from upload. Zero means DefaultMaxUploadSize.
	MaxUploadSize int64
}

func (p SyncPolicy) maxUploadSize() int64 {
	if p.MaxUploadSize <= 0 {
		return DefaultMaxUploadSize
	}
	return p.MaxUploadSize
}

type SkipReason string

const (
	SkipOversized        SkipReason = "oversized"
	SkipUnreadable       SkipReason = "unreadable"
	SkipListingTruncated SkipReason = "listing truncated"
)

type SkippedFile struct {
	Path   string
	Size   int64
	Reason SkipReason
}

// SyncPlan is the three-way diff of one cycle. A path appears in at most one
// of the action lists. Skipped is informational and never executed.
type SyncPlan struct {
	ToUpload   []*LocalRecord
	ToDownload []*RemoteRecord
	ToDelete   []Record
	Skipped    []SkippedFile
}

func (p *SyncPlan) IsInSync() bool {
	return p == nil || len(p.ToUpload)+len(p.ToDownload)+len(p.ToDelete) == 0
}

// Len is the number of actions in the plan.
func (p *SyncPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.ToUpload) + len(p.ToDownload) + len(p.ToDelete)
}

// Summary renders the plan as status text, e.g. "↑ 2 ↓ 1" or "in sync".
func (p *SyncPlan) Summary() string {
	if p.IsInSync() {
		return "in sync"
	}

	parts := make([]string, 0, 3)
	if n := len(p.ToUpload); n > 0 {
		parts = append(parts, UploadSymbol+" "+strconv.Itoa(n))
	}
	if n := len(p.ToDownload); n > 0 {
		parts = append(parts, DownloadSymbol+" "+strconv.Itoa(n))
	}
	if n := len(p.ToDelete); n > 0 {
		parts = append(parts, DeleteSymbol+" "+strconv.Itoa(n))
	}
	return strings.Join(parts, " ")
}
