package sync

import (
	"context"
	"io"
	"time"

	"github.com/openmined/bucketsync/internal/workspace"
)

// Origin tags which side a record was inventoried from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// FileMeta is the shape shared by local and remote records. Path is the
// logical path, the join key between the two inventories.
type FileMeta struct {
	Path         string
	Hash         ContentHash
	LastModified time.Time
	Size         int64
}

// Record is either a *LocalRecord or a *RemoteRecord.
type Record interface {
	Meta() FileMeta
	Origin() Origin
}

type LocalRecord struct {
	FileMeta
	AbsPath string
}

func (r *LocalRecord) Meta() FileMeta { return r.FileMeta }
func (r *LocalRecord) Origin() Origin { return OriginLocal }

type RemoteRecord struct {
	FileMeta
	Key string
}

func (r *RemoteRecord) Meta() FileMeta { return r.FileMeta }
func (r *RemoteRecord) Origin() Origin { return OriginRemote }

// LocalTree is the host file tree the engine synchronizes.
// It is implemented by *workspace.Vault.
type LocalTree interface {
	ListFiles(ctx context.Context) ([]*workspace.FileInfo, error)
	Stat(path string) (*workspace.FileInfo, error)
	Open(path string) (io.ReadSeekCloser, error)
	// WriteFile calls verify, when set, after the content is on disk and
	// before it replaces path. A verify error leaves path untouched.
	WriteFile(path string, r io.Reader, verify func() error) (*workspace.FileInfo, error)
	CreateDir(path string) error
	Trash(path string) (string, error)
	ShouldIgnore(path string) bool
}

var _ LocalTree = (*workspace.Vault)(nil)

func newLocalRecord(file *workspace.FileInfo, hash ContentHash) *LocalRecord {
	return &LocalRecord{
		FileMeta: FileMeta{
			Path:         file.Path,
			Hash:         hash,
			LastModified: file.ModTime,
			Size:         file.Size,
		},
		AbsPath: file.AbsPath,
	}
}
