package sync

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/dustin/go-humanize"
)

var ErrDigestMismatch = errors.New("downloaded content does not match remote etag")

// download streams an object into the tree. Parent directories are created
// for new files; existing files are replaced atomically by the tree, and only
// after the content matched the object's etag.
func (e *Executor) download(ctx context.Context, r *RemoteRecord) (*LocalRecord, error) {
	resp, err := e.remote.GetObject(ctx, r.Key)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer resp.Body.Close()

	if _, err := e.tree.Stat(r.Path); err != nil {
		if dir := path.Dir(r.Path); dir != "." {
			if err := e.tree.CreateDir(dir); err != nil {
				return nil, fmt.Errorf("create dir: %w", err)
			}
		}
	}

	h := md5.New()
	var written ContentHash
	verify := func() error {
		var sum [md5.Size]byte
		copy(sum[:], h.Sum(nil))
		written = NewContentHash(sum)
		if ParseETag(resp.ETag).Differs(written) {
			return fmt.Errorf("%w: %s", ErrDigestMismatch, r.Key)
		}
		return nil
	}

	info, err := e.tree.WriteFile(r.Path, io.TeeReader(resp.Body, h), verify)
	if errors.Is(err, ErrDigestMismatch) {
		return nil, err
	} else if err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	loggerFrom(ctx).Info("sync", "op", OpWriteLocal, "path", r.Path, "size", humanize.IBytes(uint64(info.Size)))
	return newLocalRecord(info, written), nil
}
