package sync

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/openmined/bucketsync/internal/blob"
)

// upload puts a local file under the prefix. The Content-MD5 header is
// computed over the exact bytes sent. A file that cannot be read is skipped
// with a warning and (nil, nil) is returned.
func (e *Executor) upload(ctx context.Context, l *LocalRecord) (*RemoteRecord, error) {
	logger := loggerFrom(ctx)

	f, err := e.tree.Open(l.Path)
	if err != nil {
		e.skipUnreadable(ctx, l, err)
		return nil, nil
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		e.skipUnreadable(ctx, l, err)
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		e.skipUnreadable(ctx, l, err)
		return nil, nil
	}

	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	hash := NewContentHash(sum)

	key := e.prefix + l.Path
	resp, err := e.remote.PutObject(ctx, &blob.PutObjectParams{
		Key:        key,
		Size:       size,
		Body:       f,
		ContentMD5: hash.Base64(),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	logger.Info("sync", "op", OpWriteRemote, "path", l.Path, "key", key, "size", humanize.IBytes(uint64(size)))
	return &RemoteRecord{
		FileMeta: FileMeta{
			Path:         l.Path,
			Hash:         hash,
			LastModified: resp.LastModified,
			Size:         size,
		},
		Key: key,
	}, nil
}

func (e *Executor) skipUnreadable(ctx context.Context, l *LocalRecord, err error) {
	loggerFrom(ctx).Warn("sync", "op", OpSkipped, "path", l.Path, "reason", SkipUnreadable,
		"error", fmt.Errorf("%w: %w", ErrContentUnreadable, err))
	e.warn(l.Path, SkipUnreadable)
}
