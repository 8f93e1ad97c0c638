package sync

import (
	"context"
	"fmt"
)

// delete removes a record on its own side. Local files go to the vault trash
// so they can be recovered; remote objects are deleted permanently.
func (e *Executor) delete(ctx context.Context, rec Record) error {
	logger := loggerFrom(ctx)

	switch r := rec.(type) {
	case *LocalRecord:
		dest, err := e.tree.Trash(r.Path)
		if err != nil {
			return fmt.Errorf("trash: %w", err)
		}
		logger.Warn("sync", "op", OpDeleteLocal, "path", r.Path, "trash", dest)

	case *RemoteRecord:
		if _, err := e.remote.DeleteObject(ctx, r.Key); err != nil {
			return fmt.Errorf("delete object: %w", err)
		}
		logger.Info("sync", "op", OpDeleteRemote, "path", r.Path, "key", r.Key)

	default:
		return fmt.Errorf("unknown record origin %q", rec.Origin())
	}
	return nil
}
