package sync

import (
	"errors"
	"fmt"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	// ErrContentUnreadable marks a local file that could not be read for upload.
	// It is reported as a warning and never fails a batch.
	ErrContentUnreadable = errors.New("content unreadable")
)

// RemoteListError aborts a cycle when the bucket listing fails.
type RemoteListError struct {
	Prefix string
	Page   int
	Err    error
}

func (e *RemoteListError) Error() string {
	return fmt.Sprintf("list remote %q page %d: %v", e.Prefix, e.Page, e.Err)
}

func (e *RemoteListError) Unwrap() error {
	return e.Err
}

// BatchError is the first failure of an execution. Operations that completed
// before it are kept; later batches and phases are not attempted.
type BatchError struct {
	Phase Phase
	Batch int
	Path  string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch %d: %s: %v", e.Phase, e.Batch, e.Path, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
