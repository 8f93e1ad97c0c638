// Package utils holds small helpers shared by the bucketsync packages.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogInterceptor is an io.Writer that prefixes every complete line with a
// sequence number and a timestamp before passing it to the target.
// Partial lines are held back until their newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending bytes.Buffer
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target: target,
		now:    time.Now,
	}
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	prefix := slog.Uint64("line", i.seq).String() + " " +
		slog.String("time", i.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(i.target, prefix); err != nil {
		return err
	}
	if _, err := i.target.Write(line); err != nil {
		return err
	}
	_, err := i.target.Write([]byte{'\n'})
	return err
}

// Write implements io.Writer. It always reports len(p) on success so callers
// such as slog handlers do not treat the prefixing as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(i.pending.Next(idx+1)[:idx], []byte{'\r'})
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line, if any.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	line := append([]byte(nil), i.pending.Bytes()...)
	i.pending.Reset()
	return i.writeLine(line)
}
