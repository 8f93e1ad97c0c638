package sync

import (
	"context"
	"log/slog"
)

type OpType string

const (
	OpWriteLocal   OpType = "WriteLocal"
	OpWriteRemote  OpType = "WriteRemote"
	OpDeleteLocal  OpType = "DeleteLocal"
	OpDeleteRemote OpType = "DeleteRemote"
	OpSkipped      OpType = "Skipped"
)

// Phase is one ordered step of an execution.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
	PhaseDelete   Phase = "delete"
)

type loggerKey struct{}

// withLogger attaches a cycle scoped logger to ctx.
func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
