package utils

import (
	"context"
	"errors"
	"log/slog"
)

// MultiLogHandler fans a record out to several slog handlers,
// e.g. the terminal and the log file.
type MultiLogHandler struct {
	handlers []slog.Handler
}

func NewMultiLogHandler(handlers ...slog.Handler) *MultiLogHandler {
	return &MultiLogHandler{handlers: handlers}
}

func (h *MultiLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes a clone of r to every handler that accepts its level.
// All handlers are tried; their errors are joined.
func (h *MultiLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MultiLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h *MultiLogHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h *MultiLogHandler) derive(fn func(slog.Handler) slog.Handler) *MultiLogHandler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = fn(handler)
	}
	return NewMultiLogHandler(handlers...)
}
