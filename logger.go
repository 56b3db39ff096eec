// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for batch and all its sub-packages.
// By default, batch produces no log output. Call SetLogger to enable it.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically. Pass nil to disable logging (restore the default silent
// behavior).
//
// Log levels used by batch:
//   - [slog.LevelDebug]: per-frame diagnostics (record counts, ring orphans)
//   - [slog.LevelInfo]: lifecycle events (buffer pushed to device)
//   - [slog.LevelWarn]: non-fatal issues (release of an unpushed buffer)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	// Backends registered before this call keep logging through their own
	// reference, so push the new logger to each of them.
	setterMu.Lock()
	defer setterMu.Unlock()
	for _, ls := range setters {
		ls.SetLogger(l)
	}
}

// Logger returns the current logger used by batch. Sub-packages
// (backend/native) call this to share the same logger configuration
// without introducing import cycles.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by device backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// Registered backends, so SetLogger can reach devices created before it
// was called.
var (
	setterMu sync.Mutex
	setters  []loggerSetter
)

// propagateLogger passes the current logger to a device backend if it
// implements the loggerSetter interface, and registers the backend so
// later SetLogger calls reach it too. Called when a Renderer is
// constructed.
func propagateLogger(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	setterMu.Lock()
	known := false
	for _, s := range setters {
		if s == ls {
			known = true
			break
		}
	}
	if !known {
		setters = append(setters, ls)
	}
	setterMu.Unlock()
	ls.SetLogger(Logger())
}
