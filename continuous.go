// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"log/slog"
	"sync"
	"time"
)

// watchdogDelay is how long after a completed frame the continuous
// scheduler waits before concluding the render loop has stalled and
// nudging it again.
const watchdogDelay = 50 * time.Millisecond

// continuous schedules repeated frames for animation-style clients. Each
// StartContinuous registers a callback that requests the next frame; the
// renderer invokes all registered callbacks after every completed frame.
// A watchdog re-invokes them if no frame lands within watchdogDelay, so a
// dropped external frame request cannot park an animation forever.
//
// Registration and cancellation may come from any goroutine; the
// callbacks themselves run on the rendering goroutine or the watchdog
// timer goroutine.
type continuous struct {
	r *Renderer

	mu       sync.Mutex
	handles  map[int]func()
	next     int
	watchdog *time.Timer
}

func (c *continuous) init(r *Renderer) {
	c.r = r
	c.handles = make(map[int]func())
}

// StartContinuous registers a frame-request callback and returns a handle
// for StopContinuous. Continuous rendering runs while at least one
// registration is live.
func (r *Renderer) StartContinuous(requestFrame func()) int {
	c := &r.cont
	c.mu.Lock()
	c.next++
	h := c.next
	c.handles[h] = requestFrame
	n := len(c.handles)
	// Guard the initial request too: if the host drops it no frame ever
	// completes, and frameCompleted would never arm the watchdog.
	if c.watchdog == nil {
		c.watchdog = time.AfterFunc(watchdogDelay, c.watchdogFired)
	}
	c.mu.Unlock()
	Logger().Debug("continuous render started", slog.Int("handle", h), slog.Int("active", n))
	if n == 1 {
		requestFrame()
	}
	return h
}

// StopContinuous cancels a StartContinuous registration. Unknown handles
// are ignored so double-stop is harmless.
func (r *Renderer) StopContinuous(handle int) {
	c := &r.cont
	c.mu.Lock()
	delete(c.handles, handle)
	n := len(c.handles)
	if n == 0 && c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()
	Logger().Debug("continuous render stopped", slog.Int("handle", handle), slog.Int("active", n))
}

// frameCompleted runs after each successful frame: fire the registered
// frame requests and arm the watchdog for the frame they should produce.
func (c *continuous) frameCompleted() {
	c.mu.Lock()
	if len(c.handles) == 0 {
		c.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(c.handles))
	for _, fn := range c.handles {
		fns = append(fns, fn)
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = time.AfterFunc(watchdogDelay, c.watchdogFired)
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// watchdogFired re-issues the frame requests after a stall.
func (c *continuous) watchdogFired() {
	c.mu.Lock()
	if len(c.handles) == 0 {
		c.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(c.handles))
	for _, fn := range c.handles {
		fns = append(fns, fn)
	}
	c.watchdog = time.AfterFunc(watchdogDelay, c.watchdogFired)
	c.mu.Unlock()

	Logger().Debug("continuous render watchdog fired", slog.Int("active", len(fns)))
	for _, fn := range fns {
		fn()
	}
}

// stopAll cancels every registration and the watchdog. Used at renderer
// teardown.
func (c *continuous) stopAll() {
	c.mu.Lock()
	clear(c.handles)
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()
}
