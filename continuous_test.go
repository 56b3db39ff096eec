// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartContinuousRequestsFirstFrame(t *testing.T) {
	f := newFixture(t)
	var requests atomic.Int32
	h := f.r.StartContinuous(func() { requests.Add(1) })
	defer f.r.StopContinuous(h)
	if requests.Load() != 1 {
		t.Fatalf("requests after start = %d, want 1", requests.Load())
	}
}

func TestContinuousRequestsAfterEachFrame(t *testing.T) {
	f := newFixture(t)
	var requests atomic.Int32
	h := f.r.StartContinuous(func() { requests.Add(1) })
	defer f.r.StopContinuous(h)

	for i := 0; i < 3; i++ {
		if _, err := f.r.RenderFrame(TargetScreen, 64, 64); err != nil {
			t.Fatal(err)
		}
	}
	// One request at start plus one per completed frame.
	if requests.Load() != 4 {
		t.Errorf("requests = %d, want 4", requests.Load())
	}
}

func TestStopContinuousHaltsRequests(t *testing.T) {
	f := newFixture(t)
	var requests atomic.Int32
	h := f.r.StartContinuous(func() { requests.Add(1) })
	f.r.StopContinuous(h)
	before := requests.Load()

	if _, err := f.r.RenderFrame(TargetScreen, 64, 64); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != before {
		t.Error("frame after stop still produced a request")
	}

	// Double stop is harmless.
	f.r.StopContinuous(h)
}

func TestContinuousWatchdogRecovers(t *testing.T) {
	f := newFixture(t)
	var requests atomic.Int32
	h := f.r.StartContinuous(func() { requests.Add(1) })
	defer f.r.StopContinuous(h)

	// Complete one frame, then drop the resulting request on the floor.
	if _, err := f.r.RenderFrame(TargetScreen, 64, 64); err != nil {
		t.Fatal(err)
	}
	n := requests.Load()

	// The watchdog must re-request within a few of its periods.
	deadline := time.Now().Add(20 * watchdogDelay)
	for requests.Load() == n {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never re-requested a frame")
		}
		time.Sleep(watchdogDelay / 5)
	}
}

func TestWatchdogGuardsInitialRequest(t *testing.T) {
	f := newFixture(t)
	var requests atomic.Int32
	h := f.r.StartContinuous(func() { requests.Add(1) })
	defer f.r.StopContinuous(h)

	// Drop the initial request on the floor and never render: the
	// watchdog alone must nudge the loop back to life.
	deadline := time.Now().Add(20 * watchdogDelay)
	for requests.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never re-requested after the initial request was dropped")
		}
		time.Sleep(watchdogDelay / 5)
	}
}

func TestContinuousMultipleClients(t *testing.T) {
	f := newFixture(t)
	var a, b atomic.Int32
	ha := f.r.StartContinuous(func() { a.Add(1) })
	hb := f.r.StartContinuous(func() { b.Add(1) })
	defer f.r.StopContinuous(hb)

	if _, err := f.r.RenderFrame(TargetScreen, 64, 64); err != nil {
		t.Fatal(err)
	}
	if a.Load() < 2 || b.Load() < 1 {
		t.Errorf("requests = (%d, %d), want both notified", a.Load(), b.Load())
	}

	f.r.StopContinuous(ha)
	an := a.Load()
	if _, err := f.r.RenderFrame(TargetScreen, 64, 64); err != nil {
		t.Fatal(err)
	}
	if a.Load() != an {
		t.Error("stopped client still notified")
	}
	if b.Load() < 2 {
		t.Error("remaining client not notified")
	}
}
