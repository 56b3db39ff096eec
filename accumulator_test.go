// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"cmp"
	"errors"
	"testing"

	"github.com/gogpu/batch/gpucore"
)

// testVertex matches testSpec: two float32 components, 8-byte stride.
type testVertex struct {
	X, Y float32
}

// testUniform is the snapshot type used by the test accumulators.
type testUniform struct {
	Tint float32
}

// fixture wires a renderer, one accumulator and counters for its uniform
// callbacks over the mock device.
type fixture struct {
	dev *mockDevice
	r   *Renderer
	acc *Accumulator[testVertex, testUniform]

	tint         float32
	applies      []testUniform
	frameApplies int
	picks        []NodeID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dev: newMockDevice()}

	r, err := NewRenderer(f.dev, Options{RingCapacity: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	f.r = r
	t.Cleanup(r.Close)

	f.acc = f.newAccumulator(t)
	return f
}

// newAccumulator registers another accumulator sharing the fixture's
// counters.
func (f *fixture) newAccumulator(t *testing.T) *Accumulator[testVertex, testUniform] {
	t.Helper()
	prog, err := gpucore.LinkProgram(f.dev, "test_shader", "vs", "fs", "tint")
	if err != nil {
		t.Fatal(err)
	}
	acc, err := NewAccumulator[testVertex, testUniform](f.r, AccumulatorConfig[testVertex, testUniform]{
		Program: prog,
		Layout:  testSpec,
		Mode:    gpucore.DrawTriangles,
		Capture: func() testUniform { return testUniform{Tint: f.tint} },
		Order: func(a, b testUniform) int {
			return cmp.Compare(a.Tint, b.Tint)
		},
		Apply: func(_ gpucore.Device, _ *gpucore.Program, u testUniform) {
			f.applies = append(f.applies, u)
		},
		ApplyFrame: func(_ gpucore.Device, _ *gpucore.Program) {
			f.frameApplies++
		},
		ApplyPick: func(_ gpucore.Device, _ *gpucore.Program, r, g, b uint8) {
			f.picks = append(f.picks, DecodePickColor(r, g, b))
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

// render runs one frame with the given traversal.
func (f *fixture) render(t *testing.T, traverse func() error) {
	t.Helper()
	f.r.SetTraverser(TraverserFunc(func(_, _ int) error { return traverse() }))
	if _, err := f.r.RenderFrame(TargetScreen, 64, 64); err != nil {
		t.Fatal(err)
	}
}

// verts builds n distinct vertices.
func verts(n int) []testVertex {
	out := make([]testVertex, n)
	for i := range out {
		out[i] = testVertex{X: float32(i), Y: float32(-i)}
	}
	return out
}

func TestAccumulatorConfigValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := NewAccumulator[testVertex, testUniform](nil, AccumulatorConfig[testVertex, testUniform]{}); !errors.Is(err, ErrNilRenderer) {
		t.Errorf("nil renderer = %v, want ErrNilRenderer", err)
	}
	if _, err := NewAccumulator[testVertex, testUniform](f.r, AccumulatorConfig[testVertex, testUniform]{}); !errors.Is(err, ErrBadAccumulatorConfig) {
		t.Errorf("empty config = %v, want ErrBadAccumulatorConfig", err)
	}

	// Vertex type size must match the layout stride.
	type wide struct{ X, Y, Z float32 }
	_, err := NewAccumulator[wide, testUniform](f.r, AccumulatorConfig[wide, testUniform]{
		Program: f.acc.cfg.Program,
		Layout:  testSpec,
		Mode:    gpucore.DrawTriangles,
		Capture: func() testUniform { return testUniform{} },
		Order:   func(a, b testUniform) int { return 0 },
		Apply:   func(gpucore.Device, *gpucore.Program, testUniform) {},
	})
	if err == nil {
		t.Error("mismatched vertex size accepted")
	}
}

func TestConsecutiveDrawsFuse(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		if err := f.acc.Draw(verts(3)); err != nil {
			return err
		}
		return f.acc.Draw(verts(3))
	})

	stats := f.r.Stats()
	if stats.Records != 1 {
		t.Errorf("records = %d, want 1 (second draw should extend in place)", stats.Records)
	}
	if stats.DrawCalls != 1 {
		t.Errorf("draw calls = %d, want 1", stats.DrawCalls)
	}
	if stats.Vertices != 6 {
		t.Errorf("vertices = %d, want 6", stats.Vertices)
	}
}

func TestStateChangeSplitsBatch(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		f.tint = 0.25
		if err := f.acc.Draw(verts(8)); err != nil {
			return err
		}
		f.tint = 0.75
		f.acc.MarkUniformsDirty()
		return f.acc.Draw(verts(4))
	})

	stats := f.r.Stats()
	if stats.Records != 2 {
		t.Fatalf("records = %d, want 2", stats.Records)
	}
	if len(f.dev.draws) != 2 {
		t.Fatalf("device draws = %d, want 2", len(f.dev.draws))
	}
	if f.dev.draws[0].count != 8 || f.dev.draws[1].count != 4 {
		t.Errorf("draw counts = (%d, %d), want (8, 4)",
			f.dev.draws[0].count, f.dev.draws[1].count)
	}
	if len(f.applies) != 2 {
		t.Errorf("uniform applies = %d, want 2", len(f.applies))
	}
}

func TestDirtyWithoutChangeDoesNotSplit(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		if err := f.acc.Draw(verts(4)); err != nil {
			return err
		}
		// Dirty flag set but the captured state compares equal: the
		// snapshot is deduplicated and the batch keeps extending.
		f.acc.MarkUniformsDirty()
		return f.acc.Draw(verts(4))
	})
	if got := f.r.Stats().Records; got != 1 {
		t.Errorf("records = %d, want 1", got)
	}
}

func TestAlternatingShadersCoalesce(t *testing.T) {
	f := newFixture(t)
	b := f.newAccumulator(t)

	// Interleaved A/B/A/B at one Z-level sorts into two runs, one ring
	// draw each, instead of four state switches.
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		for i := 0; i < 2; i++ {
			if err := f.acc.Draw(verts(3)); err != nil {
				return err
			}
			if err := b.Draw(verts(3)); err != nil {
				return err
			}
		}
		return nil
	})

	stats := f.r.Stats()
	if stats.Records != 4 {
		t.Errorf("records = %d, want 4", stats.Records)
	}
	if stats.DrawCalls != 2 {
		t.Errorf("draw calls = %d, want 2", stats.DrawCalls)
	}
	for _, d := range f.dev.draws {
		if d.count != 6 {
			t.Errorf("draw count = %d, want 6 (two gathered records)", d.count)
		}
	}
}

func TestZLevelsIssueInOrder(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		// Issued out of order; the sort must restore ascending Z.
		f.r.BeginNode(1, true, 5)
		if err := f.acc.Draw(verts(3)); err != nil {
			return err
		}
		f.r.BeginNode(2, true, 1)
		return f.acc.Draw(verts(6))
	})

	if len(f.dev.draws) != 2 {
		t.Fatalf("device draws = %d, want 2", len(f.dev.draws))
	}
	if f.dev.draws[0].count != 6 || f.dev.draws[1].count != 3 {
		t.Errorf("issue order = (%d, %d) vertices, want (6, 3): Z=1 first",
			f.dev.draws[0].count, f.dev.draws[1].count)
	}
}

func TestSnapshotStablePerFrame(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		if err := f.acc.Draw(verts(3)); err != nil {
			return err
		}
		first := f.acc.SnapshotUniforms()
		for i := 0; i < 100; i++ {
			if got := f.acc.SnapshotUniforms(); got != first {
				t.Errorf("snapshot index changed without a state change: %d != %d", got, first)
			}
		}
		if f.acc.OrderUniforms(first, first) != 0 {
			t.Error("OrderUniforms(i, i) != 0")
		}
		return nil
	})
}

func TestApplyFrameOncePerFrame(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		f.tint = 0.1
		if err := f.acc.Draw(verts(3)); err != nil {
			return err
		}
		f.tint = 0.9
		f.acc.MarkUniformsDirty()
		return f.acc.Draw(verts(3))
	})
	if f.frameApplies != 1 {
		t.Errorf("per-frame applies = %d, want 1 (two runs, one frame)", f.frameApplies)
	}
}

func TestRetainedGeometryPushedOnce(t *testing.T) {
	f := newFixture(t)
	draw := true
	traverse := func() error {
		if draw {
			f.r.BeginNode(1, false, 0)
			return f.acc.Draw(verts(12))
		}
		return nil
	}

	f.render(t, traverse)
	if f.r.Pool().DeviceAllocs() != 1 {
		t.Fatalf("device allocs after first frame = %d, want 1", f.r.Pool().DeviceAllocs())
	}
	firstFrameDraws := len(f.dev.draws)

	// The geometry is device-resident; later frames draw it without
	// re-traversing or re-uploading.
	draw = false
	f.render(t, traverse)
	f.render(t, traverse)
	if f.r.Pool().DeviceAllocs() != 1 {
		t.Errorf("device allocs after three frames = %d, want 1", f.r.Pool().DeviceAllocs())
	}
	if len(f.dev.draws) != firstFrameDraws+2 {
		t.Errorf("device draws = %d, want %d (one per extra frame)",
			len(f.dev.draws), firstFrameDraws+2)
	}
	if f.r.Stats().Vertices != 12 {
		t.Errorf("frame vertices = %d, want 12", f.r.Stats().Vertices)
	}
}

func TestRetainedIndexedAbsoluteIndices(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, false, 0)
		// Two indexed quads; the second one's indices are span-relative
		// and must be rebased when flushed behind the first.
		if err := f.acc.DrawIndexed(verts(4), []uint32{0, 1, 2, 2, 1, 3}); err != nil {
			return err
		}
		return f.acc.DrawIndexed(verts(4), []uint32{0, 1, 2, 2, 1, 3})
	})

	va := f.dev.arrays[f.dev.boundVAO]
	if va == nil || va.index == gpucore.InvalidID {
		t.Fatal("no index buffer bound after retained indexed draw")
	}
	want := indexBytes([]uint32{0, 1, 2, 2, 1, 3, 4, 5, 6, 6, 5, 7})
	got := f.dev.buffers[va.index]
	if len(got) != len(want) {
		t.Fatalf("index buffer size = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index bytes differ at %d: %v != %v", i, got, want)
		}
	}
}

func TestStreamedIndexedDrawsAreExpanded(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(1, true, 0)
		return f.acc.DrawIndexed(verts(4), []uint32{0, 1, 2, 2, 1, 3})
	})

	// 6 indices into 4 vertices de-index into 6 streamed vertices.
	if f.r.Stats().Vertices != 6 {
		t.Errorf("vertices = %d, want 6", f.r.Stats().Vertices)
	}
	last := f.dev.draws[len(f.dev.draws)-1]
	if last.indexed {
		t.Error("streamed indexed draw reached the device as an indexed draw")
	}
	if last.count != 6 {
		t.Errorf("draw count = %d, want 6", last.count)
	}
}

func TestPickPassAppliesNodeColors(t *testing.T) {
	f := newFixture(t)
	f.render(t, func() error {
		f.r.BeginNode(3, true, 0)
		if err := f.acc.Draw(verts(3)); err != nil {
			return err
		}
		f.r.BeginNode(9, true, 0)
		return f.acc.Draw(verts(3))
	})
	f.r.SetTraverser(nil)
	if _, err := f.r.RenderFrame(TargetPick, 64, 64); err != nil {
		t.Fatal(err)
	}
	// Streamed records are retired with their frame; the pick frame has
	// no draws, so no pick colors are applied for them.
	if len(f.picks) != 0 {
		t.Errorf("picks for retired streamed records = %v", f.picks)
	}

	// Retained records survive into the pick frame, one color per node.
	f.picks = nil
	f.render(t, func() error {
		f.r.BeginNode(3, false, 0)
		if err := f.acc.Draw(verts(3)); err != nil {
			return err
		}
		f.r.BeginNode(9, false, 0)
		return f.acc.Draw(verts(3))
	})
	f.r.SetTraverser(nil)
	if _, err := f.r.RenderFrame(TargetPick, 64, 64); err != nil {
		t.Fatal(err)
	}
	if len(f.picks) != 2 || f.picks[0] != 3 || f.picks[1] != 9 {
		t.Errorf("pick colors = %v, want [3 9]", f.picks)
	}
}
