// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"errors"
	"unsafe"

	"github.com/gogpu/batch/gpucore"
)

// Accumulator errors.
var (
	// ErrNilRenderer is returned when creating an accumulator without a
	// renderer.
	ErrNilRenderer = errors.New("batch: renderer is nil")

	// ErrBadAccumulatorConfig is returned when a required configuration
	// field is missing.
	ErrBadAccumulatorConfig = errors.New("batch: incomplete accumulator config")
)

// noFrame is a frame marker that can never equal the renderer's frame
// counter, forcing the next SnapshotUniforms to capture.
const noFrame = ^uint64(0)

// shaderBatcher is the capability set the Renderer needs from every
// accumulator, independent of its vertex and uniform type parameters. The
// orchestrator holds a homogeneous slice of these and never needs
// compile-time knowledge of a specific variant.
type shaderBatcher interface {
	// orderUniforms totally orders two captured snapshots by index.
	orderUniforms(i, j int) int

	// flushRecord moves a retained record's staged data into a pool
	// buffer, rewriting its offsets to device addressing.
	flushRecord(rec *Record) error

	// issueRun submits a sorted run of records sharing uniform state
	// (and, in a pick pass, a node) as few device draws as possible.
	issueRun(recs []*Record, pick bool) error

	// cleanup discards per-frame staging at end of frame.
	cleanup()
}

// AccumulatorConfig describes one shader/vertex-layout pair to batch for.
//
// V is the vertex value type; it must be a plain fixed-size struct whose
// memory layout matches Layout, because vertex slices are reinterpreted as
// raw bytes for transfer. U is the uniform snapshot type: an immutable
// value capturing all per-draw constant state of the shader.
type AccumulatorConfig[V any, U any] struct {
	// Program is the linked shader program.
	Program *gpucore.Program

	// Layout describes the byte structure of V.
	Layout *gpucore.VertexSpec

	// Mode is the primitive topology of every draw from this
	// accumulator.
	Mode gpucore.DrawMode

	// Capture snapshots the current per-draw constant state.
	Capture func() U

	// Order is a total order over snapshots, used both to deduplicate
	// consecutive captures and to sort records so equal-state runs
	// become adjacent. Place the components most expensive to rebind
	// first so unequal snapshots compare fast.
	Order func(a, b U) int

	// Apply uploads a snapshot's state to the program's uniform slots.
	Apply func(dev gpucore.Device, p *gpucore.Program, u U)

	// ApplyFrame uploads per-frame constants (view transform and the
	// like). Guarded so it runs at most once per frame. Optional.
	ApplyFrame func(dev gpucore.Device, p *gpucore.Program)

	// ApplyPick uploads a node's false-color identity instead of the
	// regular snapshot during a pick pass. Accumulators without it are
	// skipped when picking. Optional.
	ApplyPick func(dev gpucore.Device, p *gpucore.Program, r, g, b uint8)
}

// Accumulator batches draws for one shader/vertex-layout pair.
//
// Vertex data is staged into a local array; uniform state is snapshotted
// and deduplicated; each draw either extends the most recent compatible
// batch record in place or allocates a new one. The heavy lifting —
// sorting, coalescing, device submission — happens when the Renderer
// issues the frame.
type Accumulator[V any, U any] struct {
	r     *Renderer
	index int
	cfg   AccumulatorConfig[V, U]

	verts    []V
	indices  []uint32
	uniforms []U

	// Frame markers, compared against the renderer's 64-bit frame counter
	// so they can never alias across frames.
	snapFrame   uint64 // frame of the cached snapshot
	snapIndex   int    // snapshot index returned while the cache holds
	frameMark   uint64 // frame whose per-frame constants were applied
	snapDirty   bool   // state changed since last capture
	hasRetained bool

	// scratch gathers non-adjacent vertex ranges contiguously for ring
	// submission.
	scratch []V
}

// NewAccumulator registers a new accumulator with the renderer.
func NewAccumulator[V any, U any](r *Renderer, cfg AccumulatorConfig[V, U]) (*Accumulator[V, U], error) {
	if r == nil {
		return nil, ErrNilRenderer
	}
	if cfg.Program == nil || cfg.Layout == nil || cfg.Mode == 0 ||
		cfg.Capture == nil || cfg.Order == nil || cfg.Apply == nil {
		return nil, ErrBadAccumulatorConfig
	}
	var v V
	if int(unsafe.Sizeof(v)) != cfg.Layout.Stride() {
		return nil, errors.New("batch: vertex type size does not match layout stride")
	}
	a := &Accumulator[V, U]{r: r, cfg: cfg, snapFrame: noFrame}
	a.index = r.registerBatcher(a)
	return a, nil
}

// Shader returns the accumulator's shader index within its renderer.
func (a *Accumulator[V, U]) Shader() int { return a.index }

// Draw appends vertices under the current node cursor.
//
// If the most recently allocated batch record was created by this
// accumulator for the same node, uniform snapshot, Z-level and streaming
// class, and has not been flushed to a device buffer, its count is
// extended in place — fusing consecutive same-state draws into one GPU
// call. Otherwise a new record is allocated.
func (a *Accumulator[V, U]) Draw(verts []V) error {
	if len(verts) == 0 {
		return nil
	}
	cur, err := a.r.cursorState()
	if err != nil {
		return err
	}
	u := a.SnapshotUniforms()

	if _, lr := a.r.arena.lastRecord(); lr != nil &&
		lr.Shader == a.index &&
		lr.Node == cur.node &&
		lr.Uniform == u &&
		lr.Buffer == 0 &&
		lr.Z == cur.z &&
		lr.Streaming == cur.streaming &&
		!lr.indexed() {
		lr.Count += len(verts)
		a.verts = append(a.verts, verts...)
		return nil
	}

	idx, rec := a.r.arena.alloc()
	*rec = Record{
		Node:       cur.node,
		Streaming:  cur.streaming,
		Z:          cur.z,
		Shader:     a.index,
		Uniform:    u,
		First:      len(a.verts),
		Count:      len(verts),
		IndexFirst: -1,
	}
	a.r.routeRecord(idx, rec)
	a.verts = append(a.verts, verts...)
	if !cur.streaming {
		a.hasRetained = true
	}
	return nil
}

// DrawIndexed appends vertices plus indices into them (relative to the
// start of the vertex span). Indexed draws always allocate a new record:
// index-offset continuity cannot be assumed, so there is no in-place
// extension.
func (a *Accumulator[V, U]) DrawIndexed(verts []V, indices []uint32) error {
	if len(indices) == 0 {
		return nil
	}
	cur, err := a.r.cursorState()
	if err != nil {
		return err
	}
	u := a.SnapshotUniforms()

	idx, rec := a.r.arena.alloc()
	*rec = Record{
		Node:       cur.node,
		Streaming:  cur.streaming,
		Z:          cur.z,
		Shader:     a.index,
		Uniform:    u,
		First:      len(a.verts),
		Count:      len(verts),
		IndexFirst: len(a.indices),
		IndexCount: len(indices),
	}
	a.r.routeRecord(idx, rec)
	a.verts = append(a.verts, verts...)
	a.indices = append(a.indices, indices...)
	if !cur.streaming {
		a.hasRetained = true
	}
	return nil
}

// SnapshotUniforms captures the current per-draw constant state and
// returns its snapshot index.
//
// The happy path is O(1) with no allocation: once stamped for the current
// frame, the cached index is returned until MarkUniformsDirty is called.
// A fresh capture equal to the immediately preceding snapshot (under the
// configured total order) is discarded and the previous index reused, so
// the snapshot list grows by at most one entry per actual state change.
func (a *Accumulator[V, U]) SnapshotUniforms() int {
	if a.snapFrame == a.r.frame && !a.snapDirty {
		return a.snapIndex
	}
	u := a.cfg.Capture()
	if n := len(a.uniforms); n > 0 && a.cfg.Order(a.uniforms[n-1], u) == 0 {
		a.snapIndex = n - 1
	} else {
		a.uniforms = append(a.uniforms, u)
		a.snapIndex = len(a.uniforms) - 1
	}
	a.snapFrame = a.r.frame
	a.snapDirty = false
	return a.snapIndex
}

// MarkUniformsDirty tells the accumulator that draw state changed since
// the last capture. The owner of the draw state must call this on every
// mutation; without it, SnapshotUniforms keeps returning the cached
// index for the rest of the frame.
func (a *Accumulator[V, U]) MarkUniformsDirty() { a.snapDirty = true }

// OrderUniforms totally orders two captured snapshots. OrderUniforms(i, i)
// is 0 for every valid index.
func (a *Accumulator[V, U]) OrderUniforms(i, j int) int {
	return a.cfg.Order(a.uniforms[i], a.uniforms[j])
}

// orderUniforms implements shaderBatcher.
func (a *Accumulator[V, U]) orderUniforms(i, j int) int { return a.OrderUniforms(i, j) }

// flushRecord copies a retained record's vertices (and indices) from the
// local staging arrays into the pool's open buffer for this layout and
// rewrites the record to device addressing. The pool buffer gains one
// reference per record flushed into it.
func (a *Accumulator[V, U]) flushRecord(rec *Record) error {
	buf := a.r.pool.Get(a.cfg.Layout)
	raw := vertexBytes(a.verts[rec.First : rec.First+rec.Count])
	off, err := a.r.pool.AddVertices(buf, raw)
	if err != nil {
		return err
	}
	if rec.indexed() {
		// Staged indices are span-relative; stored indices are absolute
		// vertex positions within the buffer.
		base := uint32(off / a.cfg.Layout.Stride())
		abs := make([]uint32, rec.IndexCount)
		for i, v := range a.indices[rec.IndexFirst : rec.IndexFirst+rec.IndexCount] {
			abs[i] = v + base
		}
		iOff, err := a.r.pool.AddIndices(buf, abs)
		if err != nil {
			return err
		}
		rec.IndexFirst = iOff
	}
	rec.Buffer = buf.Index()
	rec.First = off
	a.r.pool.Retain(buf)
	return nil
}

// issueRun submits a run of records sharing uniform state. The program is
// bound, per-frame constants applied at most once per frame, the shared
// snapshot (or pick color) applied once, then retained records are drawn
// from their pool buffers — merging buffer-contiguous neighbors — and
// streamed records are gathered contiguously and pushed through the ring
// as a single draw.
func (a *Accumulator[V, U]) issueRun(recs []*Record, pick bool) error {
	if len(recs) == 0 {
		return nil
	}
	if pick && a.cfg.ApplyPick == nil {
		return nil
	}
	dev := a.r.dev
	dev.UseProgram(a.cfg.Program.ID())

	if a.frameMark != a.r.frame {
		if a.cfg.ApplyFrame != nil {
			a.cfg.ApplyFrame(dev, a.cfg.Program)
			a.r.stats.UniformApplies++
		}
		a.frameMark = a.r.frame
	}
	if pick {
		cr, cg, cb := EncodePickColor(recs[0].Node)
		a.cfg.ApplyPick(dev, a.cfg.Program, cr, cg, cb)
	} else {
		a.cfg.Apply(dev, a.cfg.Program, a.uniforms[recs[0].Uniform])
	}
	a.r.stats.UniformApplies++

	i := 0
	for i < len(recs) {
		rec := recs[i]
		if rec.Buffer != 0 {
			n, err := a.issueRetained(recs[i:])
			if err != nil {
				return err
			}
			i += n
			continue
		}
		n, err := a.issueStreamed(recs[i:])
		if err != nil {
			return err
		}
		i += n
	}
	return nil
}

// issueRetained draws the leading retained records of the run, merging
// neighbors that are contiguous in the same pool buffer. Returns how many
// records were consumed.
func (a *Accumulator[V, U]) issueRetained(recs []*Record) (int, error) {
	stride := a.cfg.Layout.Stride()
	n := 0
	for n < len(recs) && recs[n].Buffer != 0 {
		first := recs[n]
		buf := a.r.pool.Buffer(first.Buffer)
		if buf == nil {
			return n, ErrBufferReleased
		}
		offset, count := first.First, first.Count
		iOff, iCount := first.IndexFirst, first.IndexCount
		n++
		for n < len(recs) {
			next := recs[n]
			if next.Buffer != first.Buffer {
				break
			}
			if first.indexed() {
				if !next.indexed() || next.IndexFirst != iOff+iCount {
					break
				}
				iCount += next.IndexCount
			} else {
				if next.indexed() || next.First != offset+count*stride {
					break
				}
				count += next.Count
			}
			n++
		}
		var err error
		if first.indexed() {
			err = a.r.pool.DrawIndexed(buf, a.cfg.Mode, iOff, iCount)
			a.r.stats.Vertices += iCount
		} else {
			err = a.r.pool.Draw(buf, a.cfg.Mode, offset, count)
			a.r.stats.Vertices += count
		}
		if err != nil {
			return n, err
		}
		a.r.stats.DrawCalls++
	}
	return n, nil
}

// issueStreamed gathers the leading streamed records of the run into the
// scratch array and submits them through the ring as one draw. Indexed
// streamed records are expanded (de-indexed) during the gather. Returns
// how many records were consumed.
func (a *Accumulator[V, U]) issueStreamed(recs []*Record) (int, error) {
	a.scratch = a.scratch[:0]
	n := 0
	for n < len(recs) && recs[n].Buffer == 0 {
		rec := recs[n]
		if rec.indexed() {
			span := a.verts[rec.First : rec.First+rec.Count]
			for _, idx := range a.indices[rec.IndexFirst : rec.IndexFirst+rec.IndexCount] {
				a.scratch = append(a.scratch, span[idx])
			}
		} else {
			a.scratch = append(a.scratch, a.verts[rec.First:rec.First+rec.Count]...)
		}
		n++
	}
	if len(a.scratch) == 0 {
		return n, nil
	}
	err := a.r.ring.Draw(a.cfg.Mode, vertexBytes(a.scratch), len(a.scratch), a.cfg.Layout)
	if err != nil {
		return n, err
	}
	a.r.pool.InvalidateBinding()
	a.r.stats.DrawCalls++
	a.r.stats.Vertices += len(a.scratch)
	return n, nil
}

// cleanup discards per-frame staging. The uniform snapshot list survives
// as long as retained records reference it; accumulators that never
// produced a retained record drop it too.
func (a *Accumulator[V, U]) cleanup() {
	a.verts = a.verts[:0]
	a.indices = a.indices[:0]
	if !a.hasRetained {
		a.uniforms = a.uniforms[:0]
		a.snapFrame = noFrame
	}
}

// vertexBytes reinterprets a vertex slice as its underlying bytes. V must
// be a fixed-size type with no pointers; NewAccumulator checks the size
// against the layout stride.
func vertexBytes[V any](s []V) []byte {
	if len(s) == 0 {
		return nil
	}
	var v V
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(v)))
}
