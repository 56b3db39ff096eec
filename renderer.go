// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"cmp"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/gogpu/batch/gpucore"
)

// Renderer errors.
var (
	// ErrNilDevice is returned when creating a renderer without a device.
	ErrNilDevice = errors.New("batch: device is nil")

	// ErrFrameInProgress is returned when RenderFrame re-enters while a
	// frame is being rendered.
	ErrFrameInProgress = errors.New("batch: frame already in progress")

	// ErrNoNode is returned when a draw arrives outside a BeginNode
	// bracket.
	ErrNoNode = errors.New("batch: draw outside BeginNode")

	// ErrNodeUnknown is returned when detaching a node that never drew.
	ErrNodeUnknown = errors.New("batch: unknown node")

	// ErrNoViewport is returned by Pick before any frame established a
	// viewport size.
	ErrNoViewport = errors.New("batch: no viewport rendered yet")

	// ErrPickOutOfBounds is returned when the pick position lies outside
	// the viewport.
	ErrPickOutOfBounds = errors.New("batch: pick position outside viewport")
)

// Target selects where a frame is rendered.
type Target int

const (
	// TargetScreen renders to the default on-screen framebuffer.
	TargetScreen Target = iota

	// TargetImage renders off-screen and reads the pixels back.
	TargetImage

	// TargetPick renders node identities as false colors into a hidden
	// framebuffer for position-to-object queries.
	TargetPick
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case TargetScreen:
		return "Screen"
	case TargetImage:
		return "Image"
	case TargetPick:
		return "Pick"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// framePhase tracks the frame state machine.
type framePhase int

const (
	phaseIdle framePhase = iota
	phaseBeginFrame
	phaseTraverse
	phaseSortAndIssue
	phaseReadback
)

// String returns the phase name.
func (p framePhase) String() string {
	switch p {
	case phaseIdle:
		return "Idle"
	case phaseBeginFrame:
		return "BeginFrame"
	case phaseTraverse:
		return "Traverse"
	case phaseSortAndIssue:
		return "SortAndIssue"
	case phaseReadback:
		return "Readback"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// Options configures a Renderer. The zero value selects defaults.
type Options struct {
	// RingCapacity is the stream ring size in bytes;
	// DefaultRingCapacity if <= 0. Must exceed the largest single-draw
	// streamed payload.
	RingCapacity int
}

// cursorState is the per-node draw context the traversal establishes
// before issuing draws.
type cursorState struct {
	node      NodeID
	streaming bool
	z         int
	set       bool
}

// nodeState holds a node's persistent (retained) batch records.
type nodeState struct {
	records []int
}

// Renderer drives the frame lifecycle: start-frame reset, scene
// traversal, sort-and-issue of all accumulated batches, and end-frame
// readback. It owns the batch-record arena, the accumulator set, the
// buffer pool and the stream ring.
//
// Renderer is single-threaded: all methods except the continuous-render
// pair must be called from the one rendering goroutine.
type Renderer struct {
	dev   gpucore.Device
	pool  *BufferPool
	ring  *StreamRing
	arena *recordArena

	accums    []shaderBatcher
	traverser Traverser

	nodes     map[NodeID]*nodeState
	nodeOrder []NodeID
	frameRecs []int

	frame uint64
	phase framePhase
	cur   cursorState

	view         View
	proj         [16]float32
	viewW, viewH int

	stats   FrameStats
	statsFn func(FrameStats)

	pickFB       gpucore.FramebufferID
	pickW, pickH int
	pickData     []byte
	pickValid    bool

	imageFB        gpucore.FramebufferID
	imageW, imageH int

	cont continuous

	// scratch slices reused across frames.
	issueScratch []int
	runScratch   []*Record
}

// NewRenderer creates a renderer over the given device.
func NewRenderer(dev gpucore.Device, opts Options) (*Renderer, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	propagateLogger(dev)
	r := &Renderer{
		dev:   dev,
		pool:  NewBufferPool(dev),
		ring:  NewStreamRing(dev, opts.RingCapacity),
		arena: newRecordArena(),
		nodes: make(map[NodeID]*nodeState),
		view:  View{Zoom: 1},
	}
	r.cont.init(r)
	return r, nil
}

// Pool returns the renderer's device buffer pool.
func (r *Renderer) Pool() *BufferPool { return r.pool }

// Ring returns the renderer's streaming transfer ring.
func (r *Renderer) Ring() *StreamRing { return r.ring }

// SetTraverser installs the scene-traversal entry point invoked each
// frame.
func (r *Renderer) SetTraverser(t Traverser) { r.traverser = t }

// SetView replaces the view transform and invalidates the cached pick
// buffer.
func (r *Renderer) SetView(v View) {
	r.view = v
	r.pickValid = false
}

// View returns the current view transform.
func (r *Renderer) View() View { return r.view }

// Projection returns the projection matrix computed for the frame being
// rendered. Valid from BeginFrame on; ApplyFrame callbacks typically
// upload it.
func (r *Renderer) Projection() *[16]float32 { return &r.proj }

// Frame returns the current frame number.
func (r *Renderer) Frame() uint64 { return r.frame }

// Stats returns the statistics of the most recently completed frame.
func (r *Renderer) Stats() FrameStats { return r.stats }

// OnFrameStats installs an observer invoked with each completed frame's
// statistics from the rendering goroutine.
func (r *Renderer) OnFrameStats(fn func(FrameStats)) { r.statsFn = fn }

// registerBatcher adds an accumulator to the orchestrated set and returns
// its shader index.
func (r *Renderer) registerBatcher(b shaderBatcher) int {
	r.accums = append(r.accums, b)
	return len(r.accums) - 1
}

// BeginNode establishes the draw context for subsequent accumulator
// draws: the owning node identity, whether its geometry is streaming or
// retained, and its depth level. Called by the traversal before each
// node's draws.
func (r *Renderer) BeginNode(id NodeID, streaming bool, z int) {
	r.cur = cursorState{node: id, streaming: streaming, z: z, set: true}
	if !streaming {
		if _, ok := r.nodes[id]; !ok {
			r.nodes[id] = &nodeState{}
			r.nodeOrder = append(r.nodeOrder, id)
		}
	}
}

// cursorState returns the current node context; draws outside a
// BeginNode bracket are programming errors.
func (r *Renderer) cursorState() (cursorState, error) {
	if !r.cur.set {
		return cursorState{}, ErrNoNode
	}
	return r.cur, nil
}

// routeRecord files a freshly allocated record: streaming records go to
// the per-frame staging list and are retired at end of frame; retained
// records join their node's persistent list.
func (r *Renderer) routeRecord(idx int, rec *Record) {
	if rec.Streaming {
		r.frameRecs = append(r.frameRecs, idx)
		return
	}
	ns := r.nodes[rec.Node]
	if ns == nil {
		ns = &nodeState{}
		r.nodes[rec.Node] = ns
		r.nodeOrder = append(r.nodeOrder, rec.Node)
	}
	ns.records = append(ns.records, idx)
	r.pickValid = false
}

// DetachNode retires a node's retained batch records and releases the
// pool buffers they reference.
func (r *Renderer) DetachNode(id NodeID) error {
	ns, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeUnknown, id)
	}
	var firstErr error
	for _, idx := range ns.records {
		rec := r.arena.get(idx)
		if rec != nil && rec.Buffer != 0 {
			if buf := r.pool.Buffer(rec.Buffer); buf != nil {
				if err := r.pool.Release(buf); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
		r.arena.retire(idx)
	}
	delete(r.nodes, id)
	if i := slices.Index(r.nodeOrder, id); i >= 0 {
		r.nodeOrder = slices.Delete(r.nodeOrder, i, i+1)
	}
	r.pickValid = false
	return firstErr
}

// RenderFrame renders one frame to the given target.
//
// For TargetImage the rendered pixels are returned; for TargetScreen and
// TargetPick the returned image is nil. A configuration error (ring
// overflow, framebuffer validation) aborts the frame; there is no
// partial-frame recovery.
func (r *Renderer) RenderFrame(target Target, width, height int) (*image.RGBA, error) {
	if r.phase != phaseIdle {
		return nil, ErrFrameInProgress
	}
	img, err := r.renderFrame(target, width, height)
	r.phase = phaseIdle
	if err != nil {
		return nil, err
	}
	r.cont.frameCompleted()
	return img, nil
}

func (r *Renderer) renderFrame(target Target, width, height int) (*image.RGBA, error) {
	r.frame++
	r.phase = phaseBeginFrame
	r.stats = FrameStats{Frame: r.frame}
	r.viewW, r.viewH = width, height
	r.proj = r.view.ProjectionMatrix(width, height)
	r.arena.closeLast()
	r.cur = cursorState{}

	if err := r.bindTarget(target, width, height); err != nil {
		return nil, fmt.Errorf("frame %d (%s): %w", r.frame, target, err)
	}
	r.dev.Viewport(width, height)
	if target == TargetPick {
		// Zero clears decode to "no node".
		r.dev.Clear(0, 0, 0, 0)
	} else {
		r.dev.Clear(0, 0, 0, 1)
	}

	r.phase = phaseTraverse
	if r.traverser != nil {
		if err := r.traverser.Traverse(width, height); err != nil {
			r.endFrame()
			return nil, fmt.Errorf("frame %d traverse: %w", r.frame, err)
		}
	}

	r.phase = phaseSortAndIssue
	if err := r.issue(target == TargetPick); err != nil {
		r.endFrame()
		return nil, fmt.Errorf("frame %d issue: %w", r.frame, err)
	}

	r.phase = phaseReadback
	var img *image.RGBA
	r.dev.Flush()
	switch target {
	case TargetImage:
		px, err := r.dev.ReadPixels(0, 0, width, height)
		if err != nil {
			r.endFrame()
			return nil, fmt.Errorf("frame %d readback: %w", r.frame, err)
		}
		img = &image.RGBA{Pix: px, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}
	case TargetPick:
		px, err := r.dev.ReadPixels(0, 0, width, height)
		if err != nil {
			r.endFrame()
			return nil, fmt.Errorf("frame %d pick readback: %w", r.frame, err)
		}
		r.pickData = px
		r.pickW, r.pickH = width, height
		r.pickValid = true
	case TargetScreen:
		// Screen frames may change what a pick would see.
		r.pickValid = false
	}

	r.endFrame()
	Logger().Debug("frame completed",
		slog.Uint64("frame", r.frame),
		slog.String("target", target.String()),
		slog.Int("draws", r.stats.DrawCalls),
		slog.Int("vertices", r.stats.Vertices))
	if r.statsFn != nil {
		r.statsFn(r.stats)
	}
	return img, nil
}

// bindTarget binds the frame's render target, creating and validating
// off-screen framebuffers on first use or resize. Validation failure is a
// fatal configuration error.
func (r *Renderer) bindTarget(target Target, width, height int) error {
	switch target {
	case TargetScreen:
		r.dev.BindFramebuffer(gpucore.InvalidID)
	case TargetImage:
		if r.imageFB == gpucore.InvalidID || r.imageW != width || r.imageH != height {
			if r.imageFB != gpucore.InvalidID {
				r.dev.DestroyFramebuffer(r.imageFB)
				r.imageFB = gpucore.InvalidID
			}
			fb, err := r.dev.CreateFramebuffer(width, height)
			if err != nil {
				return fmt.Errorf("image framebuffer %dx%d: %w", width, height, err)
			}
			r.imageFB = fb
			r.imageW, r.imageH = width, height
		}
		r.dev.BindFramebuffer(r.imageFB)
	case TargetPick:
		if r.pickFB == gpucore.InvalidID || r.pickW != width || r.pickH != height {
			if r.pickFB != gpucore.InvalidID {
				r.dev.DestroyFramebuffer(r.pickFB)
				r.pickFB = gpucore.InvalidID
			}
			fb, err := r.dev.CreateFramebuffer(width, height)
			if err != nil {
				return fmt.Errorf("pick framebuffer %dx%d: %w", width, height, err)
			}
			r.pickFB = fb
		}
		r.dev.BindFramebuffer(r.pickFB)
	}
	return nil
}

// issue is the sort-and-issue phase: flush retained records that still
// live in accumulator staging into pool buffers, sort all live records by
// (Z, shader, uniform order), and submit coalesced runs.
func (r *Renderer) issue(pick bool) error {
	recs := r.collectRecords()
	if len(recs) == 0 {
		return nil
	}

	for _, idx := range recs {
		rec := r.arena.get(idx)
		if !rec.Streaming && rec.Buffer == 0 {
			if err := r.accums[rec.Shader].flushRecord(rec); err != nil {
				return err
			}
		}
	}

	slices.SortStableFunc(recs, func(x, y int) int {
		a, b := r.arena.get(x), r.arena.get(y)
		if c := cmp.Compare(a.Z, b.Z); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Shader, b.Shader); c != 0 {
			return c
		}
		if a.Uniform != b.Uniform {
			if c := r.accums[a.Shader].orderUniforms(a.Uniform, b.Uniform); c != 0 {
				return c
			}
		}
		if pick {
			if c := cmp.Compare(a.Node, b.Node); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.Buffer, b.Buffer); c != 0 {
			return c
		}
		if a.indexed() && b.indexed() {
			return cmp.Compare(a.IndexFirst, b.IndexFirst)
		}
		return cmp.Compare(a.First, b.First)
	})

	start := 0
	for i := 1; i <= len(recs); i++ {
		if i < len(recs) && r.sameRun(recs[start], recs[i], pick) {
			continue
		}
		run := r.runScratch[:0]
		for _, idx := range recs[start:i] {
			run = append(run, r.arena.get(idx))
		}
		r.runScratch = run
		r.stats.Records += len(run)
		if err := r.accums[run[0].Shader].issueRun(run, pick); err != nil {
			return err
		}
		start = i
	}
	return nil
}

// sameRun reports whether two records can share one state application:
// same Z-level, same shader, equal uniform state under the accumulator's
// total order, and in a pick pass the same node (pick color is per node).
func (r *Renderer) sameRun(x, y int, pick bool) bool {
	a, b := r.arena.get(x), r.arena.get(y)
	if a.Z != b.Z || a.Shader != b.Shader {
		return false
	}
	if pick && a.Node != b.Node {
		return false
	}
	if a.Uniform == b.Uniform {
		return true
	}
	return r.accums[a.Shader].orderUniforms(a.Uniform, b.Uniform) == 0
}

// collectRecords gathers this frame's issue set: the streaming records
// staged during traversal plus every attached node's retained records.
func (r *Renderer) collectRecords() []int {
	recs := r.issueScratch[:0]
	recs = append(recs, r.frameRecs...)
	for _, id := range r.nodeOrder {
		recs = append(recs, r.nodes[id].records...)
	}
	r.issueScratch = recs
	return recs
}

// endFrame retires streaming records and clears accumulator staging.
// Retained records that never reached a pool buffer are retired too:
// their First/Count still point into the staging arrays being discarded,
// so carrying them into the next frame would flush another frame's
// vertices under their node. This only happens on aborted frames; after
// a successful issue every retained record is device-resident.
func (r *Renderer) endFrame() {
	for _, idx := range r.frameRecs {
		r.arena.retire(idx)
	}
	r.frameRecs = r.frameRecs[:0]
	for _, id := range r.nodeOrder {
		ns := r.nodes[id]
		kept := ns.records[:0]
		for _, idx := range ns.records {
			rec := r.arena.get(idx)
			if rec == nil || rec.Buffer == 0 {
				r.arena.retire(idx)
				continue
			}
			kept = append(kept, idx)
		}
		ns.records = kept
	}
	for _, a := range r.accums {
		a.cleanup()
	}
	r.cur = cursorState{}
}

// Pick resolves the node at a viewport pixel. The false-color pick buffer
// is rendered on demand and cached; repeated queries between scene or
// view changes cost one buffer lookup.
func (r *Renderer) Pick(x, y int) (NodeID, bool, error) {
	if r.viewW == 0 || r.viewH == 0 {
		return 0, false, ErrNoViewport
	}
	if !r.pickValid {
		if _, err := r.RenderFrame(TargetPick, r.viewW, r.viewH); err != nil {
			return 0, false, err
		}
	}
	if x < 0 || y < 0 || x >= r.pickW || y >= r.pickH {
		return 0, false, fmt.Errorf("%w: (%d,%d) in %dx%d", ErrPickOutOfBounds, x, y, r.pickW, r.pickH)
	}
	off := 4 * (y*r.pickW + x)
	id := DecodePickColor(r.pickData[off], r.pickData[off+1], r.pickData[off+2])
	if id == 0 {
		return 0, false, nil
	}
	return id, true, nil
}

// InvalidatePick drops the cached pick buffer; the next Pick renders a
// fresh one. Call when the scene changes outside the renderer's view.
func (r *Renderer) InvalidatePick() { r.pickValid = false }

// Close tears down all device resources owned by the renderer.
func (r *Renderer) Close() {
	r.cont.stopAll()
	if r.pickFB != gpucore.InvalidID {
		r.dev.DestroyFramebuffer(r.pickFB)
		r.pickFB = gpucore.InvalidID
	}
	if r.imageFB != gpucore.InvalidID {
		r.dev.DestroyFramebuffer(r.imageFB)
		r.imageFB = gpucore.InvalidID
	}
	r.ring.Close()
	r.pool.Close()
}
