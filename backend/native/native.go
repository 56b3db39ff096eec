// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/batch/gpucore"
)

// Backend errors.
var (
	// ErrNilHALDevice is returned when creating a device without HAL
	// handles.
	ErrNilHALDevice = errors.New("native: HAL device is nil")

	// ErrNoHALProvider is returned when a provider does not expose HAL
	// types.
	ErrNoHALProvider = errors.New("native: provider does not expose HAL device and queue")

	// ErrUnknownBuffer is returned when an operation references a buffer
	// ID the device does not know.
	ErrUnknownBuffer = errors.New("native: unknown buffer")

	// ErrNotMapped is returned when Unmap is called on an unmapped buffer.
	ErrNotMapped = errors.New("native: buffer is not mapped")

	// ErrBadMapRange is returned when a map request lies outside the
	// buffer.
	ErrBadMapRange = errors.New("native: map range out of bounds")
)

// Ensure Device satisfies the batching layer's device contract.
var _ gpucore.Device = (*Device)(nil)

// buffer tracks one device buffer and its CPU-side mapping shadow.
type buffer struct {
	handle hal.Buffer
	size   int
	usage  gputypes.BufferUsage

	mapped bool
	mapOff int
	shadow []byte
}

// vertexArray is the recorded vertex-state association: a buffer, the
// layout of its vertices, the byte offset of the first vertex, and an
// optional index buffer.
type vertexArray struct {
	buf    *buffer
	spec   *gpucore.VertexSpec
	offset int
	index  *buffer
}

// framebuffer is an off-screen color target. All targets are single
// sample BGRA8 with CopySrc usage so they can be read back.
type framebuffer struct {
	tex    hal.Texture
	view   hal.TextureView
	width  int
	height int
}

// Device implements gpucore.Device over gogpu/wgpu's HAL.
//
// Like the batching layer above it, Device is driven from a single
// rendering goroutine and is not safe for concurrent use.
type Device struct {
	hal   hal.Device
	queue hal.Queue
	log   *slog.Logger

	nextID   uint64
	buffers  map[gpucore.BufferID]*buffer
	arrays   map[gpucore.VertexArrayID]*vertexArray
	programs map[gpucore.ProgramID]*program
	frames   map[gpucore.FramebufferID]*framebuffer

	pipelines map[pipelineKey]hal.RenderPipeline

	// Current state.
	bound      *vertexArray
	transient  vertexArray
	curProgram *program
	target     *framebuffer // nil selects the default target
	defaultFB  *framebuffer
	viewW      int
	viewH      int

	// Recorded frame, encoded at Flush or ReadPixels.
	clearColor gputypes.Color
	hasClear   bool
	draws      []drawCmd

	// Orphaned HAL buffers; recorded draws may still reference their
	// storage, so destruction waits for the next submit's fence.
	retired []hal.Buffer
}

// New creates a Device from a shared GPU provider (e.g. a gogpu window
// context). The provider must expose HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue.
func New(provider any) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}
	return NewWithHAL(device, queue)
}

// NewFromContext creates a Device from a gpucontext provider, the
// integration point host applications already hold (e.g. from
// gogpu.App.GPUContextProvider()). The provider must additionally
// implement the HAL bridge methods accepted by New.
func NewFromContext(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, ErrNoHALProvider
	}
	return New(provider)
}

// NewWithHAL creates a Device over explicit HAL handles.
func NewWithHAL(device hal.Device, queue hal.Queue) (*Device, error) {
	if device == nil || queue == nil {
		return nil, ErrNilHALDevice
	}
	return &Device{
		hal:       device,
		queue:     queue,
		log:       slog.New(slog.DiscardHandler),
		buffers:   make(map[gpucore.BufferID]*buffer),
		arrays:    make(map[gpucore.VertexArrayID]*vertexArray),
		programs:  make(map[gpucore.ProgramID]*program),
		frames:    make(map[gpucore.FramebufferID]*framebuffer),
		pipelines: make(map[pipelineKey]hal.RenderPipeline),
	}, nil
}

// SetLogger installs the logger the backend reports through. The batch
// package propagates its own logger here when a renderer is created.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.log = l
}

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// === Buffers ===

// CreateBuffer allocates a device buffer. Static buffers can also serve
// as index buffers; stream buffers are mapped for writing, so their
// contents travel through WriteBuffer on unmap.
func (d *Device) CreateBuffer(size int, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	halUsage := gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst
	if usage == gpucore.UsageStatic {
		halUsage |= gputypes.BufferUsageIndex
	}
	h, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "batch_buffer",
		Size:  uint64(size),
		Usage: halUsage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer (%d bytes): %w", size, err)
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{handle: h, size: size, usage: halUsage}
	return id, nil
}

// DestroyBuffer releases a device buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	delete(d.buffers, id)
	// Recorded draws may reference the handle until the next submit.
	d.retired = append(d.retired, b.handle)
}

// BufferData uploads data into a buffer at offset.
func (d *Device) BufferData(id gpucore.BufferID, offset int, data []byte) {
	b, ok := d.buffers[id]
	if !ok {
		d.log.Error("BufferData on unknown buffer", slog.Uint64("id", uint64(id)))
		return
	}
	d.queue.WriteBuffer(b.handle, uint64(offset), data)
}

// OrphanBuffer swaps the buffer's storage for a fresh allocation of the
// same size. Draws already recorded against the old storage keep it
// alive until the next submit completes.
func (d *Device) OrphanBuffer(id gpucore.BufferID, size int) {
	b, ok := d.buffers[id]
	if !ok {
		d.log.Error("OrphanBuffer on unknown buffer", slog.Uint64("id", uint64(id)))
		return
	}
	h, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "batch_buffer_orphan",
		Size:  uint64(size),
		Usage: b.usage,
	})
	if err != nil {
		// Keep the old storage; the ring degrades to synchronized reuse.
		d.log.Error("orphan allocation failed", slog.Uint64("id", uint64(id)), slog.String("error", err.Error()))
		return
	}
	d.retired = append(d.retired, b.handle)
	b.handle = h
	b.size = size
}

// MapRange exposes [offset, offset+size) for CPU writes through a shadow
// slice; the bytes reach the device on Unmap. Unsynchronized semantics
// hold: nothing here waits on the device.
func (d *Device) MapRange(id gpucore.BufferID, offset, size int, _ gpucore.MapFlags) ([]byte, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, ErrUnknownBuffer
	}
	if offset < 0 || size < 0 || offset+size > b.size {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrBadMapRange, offset, offset+size, b.size)
	}
	if cap(b.shadow) < size {
		b.shadow = make([]byte, size)
	}
	b.shadow = b.shadow[:size]
	b.mapped = true
	b.mapOff = offset
	return b.shadow, nil
}

// Unmap pushes the shadowed bytes to the device.
func (d *Device) Unmap(id gpucore.BufferID) {
	b, ok := d.buffers[id]
	if !ok || !b.mapped {
		d.log.Error("Unmap on unmapped buffer", slog.Uint64("id", uint64(id)))
		return
	}
	d.queue.WriteBuffer(b.handle, uint64(b.mapOff), b.shadow)
	b.mapped = false
}

// === Vertex state ===

// CreateVertexArray allocates a vertex-state record.
func (d *Device) CreateVertexArray() (gpucore.VertexArrayID, error) {
	id := gpucore.VertexArrayID(d.newID())
	d.arrays[id] = &vertexArray{}
	return id, nil
}

// DestroyVertexArray releases a vertex-state record.
func (d *Device) DestroyVertexArray(id gpucore.VertexArrayID) {
	if d.bound == d.arrays[id] {
		d.bound = nil
	}
	delete(d.arrays, id)
}

// BindVertexArray makes a vertex-state record current. InvalidID unbinds.
func (d *Device) BindVertexArray(id gpucore.VertexArrayID) {
	if id == gpucore.InvalidID {
		d.bound = nil
		return
	}
	va, ok := d.arrays[id]
	if !ok {
		d.log.Error("BindVertexArray on unknown array", slog.Uint64("id", uint64(id)))
		d.bound = nil
		return
	}
	d.bound = va
}

// SetVertexLayout records the buffer, layout and base offset of the
// current vertex state.
func (d *Device) SetVertexLayout(buf gpucore.BufferID, spec *gpucore.VertexSpec, byteOffset int) {
	b, ok := d.buffers[buf]
	if !ok {
		d.log.Error("SetVertexLayout on unknown buffer", slog.Uint64("id", uint64(buf)))
		return
	}
	va := d.currentArray()
	va.buf = b
	va.spec = spec
	va.offset = byteOffset
}

// SetIndexBuffer attaches an index buffer to the current vertex state.
func (d *Device) SetIndexBuffer(buf gpucore.BufferID) {
	b, ok := d.buffers[buf]
	if !ok {
		d.log.Error("SetIndexBuffer on unknown buffer", slog.Uint64("id", uint64(buf)))
		return
	}
	d.currentArray().index = b
}

// currentArray returns the bound vertex array, or the transient record
// used when none is bound.
func (d *Device) currentArray() *vertexArray {
	if d.bound != nil {
		return d.bound
	}
	return &d.transient
}

// === Render targets ===

// CreateFramebuffer allocates an off-screen BGRA8 color target.
func (d *Device) CreateFramebuffer(width, height int) (gpucore.FramebufferID, error) {
	fb, err := d.createTarget(width, height, "batch_framebuffer")
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.FramebufferID(d.newID())
	d.frames[id] = fb
	return id, nil
}

// DestroyFramebuffer releases an off-screen target.
func (d *Device) DestroyFramebuffer(id gpucore.FramebufferID) {
	fb, ok := d.frames[id]
	if !ok {
		return
	}
	if d.target == fb {
		d.target = nil
	}
	d.destroyTarget(fb)
	delete(d.frames, id)
}

// BindFramebuffer selects the render target for subsequent draws. Any
// draws recorded against the previous target are submitted first.
func (d *Device) BindFramebuffer(id gpucore.FramebufferID) {
	var next *framebuffer
	if id != gpucore.InvalidID {
		fb, ok := d.frames[id]
		if !ok {
			d.log.Error("BindFramebuffer on unknown framebuffer", slog.Uint64("id", uint64(id)))
			return
		}
		next = fb
	}
	if next != d.target && (len(d.draws) > 0 || d.hasClear) {
		if err := d.submit(nil); err != nil {
			d.log.Error("submit on target switch failed", slog.String("error", err.Error()))
		}
	}
	d.target = next
}

// Viewport sets the pixel extent of the default target. Off-screen
// targets carry their own size.
func (d *Device) Viewport(width, height int) {
	d.viewW, d.viewH = width, height
}

// Clear schedules a clear of the bound target. Draws already recorded
// against it are submitted first so they are not wiped retroactively.
func (d *Device) Clear(r, g, b, a float32) {
	if len(d.draws) > 0 {
		if err := d.submit(nil); err != nil {
			d.log.Error("submit before clear failed", slog.String("error", err.Error()))
		}
	}
	d.clearColor = gputypes.Color{R: float64(r), G: float64(g), B: float64(b), A: float64(a)}
	d.hasClear = true
}

// createTarget allocates a color texture and view.
func (d *Device) createTarget(width, height int, label string) (*framebuffer, error) {
	tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create target %dx%d: %w", width, height, err)
	}
	view, err := d.hal.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: label + "_view",
	})
	if err != nil {
		d.hal.DestroyTexture(tex)
		return nil, fmt.Errorf("native: create target view: %w", err)
	}
	return &framebuffer{tex: tex, view: view, width: width, height: height}, nil
}

func (d *Device) destroyTarget(fb *framebuffer) {
	d.hal.DestroyTextureView(fb.view)
	d.hal.DestroyTexture(fb.tex)
}

// currentTarget resolves the bound target, lazily creating (and resizing)
// the default one at the current viewport size.
func (d *Device) currentTarget() (*framebuffer, error) {
	if d.target != nil {
		return d.target, nil
	}
	w, h := d.viewW, d.viewH
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	if d.defaultFB != nil && (d.defaultFB.width != w || d.defaultFB.height != h) {
		d.destroyTarget(d.defaultFB)
		d.defaultFB = nil
	}
	if d.defaultFB == nil {
		fb, err := d.createTarget(w, h, "batch_default_target")
		if err != nil {
			return nil, err
		}
		d.defaultFB = fb
	}
	return d.defaultFB, nil
}

// Close releases every resource the device still tracks.
func (d *Device) Close() {
	for key, pipe := range d.pipelines {
		d.hal.DestroyRenderPipeline(pipe)
		delete(d.pipelines, key)
	}
	for id, p := range d.programs {
		d.destroyProgram(p)
		delete(d.programs, id)
	}
	for id, fb := range d.frames {
		d.destroyTarget(fb)
		delete(d.frames, id)
	}
	if d.defaultFB != nil {
		d.destroyTarget(d.defaultFB)
		d.defaultFB = nil
	}
	for id, b := range d.buffers {
		d.hal.DestroyBuffer(b.handle)
		delete(d.buffers, id)
	}
	for _, h := range d.retired {
		d.hal.DestroyBuffer(h)
	}
	d.retired = nil
	clear(d.arrays)
	d.bound = nil
	d.target = nil
	d.curProgram = nil
}
