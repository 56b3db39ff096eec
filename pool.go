// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/batch/gpucore"
)

// Buffer pool errors.
var (
	// ErrBufferReleased is returned when operating on a released buffer.
	ErrBufferReleased = errors.New("batch: buffer has been released")

	// ErrBufferPushed is returned when appending to a buffer that has
	// already been pushed to the device.
	ErrBufferPushed = errors.New("batch: buffer is device-resident, staging is closed")

	// ErrRefCountNegative is returned when a release would drive a
	// buffer's reference count negative. This is a programming error.
	ErrRefCountNegative = errors.New("batch: buffer reference count driven negative")
)

// PoolBuffer is one long-lived, device-resident vertex/index store owned
// by a BufferPool. It starts as growable CPU staging; the first draw
// against it pushes the staging data to the device exactly once, after
// which the buffer is add-only-closed and device-resident.
type PoolBuffer struct {
	index int
	spec  *gpucore.VertexSpec

	// Staging arrays, discarded at push.
	verts   []byte
	indices []uint32

	// Device handles. Either all unallocated or all allocated together
	// (ibo only when the buffer has indices).
	vao gpucore.VertexArrayID
	vbo gpucore.BufferID
	ibo gpucore.BufferID

	refs     int
	pushed   bool
	released bool
}

// Index returns the buffer's pool index. Index 0 is never a valid buffer.
func (b *PoolBuffer) Index() int { return b.index }

// Spec returns the buffer's vertex layout.
func (b *PoolBuffer) Spec() *gpucore.VertexSpec { return b.spec }

// Refs returns the current reference count.
func (b *PoolBuffer) Refs() int { return b.refs }

// Pushed reports whether the buffer has become device-resident.
func (b *PoolBuffer) Pushed() bool { return b.pushed }

// BufferPool owns retained geometry storage. Per vertex layout it keeps at
// most one "open" buffer accepting staged data; the first draw against an
// open buffer pushes it to the device and opens the slot for a fresh one.
//
// BufferPool is a per-renderer singleton driven from the rendering
// goroutine; it is not safe for concurrent use.
type BufferPool struct {
	dev     gpucore.Device
	buffers []*PoolBuffer
	free    []int
	open    map[*gpucore.VertexSpec]int

	// bound caches the pool buffer whose vertex array is currently bound,
	// 0 when unknown or foreign state is bound.
	bound int

	// deviceAllocs counts push-to-device events, exposed for tests and
	// diagnostics.
	deviceAllocs int
}

// NewBufferPool creates an empty pool over the given device.
func NewBufferPool(dev gpucore.Device) *BufferPool {
	return &BufferPool{
		dev:     dev,
		buffers: make([]*PoolBuffer, 1),
		open:    make(map[*gpucore.VertexSpec]int),
	}
}

// Get returns the open (not yet device-allocated) buffer for a layout,
// creating one if none is open.
func (p *BufferPool) Get(spec *gpucore.VertexSpec) *PoolBuffer {
	if i, ok := p.open[spec]; ok {
		return p.buffers[i]
	}
	b := &PoolBuffer{spec: spec}
	if n := len(p.free); n > 0 {
		b.index = p.free[n-1]
		p.free = p.free[:n-1]
		p.buffers[b.index] = b
	} else {
		b.index = len(p.buffers)
		p.buffers = append(p.buffers, b)
	}
	p.open[spec] = b.index
	return b
}

// Buffer returns the buffer at a pool index, or nil for index 0 or a
// recycled slot.
func (p *BufferPool) Buffer(i int) *PoolBuffer {
	if i <= 0 || i >= len(p.buffers) {
		return nil
	}
	return p.buffers[i]
}

// AddVertices appends raw vertex bytes to the buffer's staging storage and
// returns the byte offset at which the data was placed.
func (p *BufferPool) AddVertices(b *PoolBuffer, raw []byte) (int, error) {
	if b.released {
		return 0, ErrBufferReleased
	}
	if b.pushed {
		return 0, ErrBufferPushed
	}
	off := len(b.verts)
	b.verts = append(b.verts, raw...)
	return off, nil
}

// AddIndices appends to the buffer's index staging array and returns the
// element offset at which the data was placed.
func (p *BufferPool) AddIndices(b *PoolBuffer, indices []uint32) (int, error) {
	if b.released {
		return 0, ErrBufferReleased
	}
	if b.pushed {
		return 0, ErrBufferPushed
	}
	off := len(b.indices)
	b.indices = append(b.indices, indices...)
	return off, nil
}

// push performs the one-time transfer of staged data to the device:
// allocate the handle triple, upload, discard staging, and close the
// layout's open slot so a fresh buffer can be opened. Exactly once per
// buffer lifetime.
func (p *BufferPool) push(b *PoolBuffer) error {
	vao, err := p.dev.CreateVertexArray()
	if err != nil {
		return fmt.Errorf("push buffer %d: %w", b.index, err)
	}
	vbo, err := p.dev.CreateBuffer(len(b.verts), gpucore.UsageStatic)
	if err != nil {
		p.dev.DestroyVertexArray(vao)
		return fmt.Errorf("push buffer %d: %w", b.index, err)
	}
	p.dev.BindVertexArray(vao)
	p.dev.BufferData(vbo, 0, b.verts)
	p.dev.SetVertexLayout(vbo, b.spec, 0)

	if len(b.indices) > 0 {
		ibo, err := p.dev.CreateBuffer(4*len(b.indices), gpucore.UsageStatic)
		if err != nil {
			p.dev.BindVertexArray(gpucore.InvalidID)
			p.dev.DestroyBuffer(vbo)
			p.dev.DestroyVertexArray(vao)
			return fmt.Errorf("push buffer %d indices: %w", b.index, err)
		}
		p.dev.BufferData(ibo, 0, indexBytes(b.indices))
		p.dev.SetIndexBuffer(ibo)
		b.ibo = ibo
	}

	b.vao = vao
	b.vbo = vbo
	b.pushed = true
	p.bound = b.index
	p.deviceAllocs++

	Logger().Info("buffer pushed to device",
		slog.Int("buffer", b.index),
		slog.String("layout", b.spec.Name()),
		slog.Int("bytes", len(b.verts)),
		slog.Int("indices", len(b.indices)))

	// Staging is gone for good; the buffer is add-only-closed.
	b.verts = nil
	b.indices = nil

	if p.open[b.spec] == b.index {
		delete(p.open, b.spec)
	}
	return nil
}

// bind makes the buffer's vertex array current, skipping the device call
// when the cache says it already is.
func (p *BufferPool) bind(b *PoolBuffer) {
	if p.bound == b.index {
		return
	}
	p.dev.BindVertexArray(b.vao)
	p.bound = b.index
}

// InvalidateBinding drops the bound-state cache. Call after foreign vertex
// state (e.g. the stream ring) has been bound behind the pool's back.
func (p *BufferPool) InvalidateBinding() { p.bound = 0 }

// Draw issues count vertices starting at byteOffset. The first draw
// against a buffer pushes its staging data to the device; subsequent
// draws are a bind plus submit.
func (p *BufferPool) Draw(b *PoolBuffer, mode gpucore.DrawMode, byteOffset, count int) error {
	if b.released {
		return ErrBufferReleased
	}
	if !b.pushed {
		if err := p.push(b); err != nil {
			return err
		}
	}
	p.bind(b)
	p.dev.Draw(mode, byteOffset/b.spec.Stride(), count)
	return nil
}

// DrawIndexed issues indexCount indices starting at index element
// indexOffset. Indices stored in the buffer are absolute vertex positions,
// so no per-draw base-vertex state is needed.
func (p *BufferPool) DrawIndexed(b *PoolBuffer, mode gpucore.DrawMode, indexOffset, indexCount int) error {
	if b.released {
		return ErrBufferReleased
	}
	if !b.pushed {
		if err := p.push(b); err != nil {
			return err
		}
	}
	p.bind(b)
	p.dev.DrawIndexed(mode, indexOffset, indexCount)
	return nil
}

// Retain increments the buffer's reference count.
func (p *BufferPool) Retain(b *PoolBuffer) {
	b.refs++
}

// Release decrements the buffer's reference count; crossing to zero tears
// down device storage and returns the slot to the free list.
func (p *BufferPool) Release(b *PoolBuffer) error {
	if b.released {
		return ErrBufferReleased
	}
	b.refs--
	if b.refs < 0 {
		return fmt.Errorf("%w: buffer %d", ErrRefCountNegative, b.index)
	}
	if b.refs > 0 {
		return nil
	}
	p.release(b)
	return nil
}

// release tears down device storage and recycles the slot. If the buffer
// was the currently bound one, the bound-state cache is invalidated.
func (p *BufferPool) release(b *PoolBuffer) {
	if p.bound == b.index {
		p.dev.BindVertexArray(gpucore.InvalidID)
		p.bound = 0
	}
	if b.pushed {
		if b.ibo != gpucore.InvalidID {
			p.dev.DestroyBuffer(b.ibo)
		}
		p.dev.DestroyBuffer(b.vbo)
		p.dev.DestroyVertexArray(b.vao)
	} else {
		Logger().Warn("releasing unpushed buffer", slog.Int("buffer", b.index))
	}
	if p.open[b.spec] == b.index {
		delete(p.open, b.spec)
	}
	b.released = true
	b.verts = nil
	b.indices = nil
	p.buffers[b.index] = nil
	p.free = append(p.free, b.index)
}

// DeviceAllocs returns the number of push-to-device events so far.
func (p *BufferPool) DeviceAllocs() int { return p.deviceAllocs }

// Close releases every live buffer regardless of reference count. Used at
// renderer teardown.
func (p *BufferPool) Close() {
	for _, b := range p.buffers[1:] {
		if b != nil && !b.released {
			p.release(b)
		}
	}
}

// indexBytes reinterprets a uint32 index slice as little-endian bytes for
// upload.
func indexBytes(indices []uint32) []byte {
	out := make([]byte, 4*len(indices))
	for i, v := range indices {
		out[4*i] = byte(v)
		out[4*i+1] = byte(v >> 8)
		out[4*i+2] = byte(v >> 16)
		out[4*i+3] = byte(v >> 24)
	}
	return out
}
