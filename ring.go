// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/batch/gpucore"
)

// Stream ring errors.
var (
	// ErrRingOverflow is returned when a single draw's data exceeds the
	// ring's total capacity. This is a configuration error: the ring must
	// be sized above the largest single-draw payload.
	ErrRingOverflow = errors.New("batch: draw exceeds stream ring capacity")
)

const (
	// DefaultRingCapacity is the stream ring size when Options leaves it
	// zero. Large enough that several frames of streamed geometry can be
	// in flight before the ring wraps.
	DefaultRingCapacity = 4 << 20

	// ringAlign is the minimum reservation alignment. Reservations are
	// rounded up so consecutive draws never share a cache line and
	// mapped ranges meet backend offset-alignment rules.
	ringAlign = 64
)

// StreamRing pushes short-lived vertex data to the device through a
// fixed-size, continuously recycled buffer.
//
// Writes use write-only unsynchronized mappings, so the producer never
// stalls on the device catching up; when the write cursor would run past
// capacity the buffer is orphaned (prior storage stays valid for draws
// already issued against it) and the cursor restarts at zero. The fixed
// capacity bounds how many ring generations can be in flight.
type StreamRing struct {
	dev      gpucore.Device
	buf      gpucore.BufferID
	vao      gpucore.VertexArrayID
	capacity int
	cursor   int
	orphans  int
}

// NewStreamRing creates a ring of the given byte capacity; capacity <= 0
// selects DefaultRingCapacity. Device storage is allocated on first draw.
func NewStreamRing(dev gpucore.Device, capacity int) *StreamRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &StreamRing{dev: dev, capacity: capacity}
}

// Capacity returns the ring's total byte capacity.
func (r *StreamRing) Capacity() int { return r.capacity }

// Cursor returns the current write cursor. Always within [0, capacity].
func (r *StreamRing) Cursor() int { return r.cursor }

// Orphans returns how many times the ring has wrapped.
func (r *StreamRing) Orphans() int { return r.orphans }

// Draw reserves space for data, copies it through an unsynchronized
// mapping, and issues a draw of count vertices shaped by spec at the
// reserved offset.
func (r *StreamRing) Draw(mode gpucore.DrawMode, data []byte, count int, spec *gpucore.VertexSpec) error {
	size := (len(data) + ringAlign - 1) &^ (ringAlign - 1)
	if size > r.capacity {
		return fmt.Errorf("%w: need %d bytes, ring holds %d (layout %s)",
			ErrRingOverflow, size, r.capacity, spec.Name())
	}

	if err := r.ensure(); err != nil {
		return err
	}

	if r.cursor+size > r.capacity {
		r.dev.OrphanBuffer(r.buf, r.capacity)
		r.cursor = 0
		r.orphans++
		Logger().Debug("stream ring orphaned", slog.Int("generation", r.orphans))
	}

	m, err := r.dev.MapRange(r.buf, r.cursor, size, gpucore.MapWrite|gpucore.MapUnsynchronized)
	if err != nil {
		return fmt.Errorf("stream ring map [%d,%d): %w", r.cursor, r.cursor+size, err)
	}
	copy(m, data)
	r.dev.Unmap(r.buf)

	r.dev.BindVertexArray(r.vao)
	r.dev.SetVertexLayout(r.buf, spec, r.cursor)
	r.dev.Draw(mode, 0, count)

	r.cursor += size
	return nil
}

// ensure lazily allocates the ring's device buffer and vertex state.
func (r *StreamRing) ensure() error {
	if r.buf != gpucore.InvalidID {
		return nil
	}
	buf, err := r.dev.CreateBuffer(r.capacity, gpucore.UsageStream)
	if err != nil {
		return fmt.Errorf("stream ring alloc: %w", err)
	}
	vao, err := r.dev.CreateVertexArray()
	if err != nil {
		r.dev.DestroyBuffer(buf)
		return fmt.Errorf("stream ring alloc: %w", err)
	}
	r.buf = buf
	r.vao = vao
	return nil
}

// Close releases the ring's device storage.
func (r *StreamRing) Close() {
	if r.buf != gpucore.InvalidID {
		r.dev.DestroyVertexArray(r.vao)
		r.dev.DestroyBuffer(r.buf)
		r.buf = gpucore.InvalidID
		r.vao = gpucore.InvalidID
	}
	r.cursor = 0
}
