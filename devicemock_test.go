// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/batch/gpucore"
)

// mockDraw records one draw submission for assertions.
type mockDraw struct {
	mode    gpucore.DrawMode
	first   int
	count   int
	indexed bool
	vao     gpucore.VertexArrayID
	program gpucore.ProgramID
}

// mockVAO mirrors the vertex state a backend would record.
type mockVAO struct {
	buf    gpucore.BufferID
	spec   *gpucore.VertexSpec
	offset int
	index  gpucore.BufferID
}

var _ gpucore.Device = (*mockDevice)(nil)

// mockDevice is an in-memory gpucore.Device that records every call for
// assertions. Buffer contents are kept so tests can verify uploaded and
// mapped bytes.
type mockDevice struct {
	nextID uint64

	buffers map[gpucore.BufferID][]byte
	arrays  map[gpucore.VertexArrayID]*mockVAO
	frames  map[gpucore.FramebufferID][2]int

	boundVAO   gpucore.VertexArrayID
	boundFB    gpucore.FramebufferID
	curProgram gpucore.ProgramID

	mapBuf gpucore.BufferID
	mapOff int

	draws []mockDraw

	buffersCreated   int
	buffersDestroyed int
	arraysCreated    int
	bindCalls        int
	orphanCount      int
	mapCount         int
	uniformStores    int
	clearColor       [4]float32
	viewW, viewH     int
	flushes          int

	failCreateBuffer      bool
	failCreateFramebuffer bool
	readPixelsFn          func(x, y, w, h int) ([]byte, error)

	logger *slog.Logger
}

// SetLogger records the propagated logger, like a real backend would.
func (d *mockDevice) SetLogger(l *slog.Logger) { d.logger = l }

func newMockDevice() *mockDevice {
	return &mockDevice{
		buffers: make(map[gpucore.BufferID][]byte),
		arrays:  make(map[gpucore.VertexArrayID]*mockVAO),
		frames:  make(map[gpucore.FramebufferID][2]int),
	}
}

func (d *mockDevice) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *mockDevice) CreateBuffer(size int, _ gpucore.BufferUsage) (gpucore.BufferID, error) {
	if d.failCreateBuffer {
		return gpucore.InvalidID, errors.New("mock: buffer allocation refused")
	}
	d.buffersCreated++
	id := gpucore.BufferID(d.id())
	d.buffers[id] = make([]byte, size)
	return id, nil
}

func (d *mockDevice) DestroyBuffer(id gpucore.BufferID) {
	d.buffersDestroyed++
	delete(d.buffers, id)
}

func (d *mockDevice) BufferData(id gpucore.BufferID, offset int, data []byte) {
	b, ok := d.buffers[id]
	if !ok {
		panic(fmt.Sprintf("mock: BufferData on unknown buffer %d", id))
	}
	if offset+len(data) > len(b) {
		grown := make([]byte, offset+len(data))
		copy(grown, b)
		b = grown
		d.buffers[id] = b
	}
	copy(b[offset:], data)
}

func (d *mockDevice) OrphanBuffer(id gpucore.BufferID, size int) {
	d.orphanCount++
	d.buffers[id] = make([]byte, size)
}

func (d *mockDevice) MapRange(id gpucore.BufferID, offset, size int, _ gpucore.MapFlags) ([]byte, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, errors.New("mock: map of unknown buffer")
	}
	if offset+size > len(b) {
		return nil, fmt.Errorf("mock: map [%d,%d) beyond %d", offset, offset+size, len(b))
	}
	d.mapCount++
	d.mapBuf = id
	d.mapOff = offset
	return b[offset : offset+size], nil
}

func (d *mockDevice) Unmap(id gpucore.BufferID) {
	if id != d.mapBuf {
		panic("mock: Unmap of buffer that is not mapped")
	}
	d.mapBuf = gpucore.InvalidID
}

func (d *mockDevice) CreateVertexArray() (gpucore.VertexArrayID, error) {
	d.arraysCreated++
	id := gpucore.VertexArrayID(d.id())
	d.arrays[id] = &mockVAO{}
	return id, nil
}

func (d *mockDevice) DestroyVertexArray(id gpucore.VertexArrayID) {
	delete(d.arrays, id)
}

func (d *mockDevice) BindVertexArray(id gpucore.VertexArrayID) {
	d.bindCalls++
	d.boundVAO = id
}

func (d *mockDevice) SetVertexLayout(buf gpucore.BufferID, spec *gpucore.VertexSpec, byteOffset int) {
	if va, ok := d.arrays[d.boundVAO]; ok {
		va.buf = buf
		va.spec = spec
		va.offset = byteOffset
	}
}

func (d *mockDevice) SetIndexBuffer(buf gpucore.BufferID) {
	if va, ok := d.arrays[d.boundVAO]; ok {
		va.index = buf
	}
}

func (d *mockDevice) CreateProgram(_, _ string) (gpucore.ProgramID, error) {
	return gpucore.ProgramID(d.id()), nil
}

func (d *mockDevice) DestroyProgram(gpucore.ProgramID) {}

func (d *mockDevice) UseProgram(id gpucore.ProgramID) { d.curProgram = id }

func (d *mockDevice) UniformSlot(p gpucore.ProgramID, _ string) (gpucore.UniformID, error) {
	return gpucore.UniformID(d.id()), nil
}

func (d *mockDevice) SetUniformF(gpucore.UniformID, ...float32) { d.uniformStores++ }

func (d *mockDevice) SetUniformI(gpucore.UniformID, ...int32) { d.uniformStores++ }

func (d *mockDevice) SetUniformMatrix(gpucore.UniformID, *[16]float32) { d.uniformStores++ }

func (d *mockDevice) CreateFramebuffer(width, height int) (gpucore.FramebufferID, error) {
	if d.failCreateFramebuffer {
		return gpucore.InvalidID, errors.New("mock: framebuffer incomplete")
	}
	id := gpucore.FramebufferID(d.id())
	d.frames[id] = [2]int{width, height}
	return id, nil
}

func (d *mockDevice) DestroyFramebuffer(id gpucore.FramebufferID) {
	delete(d.frames, id)
}

func (d *mockDevice) BindFramebuffer(id gpucore.FramebufferID) { d.boundFB = id }

func (d *mockDevice) Viewport(width, height int) { d.viewW, d.viewH = width, height }

func (d *mockDevice) Clear(r, g, b, a float32) { d.clearColor = [4]float32{r, g, b, a} }

func (d *mockDevice) ReadPixels(x, y, w, h int) ([]byte, error) {
	if d.readPixelsFn != nil {
		return d.readPixelsFn(x, y, w, h)
	}
	return make([]byte, 4*w*h), nil
}

func (d *mockDevice) Draw(mode gpucore.DrawMode, first, count int) {
	d.draws = append(d.draws, mockDraw{
		mode: mode, first: first, count: count,
		vao: d.boundVAO, program: d.curProgram,
	})
}

func (d *mockDevice) DrawIndexed(mode gpucore.DrawMode, first, count int) {
	d.draws = append(d.draws, mockDraw{
		mode: mode, first: first, count: count, indexed: true,
		vao: d.boundVAO, program: d.curProgram,
	})
}

func (d *mockDevice) Flush() { d.flushes++ }
