// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

// Device abstracts the primitive GPU operations the batching layer needs.
//
// Implementations map opaque IDs to actual backend resources; the batcher
// never touches a concrete graphics API. All methods are called from the
// single rendering goroutine — implementations do not need to be
// thread-safe.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and must not be reused
type Device interface {
	// === Buffers ===

	// CreateBuffer allocates a device buffer of the given byte size.
	CreateBuffer(size int, usage BufferUsage) (BufferID, error)

	// DestroyBuffer releases a device buffer.
	DestroyBuffer(id BufferID)

	// BufferData uploads data into a buffer starting at offset.
	BufferData(id BufferID, offset int, data []byte)

	// OrphanBuffer asks the device to treat the buffer's storage as
	// entirely fresh. Storage already referenced by in-flight draws
	// remains valid until those draws complete; subsequent writes go to a
	// new generation of storage.
	OrphanBuffer(id BufferID, size int)

	// MapRange maps [offset, offset+size) of a buffer for CPU writes.
	// The returned slice is valid until Unmap. With MapUnsynchronized the
	// device must not stall on pending draws against the buffer.
	MapRange(id BufferID, offset, size int, flags MapFlags) ([]byte, error)

	// Unmap ends the current mapping of the buffer, making the written
	// bytes visible to the device.
	Unmap(id BufferID)

	// === Vertex state ===

	// CreateVertexArray allocates a vertex-array object.
	CreateVertexArray() (VertexArrayID, error)

	// DestroyVertexArray releases a vertex-array object.
	DestroyVertexArray(id VertexArrayID)

	// BindVertexArray makes a vertex-array object current. InvalidID
	// unbinds.
	BindVertexArray(id VertexArrayID)

	// SetVertexLayout points the current vertex state at spec-shaped
	// vertices stored in buf starting at byteOffset. When a vertex array
	// is bound the association is recorded into it.
	SetVertexLayout(buf BufferID, spec *VertexSpec, byteOffset int)

	// SetIndexBuffer attaches an index buffer to the current vertex state.
	SetIndexBuffer(buf BufferID)

	// === Programs and uniforms ===

	// CreateProgram compiles and links a shader program from vertex and
	// fragment stage sources.
	CreateProgram(vertexSrc, fragmentSrc string) (ProgramID, error)

	// DestroyProgram releases a program.
	DestroyProgram(id ProgramID)

	// UseProgram makes a program current for subsequent draws and uniform
	// stores.
	UseProgram(id ProgramID)

	// UniformSlot resolves a named uniform slot of a linked program.
	// Returns an error if the program has no such slot.
	UniformSlot(p ProgramID, name string) (UniformID, error)

	// SetUniformF stores 1-4 float components into a uniform slot.
	SetUniformF(slot UniformID, v ...float32)

	// SetUniformI stores 1-4 integer components into a uniform slot.
	SetUniformI(slot UniformID, v ...int32)

	// SetUniformMatrix stores a 4x4 column-major matrix into a uniform
	// slot.
	SetUniformMatrix(slot UniformID, m *[16]float32)

	// === Render targets ===

	// CreateFramebuffer allocates an off-screen color+depth target and
	// validates its completeness. A validation failure is a configuration
	// error and is returned immediately.
	CreateFramebuffer(width, height int) (FramebufferID, error)

	// DestroyFramebuffer releases an off-screen target.
	DestroyFramebuffer(id FramebufferID)

	// BindFramebuffer makes a render target current. InvalidID selects
	// the default on-screen target.
	BindFramebuffer(id FramebufferID)

	// Viewport sets the pixel extent of subsequent draws.
	Viewport(width, height int)

	// Clear fills the bound target with a constant color and clears
	// depth.
	Clear(r, g, b, a float32)

	// ReadPixels reads back an RGBA8 rectangle from the bound target.
	// The result is tightly packed, 4*w*h bytes, top row first.
	ReadPixels(x, y, w, h int) ([]byte, error)

	// === Draws ===

	// Draw submits count vertices of the current vertex state starting at
	// vertex index first.
	Draw(mode DrawMode, first, count int)

	// DrawIndexed submits count indices of the current index buffer
	// starting at index position first.
	DrawIndexed(mode DrawMode, first, count int)

	// Flush submits all recorded work to the device and, for targets that
	// are read back, waits for completion.
	Flush()
}
