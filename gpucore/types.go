// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

// Resource IDs
//
// These opaque IDs represent device resources. Each Device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// VertexArrayID is an opaque handle to a vertex-array object: the recorded
// association between a buffer, a vertex layout and an optional index buffer.
type VertexArrayID uint64

// ProgramID is an opaque handle to a linked shader program.
type ProgramID uint64

// FramebufferID is an opaque handle to an off-screen render target.
type FramebufferID uint64

// UniformID is an opaque handle to one uniform slot of a linked program.
type UniformID uint64

// InvalidID is the zero value, representing an invalid/null resource.
// FramebufferID(0) additionally means the default on-screen target when
// passed to Device.BindFramebuffer.
const InvalidID = 0

// BufferUsage hints how a buffer's contents will change over its lifetime.
type BufferUsage uint32

const (
	// UsageStatic marks a buffer written once and drawn many times
	// (retained geometry).
	UsageStatic BufferUsage = iota + 1

	// UsageStream marks a buffer rewritten every frame (streaming
	// geometry).
	UsageStream
)

// MapFlags controls the behavior of Device.MapRange.
type MapFlags uint32

const (
	// MapWrite requests a write-only mapping.
	MapWrite MapFlags = 1 << 0

	// MapUnsynchronized asks the device not to stall waiting for pending
	// draws against the mapped range. The caller guarantees it only writes
	// regions no in-flight draw reads.
	MapUnsynchronized MapFlags = 1 << 1
)

// DrawMode selects the primitive topology of a draw call.
type DrawMode uint32

// Draw modes.
const (
	DrawPoints DrawMode = iota + 1
	DrawLines
	DrawLineStrip
	DrawTriangles
	DrawTriangleStrip
)

// String returns the draw mode name.
func (m DrawMode) String() string {
	switch m {
	case DrawPoints:
		return "Points"
	case DrawLines:
		return "Lines"
	case DrawLineStrip:
		return "LineStrip"
	case DrawTriangles:
		return "Triangles"
	case DrawTriangleStrip:
		return "TriangleStrip"
	default:
		return "Unknown"
	}
}
