// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

// NodeID identifies one scene node to the batcher. IDs are assigned by the
// scene-graph collaborator and must stay within [1, MaxNodeID] so they
// round-trip exactly through the false-color pick encoding; 0 means "no
// node" and is what an empty pick pixel decodes to.
type NodeID uint32

// Pick encoding constants. Each 8-bit color channel carries
// pickChannelBits of the node ID in its high bits, so the encoding
// survives reduced-precision targets (e.g. 6-bit-per-channel displays).
const (
	pickChannelBits = 6
	pickChannelMask = 1<<pickChannelBits - 1
	pickShift       = 8 - pickChannelBits

	// MaxNodeID is the largest encodable node ID (18 bits).
	MaxNodeID NodeID = 1<<(3*pickChannelBits) - 1
)

// EncodePickColor packs a node ID into an RGB triple for the false-color
// pick pass. IDs above MaxNodeID do not round-trip.
func EncodePickColor(id NodeID) (r, g, b uint8) {
	r = uint8(id&pickChannelMask) << pickShift
	g = uint8((id>>pickChannelBits)&pickChannelMask) << pickShift
	b = uint8((id>>(2*pickChannelBits))&pickChannelMask) << pickShift
	return r, g, b
}

// DecodePickColor recovers a node ID from a pick-pass RGB triple. The low
// pickShift bits of each channel are ignored, so values that lost
// precision in the framebuffer still decode exactly.
func DecodePickColor(r, g, b uint8) NodeID {
	return NodeID(r>>pickShift) |
		NodeID(g>>pickShift)<<pickChannelBits |
		NodeID(b>>pickShift)<<(2*pickChannelBits)
}

// Traverser is the scene-graph entry point the Renderer drives once per
// frame. The implementation walks the currently visible tree and issues
// draw calls against the renderer's accumulators, bracketed by
// Renderer.BeginNode.
type Traverser interface {
	// Traverse draws the visible scene for the given viewport size.
	// An error aborts the frame.
	Traverse(width, height int) error
}

// TraverserFunc adapts a function to the Traverser interface.
type TraverserFunc func(width, height int) error

// Traverse implements Traverser.
func (f TraverserFunc) Traverse(width, height int) error { return f(width, height) }
