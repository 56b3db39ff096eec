// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "fmt"

// AttrType is the numeric type of one vertex attribute component.
type AttrType uint32

// Attribute component types.
const (
	// AttrFloat32 is a 32-bit IEEE float component.
	AttrFloat32 AttrType = iota + 1

	// AttrUint8 is an 8-bit unsigned integer component, normalized to
	// [0,1] in the shader unless Attr.Integer is set.
	AttrUint8

	// AttrInt32 is a 32-bit signed integer component.
	AttrInt32
)

// componentSize returns the byte size of one component of the type.
func (t AttrType) componentSize() int {
	switch t {
	case AttrFloat32, AttrInt32:
		return 4
	case AttrUint8:
		return 1
	default:
		return 0
	}
}

// Attr describes one typed attribute slot of a vertex layout.
type Attr struct {
	// Name is the shader-facing attribute name, used for debugging and
	// for backends that bind attributes by name.
	Name string

	// Dim is the component count (1-4).
	Dim int

	// Type is the component type.
	Type AttrType

	// Integer keeps integral components integral in the shader instead of
	// normalizing them to floats.
	Integer bool
}

// Size returns the byte size of the attribute.
func (a Attr) Size() int {
	return a.Dim * a.Type.componentSize()
}

// VertexSpec is an immutable descriptor of one vertex's byte structure:
// an ordered list of typed attribute slots. The total stride is the sum of
// the attribute sizes.
//
// Specs are created once at startup and compared by pointer identity; the
// set of layouts a renderer uses is small and closed.
type VertexSpec struct {
	name   string
	attrs  []Attr
	stride int
}

// NewVertexSpec builds a vertex layout from an ordered attribute list.
// It panics if an attribute has an unknown type or a dimensionality
// outside 1-4; layouts are startup constants, so this is a programming
// error, not a runtime condition.
func NewVertexSpec(name string, attrs ...Attr) *VertexSpec {
	stride := 0
	for _, a := range attrs {
		if a.Dim < 1 || a.Dim > 4 {
			panic(fmt.Sprintf("gpucore: attribute %q has invalid dimension %d", a.Name, a.Dim))
		}
		if a.Type.componentSize() == 0 {
			panic(fmt.Sprintf("gpucore: attribute %q has unknown type", a.Name))
		}
		stride += a.Size()
	}
	return &VertexSpec{
		name:   name,
		attrs:  append([]Attr(nil), attrs...),
		stride: stride,
	}
}

// Name returns the layout's debug name.
func (s *VertexSpec) Name() string { return s.name }

// Stride returns the byte size of one vertex.
func (s *VertexSpec) Stride() int { return s.stride }

// Attrs returns the ordered attribute slots. The returned slice must not
// be modified.
func (s *VertexSpec) Attrs() []Attr { return s.attrs }

// Offset returns the byte offset of the i-th attribute within a vertex.
func (s *VertexSpec) Offset(i int) int {
	off := 0
	for j := 0; j < i; j++ {
		off += s.attrs[j].Size()
	}
	return off
}
