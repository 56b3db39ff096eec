// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/batch/gpucore"
)

// pipelineKey identifies one lazily created render pipeline. The target
// format is fixed (BGRA8), so program, vertex layout and topology fully
// determine the pipeline state.
type pipelineKey struct {
	program gpucore.ProgramID
	spec    *gpucore.VertexSpec
	mode    gpucore.DrawMode
}

// pipelineFor returns the cached render pipeline for the key, creating
// it on first use.
func (d *Device) pipelineFor(p *program, spec *gpucore.VertexSpec, mode gpucore.DrawMode) (hal.RenderPipeline, error) {
	key := pipelineKey{program: p.id, spec: spec, mode: mode}
	if pipe, ok := d.pipelines[key]; ok {
		return pipe, nil
	}

	layout, err := vertexLayoutFor(spec)
	if err != nil {
		return nil, err
	}
	premulBlend := gputypes.BlendStatePremultiplied()
	pipe, err := d.hal.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "batch_pipeline_" + spec.Name(),
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.vsModule,
			EntryPoint: "vs_main",
			Buffers:    []gputypes.VertexBufferLayout{layout},
		},
		Fragment: &hal.FragmentState{
			Module:     p.fsModule,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    gputypes.TextureFormatBGRA8Unorm,
					Blend:     &premulBlend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: topologyFor(mode),
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("native: create pipeline (%s, %s): %w", spec.Name(), mode, err)
	}
	d.pipelines[key] = pipe
	return pipe, nil
}

// vertexLayoutFor translates a vertex spec into the HAL buffer layout.
func vertexLayoutFor(spec *gpucore.VertexSpec) (gputypes.VertexBufferLayout, error) {
	attrs := spec.Attrs()
	out := make([]gputypes.VertexAttribute, len(attrs))
	for i, a := range attrs {
		format, err := vertexFormatFor(a)
		if err != nil {
			return gputypes.VertexBufferLayout{}, fmt.Errorf("native: layout %s attr %s: %w", spec.Name(), a.Name, err)
		}
		out[i] = gputypes.VertexAttribute{
			Format:         format,
			Offset:         uint64(spec.Offset(i)),
			ShaderLocation: uint32(i),
		}
	}
	return gputypes.VertexBufferLayout{
		ArrayStride: uint64(spec.Stride()),
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  out,
	}, nil
}

// vertexFormatFor maps one attribute to its HAL vertex format.
func vertexFormatFor(a gpucore.Attr) (gputypes.VertexFormat, error) {
	switch a.Type {
	case gpucore.AttrFloat32:
		switch a.Dim {
		case 1:
			return gputypes.VertexFormatFloat32, nil
		case 2:
			return gputypes.VertexFormatFloat32x2, nil
		case 3:
			return gputypes.VertexFormatFloat32x3, nil
		case 4:
			return gputypes.VertexFormatFloat32x4, nil
		}
	case gpucore.AttrUint8:
		// Hardware vertex fetch requires 4-byte alignment for 8-bit
		// attributes.
		if a.Dim == 4 {
			if a.Integer {
				return gputypes.VertexFormatUint8x4, nil
			}
			return gputypes.VertexFormatUnorm8x4, nil
		}
	case gpucore.AttrInt32:
		switch a.Dim {
		case 1:
			return gputypes.VertexFormatSint32, nil
		case 2:
			return gputypes.VertexFormatSint32x2, nil
		case 3:
			return gputypes.VertexFormatSint32x3, nil
		case 4:
			return gputypes.VertexFormatSint32x4, nil
		}
	}
	return 0, fmt.Errorf("unsupported attribute type %d dim %d", a.Type, a.Dim)
}

// topologyFor maps a draw mode to the HAL primitive topology.
func topologyFor(mode gpucore.DrawMode) gputypes.PrimitiveTopology {
	switch mode {
	case gpucore.DrawPoints:
		return gputypes.PrimitiveTopologyPointList
	case gpucore.DrawLines:
		return gputypes.PrimitiveTopologyLineList
	case gpucore.DrawLineStrip:
		return gputypes.PrimitiveTopologyLineStrip
	case gpucore.DrawTriangleStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}
