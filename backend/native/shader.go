// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/batch/gpucore"
)

// uniformSlot holds the CPU-side value of one field of a program's
// uniform block. Scalars and vectors occupy 16 bytes (one vec4 field),
// matrices 64 (one mat4x4 field).
type uniformSlot struct {
	name string
	size int
	data [64]byte
}

// program is a compiled WGSL vertex/fragment pair plus its uniform block
// state. The block is packed and snapshotted at draw-record time, so each
// recorded draw carries the uniform values it was issued with.
type program struct {
	id gpucore.ProgramID

	vsModule hal.ShaderModule
	fsModule hal.ShaderModule

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout

	slots     []uniformSlot
	slotIndex map[string]int
}

// CreateProgram compiles WGSL vertex and fragment sources to SPIR-V and
// prepares the program's bind group and pipeline layouts. The vertex
// entry point must be vs_main, the fragment entry point fs_main.
func (d *Device) CreateProgram(vertexSrc, fragmentSrc string) (gpucore.ProgramID, error) {
	vsWords, err := compileWGSL(vertexSrc)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: compile vertex shader: %w", err)
	}
	fsWords, err := compileWGSL(fragmentSrc)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: compile fragment shader: %w", err)
	}

	vsModule, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "batch_vs",
		Source: hal.ShaderSource{SPIRV: vsWords},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create vertex module: %w", err)
	}
	fsModule, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "batch_fs",
		Source: hal.ShaderSource{SPIRV: fsWords},
	})
	if err != nil {
		d.hal.DestroyShaderModule(vsModule)
		return gpucore.InvalidID, fmt.Errorf("native: create fragment module: %w", err)
	}

	bindLayout, err := d.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "batch_uniform_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		d.hal.DestroyShaderModule(fsModule)
		d.hal.DestroyShaderModule(vsModule)
		return gpucore.InvalidID, fmt.Errorf("native: create bind group layout: %w", err)
	}

	pipeLayout, err := d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "batch_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.hal.DestroyBindGroupLayout(bindLayout)
		d.hal.DestroyShaderModule(fsModule)
		d.hal.DestroyShaderModule(vsModule)
		return gpucore.InvalidID, fmt.Errorf("native: create pipeline layout: %w", err)
	}

	id := gpucore.ProgramID(d.newID())
	d.programs[id] = &program{
		id:         id,
		vsModule:   vsModule,
		fsModule:   fsModule,
		bindLayout: bindLayout,
		pipeLayout: pipeLayout,
		slotIndex:  make(map[string]int),
	}
	return id, nil
}

// DestroyProgram releases the program and every pipeline built from it.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	p, ok := d.programs[id]
	if !ok {
		return
	}
	for key, pipe := range d.pipelines {
		if key.program == id {
			d.hal.DestroyRenderPipeline(pipe)
			delete(d.pipelines, key)
		}
	}
	d.destroyProgram(p)
	if d.curProgram == p {
		d.curProgram = nil
	}
	delete(d.programs, id)
}

func (d *Device) destroyProgram(p *program) {
	d.hal.DestroyPipelineLayout(p.pipeLayout)
	d.hal.DestroyBindGroupLayout(p.bindLayout)
	d.hal.DestroyShaderModule(p.fsModule)
	d.hal.DestroyShaderModule(p.vsModule)
}

// UseProgram selects the program subsequent draws and uniform stores
// apply to.
func (d *Device) UseProgram(id gpucore.ProgramID) {
	p, ok := d.programs[id]
	if !ok {
		d.log.Error("UseProgram on unknown program", slog.Uint64("id", uint64(id)))
		return
	}
	d.curProgram = p
}

// UniformSlot resolves a uniform field by name, allocating its position
// in the block on first resolution. Resolution order must match the WGSL
// struct's field order.
func (d *Device) UniformSlot(id gpucore.ProgramID, name string) (gpucore.UniformID, error) {
	p, ok := d.programs[id]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("native: unknown program %d", uint64(id))
	}
	i, ok := p.slotIndex[name]
	if !ok {
		i = len(p.slots)
		p.slots = append(p.slots, uniformSlot{name: name, size: 16})
		p.slotIndex[name] = i
	}
	return encodeUniformID(id, i), nil
}

// Uniform IDs pack the owning program and the slot index so Set* calls
// need no current-program state.
func encodeUniformID(p gpucore.ProgramID, slot int) gpucore.UniformID {
	return gpucore.UniformID(uint64(p)<<32 | uint64(uint32(slot)))
}

func decodeUniformID(u gpucore.UniformID) (gpucore.ProgramID, int) {
	return gpucore.ProgramID(uint64(u) >> 32), int(uint32(uint64(u)))
}

func (d *Device) slot(u gpucore.UniformID) *uniformSlot {
	pid, i := decodeUniformID(u)
	p, ok := d.programs[pid]
	if !ok || i >= len(p.slots) {
		return nil
	}
	return &p.slots[i]
}

// SetUniformF stores up to 4 float components; the slot occupies one
// vec4 field of the block.
func (d *Device) SetUniformF(u gpucore.UniformID, v ...float32) {
	s := d.slot(u)
	if s == nil {
		d.log.Error("SetUniformF on unknown slot", slog.Uint64("id", uint64(u)))
		return
	}
	s.size = 16
	for i, f := range v {
		if i >= 4 {
			break
		}
		binary.LittleEndian.PutUint32(s.data[4*i:], math.Float32bits(f))
	}
}

// SetUniformI stores up to 4 integer components.
func (d *Device) SetUniformI(u gpucore.UniformID, v ...int32) {
	s := d.slot(u)
	if s == nil {
		d.log.Error("SetUniformI on unknown slot", slog.Uint64("id", uint64(u)))
		return
	}
	s.size = 16
	for i, n := range v {
		if i >= 4 {
			break
		}
		binary.LittleEndian.PutUint32(s.data[4*i:], uint32(n))
	}
}

// SetUniformMatrix stores a 4x4 column-major matrix; the slot occupies
// one mat4x4 field of the block.
func (d *Device) SetUniformMatrix(u gpucore.UniformID, m *[16]float32) {
	s := d.slot(u)
	if s == nil {
		d.log.Error("SetUniformMatrix on unknown slot", slog.Uint64("id", uint64(u)))
		return
	}
	s.size = 64
	for i, f := range m {
		binary.LittleEndian.PutUint32(s.data[4*i:], math.Float32bits(f))
	}
}

// packBlock appends the program's uniform block bytes: fields in slot
// order, each aligned to 16 bytes, the whole block padded to 16.
func (p *program) packBlock(dst []byte) []byte {
	for i := range p.slots {
		s := &p.slots[i]
		dst = append(dst, s.data[:s.size]...)
	}
	if len(dst) == 0 {
		// WebGPU rejects zero-size uniform bindings.
		dst = append(dst, make([]byte, 16)...)
	}
	return dst
}

// blockSize returns the packed byte size of the program's uniform block.
func (p *program) blockSize() int {
	n := 0
	for i := range p.slots {
		n += p.slots[i].size
	}
	if n == 0 {
		n = 16
	}
	return n
}

// compileWGSL compiles WGSL source to SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[4*i:])
	}
	return words, nil
}
