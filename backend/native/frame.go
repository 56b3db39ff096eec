// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/batch/gpucore"
)

// submitTimeout bounds the fence wait after a submission.
const submitTimeout = 5 * time.Second

// copyPitchAlignment is the row alignment texture-to-buffer copies
// require (WebGPU and DX12 mandate 256).
const copyPitchAlignment = 256

// ErrReadbackBounds is returned when a ReadPixels rectangle lies outside
// the bound target.
var ErrReadbackBounds = errors.New("native: readback rectangle out of bounds")

// drawCmd is one recorded draw: the resolved pipeline, the uniform block
// snapshot taken at record time, and the vertex/index sources.
type drawCmd struct {
	pipe       hal.RenderPipeline
	bindLayout hal.BindGroupLayout
	uniform    []byte

	vbuf hal.Buffer
	voff uint64
	ibuf hal.Buffer

	first int
	count int
}

// Draw records a draw of count vertices starting at vertex first from
// the current vertex state, under the current program and its uniform
// values.
func (d *Device) Draw(mode gpucore.DrawMode, first, count int) {
	d.record(mode, first, count, false)
}

// DrawIndexed records an indexed draw of count indices starting at index
// element first.
func (d *Device) DrawIndexed(mode gpucore.DrawMode, first, count int) {
	d.record(mode, first, count, true)
}

func (d *Device) record(mode gpucore.DrawMode, first, count int, indexed bool) {
	if count <= 0 {
		return
	}
	p := d.curProgram
	if p == nil {
		d.log.Error("draw with no program bound")
		return
	}
	va := d.currentArray()
	if va.buf == nil || va.spec == nil {
		d.log.Error("draw with no vertex layout bound")
		return
	}
	if indexed && va.index == nil {
		d.log.Error("indexed draw with no index buffer bound")
		return
	}

	pipe, err := d.pipelineFor(p, va.spec, mode)
	if err != nil {
		// The draw cannot be expressed; drop it and report. Shader errors
		// were already surfaced at CreateProgram.
		d.log.Error("pipeline creation failed", slog.String("error", err.Error()))
		return
	}

	cmd := drawCmd{
		pipe:       pipe,
		bindLayout: p.bindLayout,
		uniform:    p.packBlock(nil),
		vbuf:       va.buf.handle,
		voff:       uint64(va.offset),
		first:      first,
		count:      count,
	}
	if indexed {
		cmd.ibuf = va.index.handle
	}
	d.draws = append(d.draws, cmd)
}

// Flush encodes and submits all recorded work, waiting for completion.
func (d *Device) Flush() {
	if err := d.submit(nil); err != nil {
		d.log.Error("flush failed", slog.String("error", err.Error()))
	}
}

// ReadPixels submits pending work and reads back an RGBA8 rectangle from
// the bound target.
func (d *Device) ReadPixels(x, y, w, h int) ([]byte, error) {
	target, err := d.currentTarget()
	if err != nil {
		return nil, err
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > target.width || y+h > target.height {
		return nil, fmt.Errorf("%w: (%d,%d)+%dx%d of %dx%d",
			ErrReadbackBounds, x, y, w, h, target.width, target.height)
	}

	var req readback
	req.target = target
	if err := d.submit(&req); err != nil {
		return nil, err
	}

	// Strip row padding and swizzle BGRA to RGBA while extracting the
	// requested rectangle.
	out := make([]byte, 4*w*h)
	for row := 0; row < h; row++ {
		src := req.data[(y+row)*req.alignedRow+4*x:]
		dst := out[4*w*row:]
		bgraToRGBA(dst[:4*w], src[:4*w])
	}
	return out, nil
}

// readback describes a texture-to-CPU copy appended to a submission.
type readback struct {
	target     *framebuffer
	alignedRow int
	data       []byte
}

// submit encodes the recorded pass (and optional readback copy) into one
// command buffer, submits it, and waits on a fence. Per-draw uniform
// buffers and bind groups live until the fence signals, as do orphaned
// buffer generations.
func (d *Device) submit(read *readback) error {
	if len(d.draws) == 0 && !d.hasClear && read == nil {
		return nil
	}

	target := read.targetOrNil()
	if target == nil {
		var err error
		target, err = d.currentTarget()
		if err != nil {
			return err
		}
	}

	encoder, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "batch_encoder",
	})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("batch_submit"); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}

	// Per-draw transient resources, destroyed after the fence wait.
	var uniformBufs []hal.Buffer
	var bindGroups []hal.BindGroup
	cleanup := func() {
		for _, bg := range bindGroups {
			d.hal.DestroyBindGroup(bg)
		}
		for _, ub := range uniformBufs {
			d.hal.DestroyBuffer(ub)
		}
	}

	if len(d.draws) > 0 || d.hasClear {
		loadOp := gputypes.LoadOpLoad
		clearValue := gputypes.Color{}
		if d.hasClear {
			loadOp = gputypes.LoadOpClear
			clearValue = d.clearColor
		}
		rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "batch_pass",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       target.view,
				LoadOp:     loadOp,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: clearValue,
			}},
		})

		for i := range d.draws {
			cmd := &d.draws[i]
			ub, bg, err := d.drawResources(cmd)
			if err != nil {
				rp.End()
				encoder.DiscardEncoding()
				cleanup()
				return err
			}
			uniformBufs = append(uniformBufs, ub)
			bindGroups = append(bindGroups, bg)

			rp.SetPipeline(cmd.pipe)
			rp.SetBindGroup(0, bg, nil)
			rp.SetVertexBuffer(0, cmd.vbuf, cmd.voff)
			if cmd.ibuf != nil {
				rp.SetIndexBuffer(cmd.ibuf, gputypes.IndexFormatUint32, 0)
				rp.DrawIndexed(uint32(cmd.count), 1, uint32(cmd.first), 0, 0)
			} else {
				rp.Draw(uint32(cmd.count), 1, uint32(cmd.first), 0)
			}
		}
		rp.End()
	}

	var staging hal.Buffer
	if read != nil {
		staging, err = d.encodeReadback(encoder, read)
		if err != nil {
			encoder.DiscardEncoding()
			cleanup()
			return err
		}
		defer d.hal.DestroyBuffer(staging)
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		cleanup()
		return fmt.Errorf("native: end encoding: %w", err)
	}
	defer d.hal.FreeCommandBuffer(cmdBuf)

	fence, err := d.hal.CreateFence()
	if err != nil {
		cleanup()
		return fmt.Errorf("native: create fence: %w", err)
	}
	defer d.hal.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		cleanup()
		return fmt.Errorf("native: submit: %w", err)
	}
	ok, err := d.hal.Wait(fence, 1, submitTimeout)
	if err != nil || !ok {
		cleanup()
		return fmt.Errorf("native: wait for device: ok=%v err=%w", ok, err)
	}

	if read != nil {
		read.data = make([]byte, uint64(read.alignedRow)*uint64(read.target.height))
		if err := d.queue.ReadBuffer(staging, 0, read.data); err != nil {
			cleanup()
			return fmt.Errorf("native: readback: %w", err)
		}
	}

	cleanup()
	for _, h := range d.retired {
		d.hal.DestroyBuffer(h)
	}
	d.retired = d.retired[:0]
	d.draws = d.draws[:0]
	d.hasClear = false
	return nil
}

// drawResources builds the transient uniform buffer and bind group one
// recorded draw needs.
func (d *Device) drawResources(cmd *drawCmd) (hal.Buffer, hal.BindGroup, error) {
	ub, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "batch_draw_uniform",
		Size:  uint64(len(cmd.uniform)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("native: create uniform buffer: %w", err)
	}
	d.queue.WriteBuffer(ub, 0, cmd.uniform)

	bg, err := d.hal.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "batch_draw_bind",
		Layout: cmd.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: ub.NativeHandle(), Offset: 0, Size: uint64(len(cmd.uniform)),
			}},
		},
	})
	if err != nil {
		d.hal.DestroyBuffer(ub)
		return nil, nil, fmt.Errorf("native: create bind group: %w", err)
	}
	return ub, bg, nil
}

// encodeReadback appends the target-to-staging copy to the encoder,
// bracketed by the layout transitions texture copies require on explicit
// backends.
func (d *Device) encodeReadback(encoder hal.CommandEncoder, read *readback) (hal.Buffer, error) {
	w, h := uint32(read.target.width), uint32(read.target.height)
	read.alignedRow = alignRow(int(w) * 4)

	staging, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "batch_staging",
		Size:  uint64(read.alignedRow) * uint64(h),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: read.target.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(read.target.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(read.alignedRow), RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: read.target.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: read.target.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})
	return staging, nil
}

func (r *readback) targetOrNil() *framebuffer {
	if r == nil {
		return nil
	}
	return r.target
}

// alignRow rounds a row pitch up to the copy alignment.
func alignRow(bytesPerRow int) int {
	return (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

// bgraToRGBA swizzles BGRA8 pixels into RGBA8.
func bgraToRGBA(dst, src []byte) {
	for i := 0; i+3 < len(src); i += 4 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		dst[i+3] = src[i+3]
	}
}
