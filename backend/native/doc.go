// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements gpucore.Device on top of gogpu/wgpu's HAL.
//
// The batching layer speaks an immediate-style device API (bind, set
// uniform, draw); WebGPU-class hardware wants pipelines, bind groups and
// recorded passes. This backend bridges the two: draws are recorded into
// a CPU-side command list and encoded into a single render pass per
// target when the device is flushed or read back. Render pipelines are
// created lazily per (program, vertex layout, topology) and cached.
//
// Shader programs are WGSL, compiled to SPIR-V through gogpu/naga. Each
// program's uniforms live in one uniform block at group 0, binding 0.
// Uniform slots map to the block's fields in the order they are resolved
// by UniformSlot, so the WGSL struct must declare its fields in that same
// order; scalar and vector slots occupy one vec4 field, matrix slots one
// mat4x4. Set every slot once before the program's first draw so the
// block layout is complete when the first draw is recorded.
package native
