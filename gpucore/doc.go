// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the backend-neutral device abstraction used by
// the batch renderer.
//
// The package deliberately knows nothing about any concrete graphics API.
// Resources are addressed through opaque uint64 IDs and all operations go
// through the Device interface, so the batching layer can run against the
// native wgpu backend (backend/native) or a test double interchangeably.
//
// Three concerns live here:
//
//   - Device: the primitive operation set the batcher needs (buffer and
//     vertex-array lifecycle, mapped writes, program binding, framebuffers,
//     draws, pixel readback).
//   - VertexSpec: the immutable attribute schema describing one vertex's
//     byte structure. The set of specs used by a renderer is closed at
//     startup.
//   - Program: a linked shader program together with its uniform-slot
//     table, resolved once at link time by name.
package gpucore
