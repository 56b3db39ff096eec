// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package batch turns a frequently-changing tree of draw requests into the
// smallest possible sequence of GPU draw calls.
//
// # Overview
//
// batch sits between a scene graph (which decides what to draw) and a
// device backend (which executes draws). Per frame it accumulates vertex
// data per shader, deduplicates per-draw uniform state, fuses consecutive
// same-state draws into single batch records, and issues the records in
// depth order with adjacent equal-state runs coalesced into one GPU call.
//
// Geometry comes in two flavors:
//
//   - Retained: drawn many frames without change. Pushed once into a
//     device-resident buffer owned by the BufferPool and re-issued from
//     there every frame.
//   - Streaming: rebuilt every frame. Written through the StreamRing, a
//     fixed-size orphaning ring buffer that avoids per-draw device
//     synchronization.
//
// # Quick start
//
//	dev, _ := native.New(provider)
//	r, _ := batch.NewRenderer(dev, batch.Options{})
//
//	acc, _ := batch.NewAccumulator(r, batch.AccumulatorConfig[LineVertex, LineUniforms]{
//		Program: prog,
//		Layout:  lineSpec,
//		Mode:    gpucore.DrawLines,
//		Capture: captureLineState,
//		Order:   orderLineState,
//		Apply:   applyLineState,
//	})
//
//	r.SetTraverser(sceneRoot)
//	_, err := r.RenderFrame(batch.TargetScreen, 800, 600)
//
// During traversal the scene calls r.BeginNode followed by acc.Draw for
// each visible node; everything else — batching, uniform dedup, sorting,
// buffer management — happens inside RenderFrame.
//
// # Concurrency
//
// All batching runs on one rendering goroutine; nothing in this package is
// safe for concurrent use except SetLogger and the continuous-render
// watchdog, which only touches its own state.
package batch
