// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import "testing"

func TestPickColorRoundTrip(t *testing.T) {
	for id := NodeID(0); id <= MaxNodeID; id++ {
		r, g, b := EncodePickColor(id)
		got := DecodePickColor(r, g, b)
		if got != id {
			t.Fatalf("DecodePickColor(EncodePickColor(%d)) = %d", id, got)
		}
	}
}

func TestPickColorZeroIsBlack(t *testing.T) {
	r, g, b := EncodePickColor(0)
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("EncodePickColor(0) = (%d,%d,%d), want black", r, g, b)
	}
}

func TestPickColorHighBits(t *testing.T) {
	// Channel payloads sit in the high bits so 6-bit framebuffers and
	// dithering cannot disturb them.
	r, g, b := EncodePickColor(MaxNodeID)
	for _, c := range []uint8{r, g, b} {
		if c&0b11 != 0 {
			t.Errorf("channel %08b has low bits set", c)
		}
	}
}

func TestDecodePickColorIgnoresLowBits(t *testing.T) {
	r, g, b := EncodePickColor(12345)
	// Simulate low-bit noise from a lossy framebuffer readback.
	if got := DecodePickColor(r|0b11, g|0b01, b|0b10); got != 12345 {
		t.Errorf("decode with noisy low bits = %d, want 12345", got)
	}
}
