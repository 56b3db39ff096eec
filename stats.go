// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import "fmt"

// FrameStats summarizes the device work one frame produced.
type FrameStats struct {
	// Frame is the monotonically increasing frame number.
	Frame uint64

	// DrawCalls is the number of draw submissions issued.
	DrawCalls int

	// Vertices is the total vertex count covered by those draws.
	Vertices int

	// UniformApplies counts uniform-state uploads (per-frame constants,
	// snapshots, pick colors).
	UniformApplies int

	// Records is the number of batch records issued.
	Records int
}

// String returns a human-readable one-line summary.
func (s FrameStats) String() string {
	return fmt.Sprintf("Frame[#%d, %d draws, %d vertices, %d uniform applies, %d records]",
		s.Frame, s.DrawCalls, s.Vertices, s.UniformApplies, s.Records)
}
