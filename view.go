// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import (
	"github.com/chewxy/math32"
)

// View is a 2D camera: a world-space origin mapped to the viewport center
// and a zoom factor (world units to pixels).
type View struct {
	// Origin is the world-space point at the viewport center.
	OriginX, OriginY float32

	// Zoom scales world units to pixels. 1 means one unit per pixel;
	// values <= 0 are treated as 1.
	Zoom float32
}

// CenterOn moves the view origin to the given world point.
func (v *View) CenterOn(x, y float32) {
	v.OriginX, v.OriginY = x, y
}

// FitBounds positions and zooms the view so the world-space rectangle
// fills as much of a width-by-height viewport as possible while staying
// fully visible.
func (v *View) FitBounds(minX, minY, maxX, maxY float32, width, height int) {
	v.OriginX = (minX + maxX) / 2
	v.OriginY = (minY + maxY) / 2
	w, h := maxX-minX, maxY-minY
	if w <= 0 || h <= 0 || width <= 0 || height <= 0 {
		v.Zoom = 1
		return
	}
	v.Zoom = math32.Min(float32(width)/w, float32(height)/h)
}

// zoom returns the effective zoom with the <= 0 guard applied.
func (v View) zoom() float32 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// WorldToScreen maps a world-space point to viewport pixels.
func (v View) WorldToScreen(x, y float32, width, height int) (float32, float32) {
	z := v.zoom()
	return (x-v.OriginX)*z + float32(width)/2,
		(y-v.OriginY)*z + float32(height)/2
}

// ScreenToWorld maps a viewport pixel to world space.
func (v View) ScreenToWorld(x, y float32, width, height int) (float32, float32) {
	z := v.zoom()
	return (x-float32(width)/2)/z + v.OriginX,
		(y-float32(height)/2)/z + v.OriginY
}

// ProjectionMatrix builds the column-major orthographic projection taking
// world space through the view transform to clip space, with Y growing
// downward to match pixel coordinates.
func (v View) ProjectionMatrix(width, height int) [16]float32 {
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	z := v.zoom()
	sx := 2 * z / float32(width)
	sy := -2 * z / float32(height)
	return [16]float32{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, 1, 0,
		-v.OriginX * sx, -v.OriginY * sy, 0, 1,
	}
}
