package compositor

import "stagecast/internal/core/domain"

// Raster helpers for the RGBA canvas. The compositor only needs fills, a
// scaling blit and translucent bars, so these are hand-rolled rather than
// pulling in an imaging dependency.

func newCanvas(width, height int) domain.VideoFrame {
	return domain.VideoFrame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*4),
	}
}

func fillRect(dst *domain.VideoFrame, r Rect, cr, cg, cb, ca byte) {
	x0, y0, x1, y1 := clampRect(r, dst.Width, dst.Height)
	for y := y0; y < y1; y++ {
		row := (y*dst.Width + x0) * 4
		for x := x0; x < x1; x++ {
			dst.Pix[row] = cr
			dst.Pix[row+1] = cg
			dst.Pix[row+2] = cb
			dst.Pix[row+3] = ca
			row += 4
		}
	}
}

// blendRect draws a translucent bar over the existing pixels; alpha is 0..255.
func blendRect(dst *domain.VideoFrame, r Rect, cr, cg, cb byte, alpha uint16) {
	x0, y0, x1, y1 := clampRect(r, dst.Width, dst.Height)
	inv := 255 - alpha
	for y := y0; y < y1; y++ {
		row := (y*dst.Width + x0) * 4
		for x := x0; x < x1; x++ {
			dst.Pix[row] = byte((uint16(cr)*alpha + uint16(dst.Pix[row])*inv) / 255)
			dst.Pix[row+1] = byte((uint16(cg)*alpha + uint16(dst.Pix[row+1])*inv) / 255)
			dst.Pix[row+2] = byte((uint16(cb)*alpha + uint16(dst.Pix[row+2])*inv) / 255)
			dst.Pix[row+3] = 255
			row += 4
		}
	}
}

// blitFrame scales src into the destination rectangle with nearest-neighbor
// sampling. Per-frame quality work (background blur/removal) happens upstream
// before frames reach the compositor.
func blitFrame(dst *domain.VideoFrame, src domain.VideoFrame, r Rect) {
	if src.Width <= 0 || src.Height <= 0 || len(src.Pix) < src.Width*src.Height*4 {
		return
	}

	x0, y0, x1, y1 := clampRect(r, dst.Width, dst.Height)
	if r.W <= 0 || r.H <= 0 {
		return
	}

	for y := y0; y < y1; y++ {
		sy := (y - r.Y) * src.Height / r.H
		if sy < 0 {
			sy = 0
		}
		if sy >= src.Height {
			sy = src.Height - 1
		}
		dstRow := (y*dst.Width + x0) * 4
		for x := x0; x < x1; x++ {
			sx := (x - r.X) * src.Width / r.W
			if sx < 0 {
				sx = 0
			}
			if sx >= src.Width {
				sx = src.Width - 1
			}
			srcOff := (sy*src.Width + sx) * 4
			copy(dst.Pix[dstRow:dstRow+4], src.Pix[srcOff:srcOff+4])
			dstRow += 4
		}
	}
}

// drawPlaceholder renders the neutral tile used for slots without a frame.
func drawPlaceholder(dst *domain.VideoFrame, r Rect) {
	fillRect(dst, r, 0x26, 0x28, 0x2e, 0xff)

	// Lighter block in the middle stands in for the avatar silhouette.
	inner := Rect{
		X: r.X + r.W/3,
		Y: r.Y + r.H/3,
		W: r.W / 3,
		H: r.H / 3,
	}
	fillRect(dst, inner, 0x44, 0x48, 0x52, 0xff)
}

func clampRect(r Rect, width, height int) (x0, y0, x1, y1 int) {
	x0, y0 = r.X, r.Y
	x1, y1 = r.X+r.W, r.Y+r.H
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	return
}
