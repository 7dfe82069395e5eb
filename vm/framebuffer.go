package vm

import "github.com/pixelvm-project/pixelvm/isa"

// drawPixel writes one palette index into the back buffer. Out-of-range
// coordinates are silently discarded, no wrap; colours above 255 are
// clamped at write time. Caller must hold v.mu.
func (v *VM) drawPixel(x, y, color int32) {
	if x < 0 || x >= isa.DisplayWidth || y < 0 || y >= isa.DisplayHeight {
		return
	}
	index := x*isa.DisplayWidth + y
	v.back[index] = clampColor(color)
}

// drawRect fills the half-open rectangle [x, x+w) x [y, y+h) by iterating
// individual draws; pixels that land outside the display are dropped one
// at a time rather than clipping the rectangle as a whole.
func (v *VM) drawRect(x, y, w, h, color int32) {
	for dx := x; dx < x+w; dx++ {
		for dy := y; dy < y+h; dy++ {
			v.drawPixel(dx, dy, color)
		}
	}
}

// clearBack zeroes the back buffer. Caller must hold v.mu.
func (v *VM) clearBack() {
	for i := range v.back {
		v.back[i] = 0
	}
}

// render publishes the back buffer as the new front buffer and clears the
// back buffer, so draws after a publish start from a blank frame. Caller
// must hold v.mu.
func (v *VM) render() {
	published := v.back
	v.front.Store(&published)
	v.clearBack()
}

func clampColor(c int32) byte {
	if c < 0 {
		return 0
	}
	if c > 255 {
		return 255
	}
	return byte(c)
}
