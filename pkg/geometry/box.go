package geometry

// Box is a rectangular region in [y0, x0, y1, x1] order. Detector
// output is interpreted in raster pixel space, not normalized.
type Box struct {
	Y0 float64 `json:"y0"`
	X0 float64 `json:"x0"`
	Y1 float64 `json:"y1"`
	X1 float64 `json:"x1"`
}

// FromSlice builds a Box from a [y0, x0, y1, x1] slice. Returns false
// when the slice has the wrong length.
func FromSlice(v []float64) (Box, bool) {
	if len(v) != 4 {
		return Box{}, false
	}
	return Box{Y0: v[0], X0: v[1], Y1: v[2], X1: v[3]}, true
}

// Slice returns the box in [y0, x0, y1, x1] order.
func (b Box) Slice() []float64 {
	return []float64{b.Y0, b.X0, b.Y1, b.X1}
}

// Denormalize scales a box from the 0..1000 model grid to pixels.
func (b Box) Denormalize(width, height int) Box {
	return Box{
		Y0: b.Y0 / 1000.0 * float64(height),
		X0: b.X0 / 1000.0 * float64(width),
		Y1: b.Y1 / 1000.0 * float64(height),
		X1: b.X1 / 1000.0 * float64(width),
	}
}

// Clamp constrains the box to the image bounds.
func (b Box) Clamp(width, height int) Box {
	return Box{
		Y0: clamp(b.Y0, 0, float64(height)),
		X0: clamp(b.X0, 0, float64(width)),
		Y1: clamp(b.Y1, 0, float64(height)),
		X1: clamp(b.X1, 0, float64(width)),
	}
}

// Valid reports whether the box has positive area.
func (b Box) Valid() bool {
	return b.Y1 > b.Y0 && b.X1 > b.X0
}

// Width returns the horizontal extent.
func (b Box) Width() float64 { return b.X1 - b.X0 }

// Height returns the vertical extent.
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
