// Package composite builds the pseudo-colour images fed to the segmentation
// model and the per-FOV multi-channel stacks used for cropping.
package composite

import (
	"errors"
	"fmt"

	"cellcrops/internal/models"
)

// ErrShapeMismatch is returned when input planes disagree in shape
var ErrShapeMismatch = errors.New("composite: planes differ in shape")

// Synthesize builds a 3-plane composite from four scans. The reference marker
// is added into every output plane:
//
//	plane 0 = b + reference
//	plane 1 = c + reference
//	plane 2 = structural + reference
//
// Sums are taken in uint32 and saturate at models.MaxIntensity.
func Synthesize(reference, b, c, structural models.Plane) (models.Stack, error) {
	for _, p := range []models.Plane{b, c, structural} {
		if !reference.SameShape(p) {
			return models.Stack{}, fmt.Errorf("%w: %dx%d vs %dx%d",
				ErrShapeMismatch, reference.Rows, reference.Cols, p.Rows, p.Cols)
		}
	}
	for _, p := range []models.Plane{reference, b, c, structural} {
		if len(p.Pix) != p.Rows*p.Cols {
			return models.Stack{}, fmt.Errorf("%w: %d pixels in a %dx%d buffer",
				ErrShapeMismatch, len(p.Pix), p.Rows, p.Cols)
		}
	}

	out := models.NewStack(reference.Rows, reference.Cols, 3)
	for i, ref := range reference.Pix {
		r := uint32(ref)
		out.Pix[i*3] = saturate(uint32(b.Pix[i]) + r)
		out.Pix[i*3+1] = saturate(uint32(c.Pix[i]) + r)
		out.Pix[i*3+2] = saturate(uint32(structural.Pix[i]) + r)
	}
	return out, nil
}

func saturate(v uint32) uint16 {
	if v > models.MaxIntensity {
		return models.MaxIntensity
	}
	return uint16(v)
}

// Widen8 maps an 8-bit value onto the 16-bit working domain
func Widen8(v uint8) uint16 {
	return uint16(v) * models.WidenFactor
}
